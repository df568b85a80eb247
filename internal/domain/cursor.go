package domain

// ReadCursor is a per (user, thread-or-channel) marker of the last message
// considered seen. Last-write-wins; no merge logic.
type ReadCursor struct {
	LastReadAt    int64  `json:"lastReadAt"`
	LastMessageID string `json:"lastMessageId,omitempty"`
}

// Unread reports whether a thread with the given last activity timestamp has
// activity the cursor owner has not seen. A zero lastActivity means no
// activity at all, which is never unread.
func Unread(lastActivity int64, c *ReadCursor) bool {
	if lastActivity <= 0 {
		return false
	}
	return c == nil || c.LastReadAt < lastActivity
}

// Advance returns the cursor advanced to (at, messageID) if that is not a
// regression, otherwise the receiver unchanged. Cursors never move backward
// within a session.
func (c ReadCursor) Advance(at int64, messageID string) ReadCursor {
	if at < c.LastReadAt {
		return c
	}
	return ReadCursor{LastReadAt: at, LastMessageID: messageID}
}
