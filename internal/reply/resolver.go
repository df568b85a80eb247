// Package reply builds and unwinds the "replying-to" reference chains that
// determine thread membership.
package reply

import (
	"fmt"

	"crewdeck/internal/domain"
)

// DefaultPreviewClipLen is the maximum rune length of a reply preview snippet
// when the caller passes no explicit limit.
const DefaultPreviewClipLen = 140

// BuildReference captures a reply reference from the message being replied
// to. Returns nil if the message has no id. The parent chain of the source is
// deep-cloned so the captured chain is independent of later mutation. clipLen
// bounds the preview snippet; zero or negative selects the default.
func BuildReference(m domain.Message, clipLen int) *domain.ReplyReference {
	if m.ID == "" {
		return nil
	}
	return &domain.ReplyReference{
		MessageID:  m.ID,
		AuthorID:   m.AuthorID,
		AuthorName: m.DisplayName,
		Preview:    Preview(m, clipLen),
		Type:       m.Type,
		Parent:     m.ReplyTo.Clone(),
	}
}

// Preview renders the type-specific snippet shown above a reply, clipped to
// clipLen runes (zero or negative selects the default).
func Preview(m domain.Message, clipLen int) string {
	if clipLen <= 0 {
		clipLen = DefaultPreviewClipLen
	}
	switch m.Type {
	case domain.MessageGif:
		return "GIF"
	case domain.MessageFile:
		name := ""
		if m.File != nil {
			name = m.File.Name
		}
		return fmt.Sprintf("File: %s", clip(name, clipLen-6))
	case domain.MessagePoll:
		q := ""
		if m.Poll != nil {
			q = m.Poll.Question
		}
		return fmt.Sprintf("Poll: %s", clip(q, clipLen-6))
	case domain.MessageForm:
		t := ""
		if m.Form != nil {
			t = m.Form.Title
		}
		return fmt.Sprintf("Form: %s", clip(t, clipLen-6))
	default:
		return clip(m.Text, clipLen)
	}
}

// ResolveRootID walks parent links to the earliest message id of the chain.
// Returns "" for a nil reference.
func ResolveRootID(ref *domain.ReplyReference) string {
	if ref == nil {
		return ""
	}
	for ref.Parent != nil {
		ref = ref.Parent
	}
	return ref.MessageID
}

// BelongsToThread reports whether a message's own reply chain resolves to
// exactly rootID. A message with no chain belongs to no thread.
func BelongsToThread(m domain.Message, rootID string) bool {
	if rootID == "" || m.ReplyTo == nil {
		return false
	}
	return ResolveRootID(m.ReplyTo) == rootID
}

func clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
