package domain

// ThreadStatus is the thread lifecycle state as stored.
type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadArchived ThreadStatus = "archived"
)

// Thread represents a thread document. CreatedFromMessageID is unique per
// channel; it is the idempotency key for find-or-create.
type Thread struct {
	ID                   string       `json:"id"`
	ServerID             string       `json:"serverId"`
	ChannelID            string       `json:"channelId"`
	CreatedBy            string       `json:"createdBy"`
	CreatedFromMessageID string       `json:"createdFromMessageId"`
	Name                 string       `json:"name"`
	MemberUIDs           []string     `json:"memberUids,omitempty"`
	MemberCount          int          `json:"memberCount"`
	MaxMembers           int          `json:"maxMembers"`
	TTLHours             int          `json:"ttlHours"`
	Status               ThreadStatus `json:"status"`
	LastMessageAt        int64        `json:"lastMessageAt"`
	MessageCount         int          `json:"messageCount"`
	CreatedAt            int64        `json:"createdAt"`
	ArchivedAt           int64        `json:"archivedAt,omitempty"`
	AutoArchiveAt        int64        `json:"autoArchiveAt,omitempty"`
}

// ThreadRefState tags a ThreadRef.
type ThreadRefState int

const (
	RefNone ThreadRefState = iota
	RefPending
	RefResolved
)

// ThreadRef is the tagged variant tracking a thread through creation:
// none -> pending (create issued, LocalID holds the returned id) ->
// resolved (confirmed by a live snapshot).
type ThreadRef struct {
	State   ThreadRefState
	LocalID string
	Thread  *Thread
}

// PendingRef returns a pending reference for a just-issued create call.
func PendingRef(localID string) ThreadRef {
	return ThreadRef{State: RefPending, LocalID: localID}
}

// ResolvedRef returns a resolved reference.
func ResolvedRef(t Thread) ThreadRef {
	return ThreadRef{State: RefResolved, Thread: &t}
}

// Reconcile resolves a pending reference against a live thread snapshot. A
// pending ref resolves when the snapshot contains its local id; a resolved
// ref is refreshed from the snapshot so later mutations (archive, activity
// bumps) flow through. Pure function, no side effects.
func Reconcile(ref ThreadRef, snapshot []Thread) ThreadRef {
	switch ref.State {
	case RefPending:
		for i := range snapshot {
			if snapshot[i].ID == ref.LocalID {
				return ResolvedRef(snapshot[i])
			}
		}
		return ref
	case RefResolved:
		for i := range snapshot {
			if snapshot[i].ID == ref.Thread.ID {
				return ResolvedRef(snapshot[i])
			}
		}
		return ref
	default:
		return ref
	}
}

// ThreadPreviewMeta is the derived per-root-message badge state. Never
// persisted; recomputed whenever the thread list or read cursors change.
type ThreadPreviewMeta struct {
	ThreadID string       `json:"threadId"`
	Count    int          `json:"count"`
	LastAt   int64        `json:"lastAt"`
	Status   ThreadStatus `json:"status"`
	Name     string       `json:"name"`
	Unread   bool         `json:"unread"`
	Archived bool         `json:"archived"`
}
