package domain

// MessageType is the closed set of renderable message kinds.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageGif  MessageType = "gif"
	MessageFile MessageType = "file"
	MessagePoll MessageType = "poll"
	MessageForm MessageType = "form"
)

// MentionKind distinguishes member mentions from role mentions.
type MentionKind string

const (
	MentionMember MentionKind = "member"
	MentionRole   MentionKind = "role"
)

// Mention represents a @-mention embedded in a message.
type Mention struct {
	UID    string      `json:"uid"`
	Handle string      `json:"handle,omitempty"`
	Label  string      `json:"label,omitempty"`
	Kind   MentionKind `json:"kind"`
}

// FileInfo describes an uploaded attachment.
type FileInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// PollOption is one selectable answer of a poll.
type PollOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Poll carries a question, its options and the vote map (uid -> option id).
type Poll struct {
	Question string            `json:"question"`
	Options  []PollOption      `json:"options"`
	Votes    map[string]string `json:"votes,omitempty"`
}

// FormField is one input of an inline form message.
type FormField struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Form carries a title, its fields and submitted responses (uid -> field id -> value).
type Form struct {
	Title     string                       `json:"title"`
	Fields    []FormField                  `json:"fields"`
	Responses map[string]map[string]string `json:"responses,omitempty"`
}

// ReplyReference is one link of a reply chain. Parent points toward the thread
// root; it is nil at the root. Constructed at send time and never mutated.
type ReplyReference struct {
	MessageID  string          `json:"messageId"`
	AuthorID   string          `json:"authorId,omitempty"`
	AuthorName string          `json:"authorName,omitempty"`
	Preview    string          `json:"preview,omitempty"`
	Type       MessageType     `json:"type,omitempty"`
	Parent     *ReplyReference `json:"parent,omitempty"`
}

// Clone returns a deep copy of the chain so later mutation of the source
// cannot reach a captured reference.
func (r *ReplyReference) Clone() *ReplyReference {
	if r == nil {
		return nil
	}
	c := *r
	c.Parent = r.Parent.Clone()
	return &c
}

// Message is the canonical message shape every component consumes. Timestamps
// are unix milliseconds; CreatedAt is authoritative for display order, not
// arrival order. Immutable once created except Reactions and poll/form
// response maps.
type Message struct {
	ID          string              `json:"id"`
	AuthorID    string              `json:"authorId"`
	DisplayName string              `json:"displayName,omitempty"`
	PhotoURL    string              `json:"photoURL,omitempty"`
	CreatedAt   int64               `json:"createdAt"`
	Type        MessageType         `json:"type"`
	Text        string              `json:"text,omitempty"`
	URL         string              `json:"url,omitempty"`
	File        *FileInfo           `json:"file,omitempty"`
	Poll        *Poll               `json:"poll,omitempty"`
	Form        *Form               `json:"form,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	Mentions    []Mention           `json:"mentions,omitempty"`
	ReplyTo     *ReplyReference     `json:"replyTo,omitempty"`
}
