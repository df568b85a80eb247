package domain

import (
	"encoding/json"
	"fmt"

	crewdeck_errors "crewdeck/pkg/errors"
)

// RawDoc is a raw document as delivered by the remote store. The store is
// duck-typed; this file is the one place raw shapes become canonical types.
type RawDoc map[string]any

// Normalize decodes a raw store record into a canonical Message. A record
// without an id is rejected. The message type is taken from the explicit tag
// when present, otherwise inferred from the payload shape (file > poll >
// form > url > text). A missing author surfaces as a placeholder rather than
// an error so one bad record cannot poison a batch.
func Normalize(doc RawDoc) (Message, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Message{}, fmt.Errorf("encode raw record: %w", err)
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode record: %w", err)
	}
	if m.ID == "" {
		return Message{}, fmt.Errorf("record has no id: %w", crewdeck_errors.ErrInvalidInput)
	}
	if m.AuthorID == "" {
		m.AuthorID = UnknownAuthorID
	}
	m.Type = resolveType(m)
	return m, nil
}

// UnknownAuthorID is the placeholder author for records whose author id was
// missing or could not be decoded.
const UnknownAuthorID = "unknown"

func resolveType(m Message) MessageType {
	switch m.Type {
	case MessageText, MessageGif, MessageFile, MessagePoll, MessageForm:
		return m.Type
	}
	switch {
	case m.File != nil:
		return MessageFile
	case m.Poll != nil:
		return MessagePoll
	case m.Form != nil:
		return MessageForm
	case m.URL != "":
		return MessageGif
	default:
		return MessageText
	}
}

// Doc encodes a Message back into the raw shape the store accepts.
func (m Message) Doc() RawDoc {
	raw, err := json.Marshal(m)
	if err != nil {
		return RawDoc{}
	}
	var doc RawDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return RawDoc{}
	}
	return doc
}
