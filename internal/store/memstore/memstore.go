// Package memstore is an in-memory Store used by tests and the -store=mem
// development mode. Writes fan full snapshots out to live subscribers
// synchronously, which makes cross-stream ordering races easy to reproduce
// in tests by interleaving writes.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"crewdeck/internal/domain"
	"crewdeck/internal/store"
	crewdeck_errors "crewdeck/pkg/errors"

	"github.com/google/uuid"
)

// Store implements store.Store entirely in memory.
type Store struct {
	mu sync.Mutex

	// messages keyed by "chan:<id>" or "thread:<id>", ascending createdAt
	messages map[string][]domain.RawDoc
	threads  map[string]domain.Thread
	// bySource maps "<channelID>/<messageID>" to a thread id
	bySource map[string]string
	profiles map[string]domain.RawDoc
	// cursors keyed by "<uid>/<threadID>" (thread) or "<uid>/c/<channelID>"
	cursors map[string]domain.ReadCursor

	msgSubs       map[string]map[int]chan []domain.RawDoc
	threadSubs    map[string]map[int]chan []domain.Thread
	threadFilters map[int]threadFilter
	profileSubs   map[string]map[int]chan domain.RawDoc
	cursorSubs    map[string]map[int]chan *domain.ReadCursor
	nextSub       int
	closed        bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		messages:    make(map[string][]domain.RawDoc),
		threads:     make(map[string]domain.Thread),
		bySource:    make(map[string]string),
		profiles:    make(map[string]domain.RawDoc),
		cursors:     make(map[string]domain.ReadCursor),
		msgSubs:     make(map[string]map[int]chan []domain.RawDoc),
		threadSubs:  make(map[string]map[int]chan []domain.Thread),
		profileSubs: make(map[string]map[int]chan domain.RawDoc),
		cursorSubs:  make(map[string]map[int]chan *domain.ReadCursor),
	}
}

// Close cancels every live subscription.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, subs := range s.msgSubs {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, subs := range s.threadSubs {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, subs := range s.profileSubs {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, subs := range s.cursorSubs {
		for _, ch := range subs {
			close(ch)
		}
	}
	s.msgSubs = map[string]map[int]chan []domain.RawDoc{}
	s.threadSubs = map[string]map[int]chan []domain.Thread{}
	s.profileSubs = map[string]map[int]chan domain.RawDoc{}
	s.cursorSubs = map[string]map[int]chan *domain.ReadCursor{}
}

func chanKey(channelID string) string  { return "chan:" + channelID }
func threadKey(threadID string) string { return "thread:" + threadID }
func sourceKey(channelID, messageID string) string {
	return channelID + "/" + messageID
}
func cursorKey(uid, threadID string) string        { return uid + "/" + threadID }
func channelCursorKey(uid, channelID string) string { return uid + "/c/" + channelID }
func channelThreadsKey(serverID, channelID string) string {
	return serverID + "/" + channelID
}

// snapshot channels are buffered; a full buffer drops the stalest snapshot
// since every emission carries complete state.
func push[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func (s *Store) SubscribeChannelMessages(ctx context.Context, channelID string, limit int) (*store.MessageSub, error) {
	return s.subscribeMessages(chanKey(channelID), limit)
}

func (s *Store) SubscribeThreadMessages(ctx context.Context, threadID string, limit int) (*store.MessageSub, error) {
	return s.subscribeMessages(threadKey(threadID), limit)
}

func (s *Store) subscribeMessages(key string, limit int) (*store.MessageSub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, crewdeck_errors.ErrStoreClosed
	}
	ch := make(chan []domain.RawDoc, 16)
	id := s.nextSub
	s.nextSub++
	if s.msgSubs[key] == nil {
		s.msgSubs[key] = make(map[int]chan []domain.RawDoc)
	}
	s.msgSubs[key][id] = ch
	push(ch, s.tailLocked(key, limit))
	sub := store.NewSub[[]domain.RawDoc](ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.msgSubs[key]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
		}
	})
	return sub, nil
}

// tailLocked deep-clones every doc it emits. Snapshots outlive the lock and
// mutateMessage edits the stored maps in place, so an aliased doc would race
// any consumer still reading a delivered snapshot.
func (s *Store) tailLocked(key string, limit int) []domain.RawDoc {
	msgs := s.messages[key]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.RawDoc, len(msgs))
	for i, doc := range msgs {
		out[i] = cloneDoc(doc)
	}
	return out
}

func (s *Store) SubscribeChannelThreads(ctx context.Context, serverID, channelID string) (*store.ThreadSub, error) {
	return s.subscribeThreads(func(t domain.Thread) bool {
		return t.ServerID == serverID && t.ChannelID == channelID
	})
}

func (s *Store) SubscribeServerThreads(ctx context.Context, serverID string) (*store.ThreadSub, error) {
	return s.subscribeThreads(func(t domain.Thread) bool {
		return t.ServerID == serverID
	})
}

type threadFilter func(domain.Thread) bool

// thread subscriptions are stored under a synthetic key per subscriber since
// each carries its own filter.
type threadWatch struct {
	ch     chan []domain.Thread
	filter threadFilter
}

func (s *Store) subscribeThreads(filter threadFilter) (*store.ThreadSub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, crewdeck_errors.ErrStoreClosed
	}
	ch := make(chan []domain.Thread, 16)
	id := s.nextSub
	s.nextSub++
	if s.threadSubs["all"] == nil {
		s.threadSubs["all"] = make(map[int]chan []domain.Thread)
	}
	s.threadSubs["all"][id] = ch
	if s.threadFilters == nil {
		s.threadFilters = make(map[int]threadFilter)
	}
	s.threadFilters[id] = filter
	push(ch, s.threadsLocked(filter))
	sub := store.NewSub[[]domain.Thread](ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.threadSubs["all"]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				delete(s.threadFilters, id)
				close(c)
			}
		}
	})
	return sub, nil
}

func (s *Store) threadsLocked(filter threadFilter) []domain.Thread {
	var out []domain.Thread
	for _, t := range s.threads {
		if filter(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) notifyThreadsLocked() {
	for id, ch := range s.threadSubs["all"] {
		push(ch, s.threadsLocked(s.threadFilters[id]))
	}
}

func (s *Store) SubscribeProfile(ctx context.Context, uid string) (*store.ProfileSub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, crewdeck_errors.ErrStoreClosed
	}
	ch := make(chan domain.RawDoc, 8)
	id := s.nextSub
	s.nextSub++
	if s.profileSubs[uid] == nil {
		s.profileSubs[uid] = make(map[int]chan domain.RawDoc)
	}
	s.profileSubs[uid][id] = ch
	if doc, ok := s.profiles[uid]; ok {
		push(ch, cloneDoc(doc))
	}
	sub := store.NewSub[domain.RawDoc](ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.profileSubs[uid]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
		}
	})
	return sub, nil
}

func (s *Store) SubscribeReadCursor(ctx context.Context, uid, threadID string) (*store.CursorSub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, crewdeck_errors.ErrStoreClosed
	}
	key := cursorKey(uid, threadID)
	ch := make(chan *domain.ReadCursor, 8)
	id := s.nextSub
	s.nextSub++
	if s.cursorSubs[key] == nil {
		s.cursorSubs[key] = make(map[int]chan *domain.ReadCursor)
	}
	s.cursorSubs[key][id] = ch
	if c, ok := s.cursors[key]; ok {
		cc := c
		push(ch, &cc)
	} else {
		push(ch, (*domain.ReadCursor)(nil))
	}
	sub := store.NewSub[*domain.ReadCursor](ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.cursorSubs[key]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
		}
	})
	return sub, nil
}

func (s *Store) ThreadBySourceMessage(ctx context.Context, channelID, messageID string) (domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySource[sourceKey(channelID, messageID)]
	if !ok {
		return domain.Thread{}, crewdeck_errors.ErrNotFound
	}
	return s.threads[id], nil
}

func (s *Store) ThreadByID(ctx context.Context, id string) (domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return domain.Thread{}, crewdeck_errors.ErrNotFound
	}
	return t, nil
}

func (s *Store) MessageByID(ctx context.Context, channelID, id string) (domain.RawDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.messages[chanKey(channelID)] {
		if docID(doc) == id {
			return cloneDoc(doc), nil
		}
	}
	return nil, crewdeck_errors.ErrNotFound
}

func (s *Store) ChannelMessagesBefore(ctx context.Context, channelID string, before int64, limit int) ([]domain.RawDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var older []domain.RawDoc
	for _, doc := range s.messages[chanKey(channelID)] {
		if docCreatedAt(doc) < before {
			older = append(older, doc)
		}
	}
	if limit > 0 && len(older) > limit {
		older = older[len(older)-limit:]
	}
	out := make([]domain.RawDoc, len(older))
	for i, doc := range older {
		out[i] = cloneDoc(doc)
	}
	return out, nil
}

func (s *Store) SendChannelMessage(ctx context.Context, channelID string, doc domain.RawDoc) (string, error) {
	return s.appendMessage(chanKey(channelID), doc)
}

func (s *Store) SendThreadMessage(ctx context.Context, threadID string, doc domain.RawDoc) (string, error) {
	id, err := s.appendMessage(threadKey(threadID), doc)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if t, ok := s.threads[threadID]; ok {
		t.LastMessageAt = docCreatedAt(s.lastLocked(threadKey(threadID)))
		t.MessageCount++
		s.threads[threadID] = t
		s.notifyThreadsLocked()
	}
	s.mu.Unlock()
	return id, nil
}

func (s *Store) lastLocked(key string) domain.RawDoc {
	msgs := s.messages[key]
	if len(msgs) == 0 {
		return domain.RawDoc{}
	}
	return msgs[len(msgs)-1]
}

func (s *Store) appendMessage(key string, doc domain.RawDoc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", crewdeck_errors.ErrStoreClosed
	}
	doc = cloneDoc(doc)
	id := docID(doc)
	if id == "" {
		id = uuid.NewString()
		doc["id"] = id
	}
	if docCreatedAt(doc) == 0 {
		doc["createdAt"] = float64(time.Now().UnixMilli())
	}
	s.messages[key] = append(s.messages[key], doc)
	sort.SliceStable(s.messages[key], func(i, j int) bool {
		return docCreatedAt(s.messages[key][i]) < docCreatedAt(s.messages[key][j])
	})
	for _, ch := range s.msgSubs[key] {
		push(ch, s.tailLocked(key, 0))
	}
	return id, nil
}

func (s *Store) CreateThread(ctx context.Context, t domain.Thread) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", crewdeck_errors.ErrStoreClosed
	}
	// createdFromMessageId is unique per channel; a second create converges
	// on the first thread instead of duplicating it.
	if existing, ok := s.bySource[sourceKey(t.ChannelID, t.CreatedFromMessageID)]; ok {
		return existing, nil
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	if t.Status == "" {
		t.Status = domain.ThreadActive
	}
	s.threads[t.ID] = t
	s.bySource[sourceKey(t.ChannelID, t.CreatedFromMessageID)] = t.ID
	s.notifyThreadsLocked()
	return t.ID, nil
}

// ArchiveThread soft-archives a thread. Threads are never hard-deleted.
func (s *Store) ArchiveThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crewdeck_errors.ErrStoreClosed
	}
	t, ok := s.threads[id]
	if !ok {
		return crewdeck_errors.ErrNotFound
	}
	t.Status = domain.ThreadArchived
	t.ArchivedAt = time.Now().UnixMilli()
	s.threads[id] = t
	s.notifyThreadsLocked()
	return nil
}

func (s *Store) SetReadCursor(ctx context.Context, uid, threadID string, c domain.ReadCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crewdeck_errors.ErrStoreClosed
	}
	key := cursorKey(uid, threadID)
	s.cursors[key] = c
	for _, ch := range s.cursorSubs[key] {
		cc := c
		push(ch, &cc)
	}
	return nil
}

func (s *Store) SetChannelCursor(ctx context.Context, uid, channelID string, c domain.ReadCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crewdeck_errors.ErrStoreClosed
	}
	s.cursors[channelCursorKey(uid, channelID)] = c
	return nil
}

// ChannelCursor is a test hook exposing the committed channel marker.
func (s *Store) ChannelCursor(uid, channelID string) (domain.ReadCursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[channelCursorKey(uid, channelID)]
	return c, ok
}

// SetProfile merges a partial profile doc and notifies profile subscribers.
// Profile writes belong to the account screens, not this engine; the method
// exists for seeding and tests.
func (s *Store) SetProfile(ctx context.Context, uid string, doc domain.RawDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crewdeck_errors.ErrStoreClosed
	}
	merged := s.profiles[uid]
	if merged == nil {
		merged = domain.RawDoc{"uid": uid}
	}
	for k, v := range doc {
		merged[k] = v
	}
	s.profiles[uid] = merged
	for _, ch := range s.profileSubs[uid] {
		push(ch, cloneDoc(merged))
	}
	return nil
}

func (s *Store) ToggleReaction(ctx context.Context, channelID, messageID, emoji, uid string) error {
	return s.mutateMessage(chanKey(channelID), messageID, func(doc domain.RawDoc) {
		store.ToggleReactionDoc(doc, emoji, uid)
	})
}

func (s *Store) SubmitVote(ctx context.Context, channelID, messageID, optionID, uid string) error {
	return s.mutateMessage(chanKey(channelID), messageID, func(doc domain.RawDoc) {
		store.SetVoteDoc(doc, optionID, uid)
	})
}

func (s *Store) SubmitFormResponse(ctx context.Context, channelID, messageID, uid string, values map[string]string) error {
	return s.mutateMessage(chanKey(channelID), messageID, func(doc domain.RawDoc) {
		store.SetFormResponseDoc(doc, uid, values)
	})
}

func (s *Store) mutateMessage(key, messageID string, mutate func(domain.RawDoc)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crewdeck_errors.ErrStoreClosed
	}
	for _, doc := range s.messages[key] {
		if docID(doc) == messageID {
			mutate(doc)
			for _, ch := range s.msgSubs[key] {
				push(ch, s.tailLocked(key, 0))
			}
			return nil
		}
	}
	return crewdeck_errors.ErrNotFound
}

func docID(doc domain.RawDoc) string        { return store.DocID(doc) }
func docCreatedAt(doc domain.RawDoc) int64  { return store.DocCreatedAt(doc) }
func cloneDoc(doc domain.RawDoc) domain.RawDoc { return store.CloneDoc(doc) }
