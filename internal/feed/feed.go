// Package feed streams the live tail of a channel's messages with backward
// pagination and channel read-marker advancement.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crewdeck/internal/domain"
	"crewdeck/internal/profiles"
	"crewdeck/internal/store"
	"crewdeck/pkg/logger"
)

// Feed owns at most one live channel-message subscription at a time. Opening
// a different channel synchronously detaches the previous subscription and
// bumps a generation token; a late snapshot from the old subscription carries
// a stale generation and is dropped, so stale callbacks can never mutate the
// current channel's state.
type Feed struct {
	st       store.Store
	profiles *profiles.Cache
	log      *logger.Logger
	uid      string
	pageSize int

	mu        sync.Mutex
	gen       uint64
	channelID string
	sub       *store.MessageSub
	tail      []domain.Message
	older     []domain.Message
	watched   map[string]struct{}
	cursor    domain.ReadCursor
	active    bool

	// onUpdate fires outside the lock after each applied snapshot.
	onUpdate func(channelID string, msgs []domain.Message)
}

// New builds a feed for one viewer.
func New(st store.Store, pc *profiles.Cache, log *logger.Logger, uid string, pageSize int) *Feed {
	if log == nil {
		log = logger.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Feed{
		st:       st,
		profiles: pc,
		log:      log,
		uid:      uid,
		pageSize: pageSize,
		watched:  map[string]struct{}{},
	}
}

// OnUpdate registers the snapshot listener.
func (f *Feed) OnUpdate(fn func(channelID string, msgs []domain.Message)) {
	f.mu.Lock()
	f.onUpdate = fn
	f.mu.Unlock()
}

// Open attaches the live tail of channelID. Re-opening the current channel is
// a no-op. The previous subscription is detached before the new one attaches.
func (f *Feed) Open(ctx context.Context, channelID string) error {
	f.mu.Lock()
	if f.channelID == channelID && f.sub != nil {
		f.mu.Unlock()
		return nil
	}
	f.detachLocked()
	f.gen++
	gen := f.gen
	f.channelID = channelID
	f.tail = nil
	f.older = nil
	f.active = true
	f.cursor = domain.ReadCursor{}
	f.mu.Unlock()

	sub, err := f.st.SubscribeChannelMessages(ctx, channelID, f.pageSize)
	if err != nil {
		return fmt.Errorf("open channel %s: %w", channelID, err)
	}

	f.mu.Lock()
	// the channel may have been switched again while we were attaching
	if f.gen != gen {
		f.mu.Unlock()
		sub.Cancel()
		return nil
	}
	f.sub = sub
	f.mu.Unlock()

	go func() {
		for snap := range sub.C {
			f.apply(ctx, gen, channelID, snap)
		}
		if err := sub.Err(); err != nil {
			f.log.Errorf("channel %s message stream errored: %v", channelID, err)
		}
	}()
	return nil
}

func (f *Feed) apply(ctx context.Context, gen uint64, channelID string, snap []domain.RawDoc) {
	msgs := f.normalizeBatch(channelID, snap)

	f.mu.Lock()
	if f.gen != gen {
		// stale snapshot from a detached subscription
		f.mu.Unlock()
		return
	}
	f.tail = msgs
	f.watchAuthorsLocked(msgs)
	out := f.messagesLocked()
	fn := f.onUpdate
	advance, cursor := f.advanceCursorLocked(msgs)
	f.mu.Unlock()

	if advance {
		if err := f.st.SetChannelCursor(ctx, f.uid, channelID, cursor); err != nil {
			f.log.Errorf("advance channel marker for %s: %v", channelID, err)
		}
	}
	if fn != nil {
		fn(channelID, out)
	}
}

// normalizeBatch converts raw records best-effort: a fault on one record is
// logged and skipped, the rest of the batch proceeds.
func (f *Feed) normalizeBatch(channelID string, snap []domain.RawDoc) []domain.Message {
	msgs := make([]domain.Message, 0, len(snap))
	for _, doc := range snap {
		m, err := domain.Normalize(doc)
		if err != nil {
			f.log.Warnf("skipping malformed record in channel %s: %v", channelID, err)
			continue
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt < msgs[j].CreatedAt })
	return msgs
}

func (f *Feed) watchAuthorsLocked(msgs []domain.Message) {
	if f.profiles == nil {
		return
	}
	for _, m := range msgs {
		if _, ok := f.watched[m.AuthorID]; ok {
			continue
		}
		f.watched[m.AuthorID] = struct{}{}
		f.profiles.Watch(m.AuthorID)
	}
}

func (f *Feed) advanceCursorLocked(msgs []domain.Message) (bool, domain.ReadCursor) {
	if !f.active || len(msgs) == 0 {
		return false, f.cursor
	}
	newest := msgs[len(msgs)-1]
	next := f.cursor.Advance(newest.CreatedAt, newest.ID)
	if next == f.cursor {
		return false, f.cursor
	}
	f.cursor = next
	return true, next
}

func (f *Feed) messagesLocked() []domain.Message {
	seen := make(map[string]struct{}, len(f.older)+len(f.tail))
	out := make([]domain.Message, 0, len(f.older)+len(f.tail))
	for _, m := range f.older {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range f.tail {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Messages returns the loaded messages in creation order.
func (f *Feed) Messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messagesLocked()
}

// ChannelID returns the currently open channel, "" when closed.
func (f *Feed) ChannelID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelID
}

// LoadOlder fetches the page preceding the oldest loaded message and prepends
// it. On an exhausted history it returns an empty page and leaves the feed
// untouched.
func (f *Feed) LoadOlder(ctx context.Context) ([]domain.Message, error) {
	f.mu.Lock()
	channelID := f.channelID
	gen := f.gen
	var before int64
	if msgs := f.messagesLocked(); len(msgs) > 0 {
		before = msgs[0].CreatedAt
	}
	f.mu.Unlock()
	if channelID == "" {
		return nil, nil
	}
	if before == 0 {
		return nil, nil
	}

	docs, err := f.st.ChannelMessagesBefore(ctx, channelID, before, f.pageSize)
	if err != nil {
		return nil, fmt.Errorf("load older messages for %s: %w", channelID, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	page := f.normalizeBatch(channelID, docs)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		return nil, nil
	}
	f.older = append(page, f.older...)
	f.watchAuthorsLocked(page)
	return page, nil
}

// SetActive toggles whether the viewer is currently looking at this channel;
// read-marker advancement only happens while active.
func (f *Feed) SetActive(active bool) {
	f.mu.Lock()
	f.active = active
	f.mu.Unlock()
}

// Close synchronously detaches the live subscription and releases watched
// profiles.
func (f *Feed) Close() {
	f.mu.Lock()
	f.detachLocked()
	f.gen++
	f.channelID = ""
	f.tail = nil
	f.older = nil
	f.mu.Unlock()
}

func (f *Feed) detachLocked() {
	if f.sub != nil {
		f.sub.Cancel()
		f.sub = nil
	}
	if f.profiles != nil {
		for uid := range f.watched {
			f.profiles.Release(uid)
		}
	}
	f.watched = map[string]struct{}{}
}
