// Package threads tracks the live thread lists of a channel and a server and
// owns idempotent find-or-create-thread semantics keyed by source message id.
package threads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crewdeck/internal/domain"
	"crewdeck/internal/store"
	crewdeck_errors "crewdeck/pkg/errors"
	"crewdeck/pkg/logger"

	"github.com/google/uuid"
)

// Directory reconciles two live subscriptions: the per-channel thread list
// that drives the active chat view, and the per-server cross-channel index
// used only for sidebar previews. It tolerates the thread-list snapshot and
// the root message arriving in either order; a thread created locally is held
// as a pending ref until a snapshot confirms it.
type Directory struct {
	st  store.Store
	log *logger.Logger

	mu             sync.Mutex
	serverID       string
	channelID      string
	gen            uint64
	channelSub     *store.ThreadSub
	serverSub      *store.ThreadSub
	channelThreads []domain.Thread
	serverIndex    map[string][]domain.Thread
	// pending refs keyed by createdFromMessageId; the placeholder closes the
	// window where a second rapid click could create a duplicate thread
	pending map[string]domain.ThreadRef

	onChange func()
}

// NewDirectory builds a directory bound to a store.
func NewDirectory(st store.Store, log *logger.Logger) *Directory {
	if log == nil {
		log = logger.NewNop()
	}
	return &Directory{
		st:          st,
		log:         log,
		serverIndex: map[string][]domain.Thread{},
		pending:     map[string]domain.ThreadRef{},
	}
}

// OnChange registers the listener fired after every applied snapshot.
func (d *Directory) OnChange(fn func()) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// OpenServer attaches the cross-channel thread index for serverID.
func (d *Directory) OpenServer(ctx context.Context, serverID string) error {
	d.mu.Lock()
	if d.serverSub != nil && d.serverID == serverID {
		d.mu.Unlock()
		return nil
	}
	if d.serverSub != nil {
		d.serverSub.Cancel()
		d.serverSub = nil
	}
	d.serverID = serverID
	d.mu.Unlock()

	sub, err := d.st.SubscribeServerThreads(ctx, serverID)
	if err != nil {
		return fmt.Errorf("open server thread index %s: %w", serverID, err)
	}
	d.mu.Lock()
	d.serverSub = sub
	d.mu.Unlock()

	go func() {
		for snap := range sub.C {
			d.applyServer(snap)
		}
		if err := sub.Err(); err != nil {
			d.log.Errorf("server thread index %s errored: %v", serverID, err)
		}
	}()
	return nil
}

// OpenChannel attaches the per-channel thread list. The previous channel's
// subscription is detached first; a late snapshot from it is dropped by the
// generation check.
func (d *Directory) OpenChannel(ctx context.Context, channelID string) error {
	d.mu.Lock()
	if d.channelID == channelID && d.channelSub != nil {
		d.mu.Unlock()
		return nil
	}
	if d.channelSub != nil {
		d.channelSub.Cancel()
		d.channelSub = nil
	}
	d.gen++
	gen := d.gen
	d.channelID = channelID
	d.channelThreads = nil
	serverID := d.serverID
	d.mu.Unlock()

	sub, err := d.st.SubscribeChannelThreads(ctx, serverID, channelID)
	if err != nil {
		return fmt.Errorf("open channel thread list %s: %w", channelID, err)
	}
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		sub.Cancel()
		return nil
	}
	d.channelSub = sub
	d.mu.Unlock()

	go func() {
		for snap := range sub.C {
			d.applyChannel(gen, snap)
		}
		if err := sub.Err(); err != nil {
			d.log.Errorf("channel thread list %s errored: %v", channelID, err)
		}
	}()
	return nil
}

func (d *Directory) applyChannel(gen uint64, snap []domain.Thread) {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return
	}
	d.channelThreads = snap
	// resolve pendings confirmed by this snapshot
	for key, ref := range d.pending {
		next := domain.Reconcile(ref, snap)
		if next.State == domain.RefResolved {
			delete(d.pending, key)
		} else {
			d.pending[key] = next
		}
	}
	fn := d.onChange
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *Directory) applyServer(snap []domain.Thread) {
	index := map[string][]domain.Thread{}
	for _, t := range snap {
		index[t.ChannelID] = append(index[t.ChannelID], t)
	}
	d.mu.Lock()
	d.serverIndex = index
	fn := d.onChange
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Threads returns the current channel's live thread list.
func (d *Directory) Threads() []domain.Thread {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Thread, len(d.channelThreads))
	copy(out, d.channelThreads)
	return out
}

// ServerIndex returns the cross-channel sidebar index keyed by parent
// channel id.
func (d *Directory) ServerIndex() map[string][]domain.Thread {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][]domain.Thread, len(d.serverIndex))
	for k, v := range d.serverIndex {
		ts := make([]domain.Thread, len(v))
		copy(ts, v)
		out[k] = ts
	}
	return out
}

// ThreadByID looks a thread up in the live channel list.
func (d *Directory) ThreadByID(id string) (domain.Thread, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.channelThreads {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Thread{}, false
}

// ThreadByRoot looks a thread up by the root message it was spawned from.
func (d *Directory) ThreadByRoot(rootMessageID string) (domain.ThreadRef, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.channelThreads {
		if t.CreatedFromMessageID == rootMessageID {
			return domain.ResolvedRef(t), true
		}
	}
	if ref, ok := d.pending[rootMessageID]; ok {
		return ref, true
	}
	return domain.ThreadRef{}, false
}

// FindOrCreate returns the thread spawned from source, creating it exactly
// once. Lookup order: live local cache, then a point query against the
// store, then create. The returned ref may be pending; it resolves once the
// live subscription's snapshot includes the new thread. A failed create
// rolls the pending placeholder back to none.
func (d *Directory) FindOrCreate(ctx context.Context, source domain.Message, creator, name string) (domain.ThreadRef, error) {
	if source.ID == "" || creator == "" {
		return domain.ThreadRef{}, crewdeck_errors.ErrInvalidInput
	}
	d.mu.Lock()
	channelID := d.channelID
	serverID := d.serverID
	if channelID == "" {
		d.mu.Unlock()
		return domain.ThreadRef{}, crewdeck_errors.ErrNoActiveChannel
	}
	for _, t := range d.channelThreads {
		if t.CreatedFromMessageID == source.ID {
			d.mu.Unlock()
			return domain.ResolvedRef(t), nil
		}
	}
	if ref, ok := d.pending[source.ID]; ok {
		d.mu.Unlock()
		return ref, nil
	}
	// reserve the placeholder before any remote call so a second rapid
	// open-thread click finds it instead of issuing its own create
	placeholder := domain.PendingRef("")
	d.pending[source.ID] = placeholder
	d.mu.Unlock()

	if t, err := d.st.ThreadBySourceMessage(ctx, channelID, source.ID); err == nil {
		d.mu.Lock()
		delete(d.pending, source.ID)
		d.mu.Unlock()
		return domain.ResolvedRef(t), nil
	} else if err != crewdeck_errors.ErrNotFound {
		d.mu.Lock()
		delete(d.pending, source.ID)
		d.mu.Unlock()
		return domain.ThreadRef{}, fmt.Errorf("thread lookup for message %s: %w", source.ID, err)
	}

	now := time.Now().UnixMilli()
	t := domain.Thread{
		ID:                   uuid.NewString(),
		ServerID:             serverID,
		ChannelID:            channelID,
		CreatedBy:            creator,
		CreatedFromMessageID: source.ID,
		Name:                 name,
		MemberUIDs:           []string{creator},
		MemberCount:          1,
		Status:               domain.ThreadActive,
		LastMessageAt:        now,
		CreatedAt:            now,
	}
	id, err := d.st.CreateThread(ctx, t)
	if err != nil {
		// rollback to none: alert, no retry
		d.mu.Lock()
		delete(d.pending, source.ID)
		d.mu.Unlock()
		return domain.ThreadRef{}, fmt.Errorf("create thread from message %s: %w", source.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// the confirming snapshot may already have raced the create call home
	for _, existing := range d.channelThreads {
		if existing.ID == id {
			delete(d.pending, source.ID)
			return domain.ResolvedRef(existing), nil
		}
	}
	ref := domain.PendingRef(id)
	d.pending[source.ID] = ref
	return ref, nil
}

// Previews derives the per-root-message badge metas for the current channel.
// unread reports whether the viewer has unseen activity in a thread.
func (d *Directory) Previews(unread func(threadID string, lastAt int64) bool) map[string]domain.ThreadPreviewMeta {
	d.mu.Lock()
	ts := make([]domain.Thread, len(d.channelThreads))
	copy(ts, d.channelThreads)
	d.mu.Unlock()

	out := make(map[string]domain.ThreadPreviewMeta, len(ts))
	for _, t := range ts {
		meta := domain.ThreadPreviewMeta{
			ThreadID: t.ID,
			Count:    t.MessageCount,
			LastAt:   t.LastMessageAt,
			Status:   t.Status,
			Name:     t.Name,
			Archived: t.Status == domain.ThreadArchived,
		}
		if unread != nil {
			meta.Unread = unread(t.ID, t.LastMessageAt)
		}
		out[t.CreatedFromMessageID] = meta
	}
	return out
}

// Close detaches both subscriptions and clears all state.
func (d *Directory) Close() {
	d.mu.Lock()
	if d.channelSub != nil {
		d.channelSub.Cancel()
		d.channelSub = nil
	}
	if d.serverSub != nil {
		d.serverSub.Cancel()
		d.serverSub = nil
	}
	d.gen++
	d.channelID = ""
	d.channelThreads = nil
	d.serverIndex = map[string][]domain.Thread{}
	d.pending = map[string]domain.ThreadRef{}
	d.mu.Unlock()
}
