// Package cursors tracks the viewer's own read markers for every visible
// thread and owns the debounced commit path.
package cursors

import (
	"context"
	"sync"
	"time"

	"crewdeck/internal/domain"
	"crewdeck/internal/store"
	"crewdeck/pkg/logger"
)

// DefaultDebounce is the settle delay between the last message-stream update
// and the cursor commit.
const DefaultDebounce = 650 * time.Millisecond

// Tracker holds one live cursor subscription per visible thread, deduped by
// thread id, and computes unread state by comparing cursor timestamps to
// thread last-activity timestamps. Commits are debounced and dropped when
// the viewer has navigated away or signed out by the time the timer fires,
// and are clamped monotonic within the session.
type Tracker struct {
	st       store.Store
	log      *logger.Logger
	uid      string
	debounce time.Duration

	mu        sync.Mutex
	ctx       context.Context
	subs      map[string]*store.CursorSub
	cursors   map[string]*domain.ReadCursor
	committed map[string]domain.ReadCursor
	timers    map[string]*time.Timer
	signedOut bool

	// stillViewing arbitrates commit ownership: the session reports whether
	// this thread is still open in the viewer that scheduled the commit.
	stillViewing func(threadID string) bool
	onChange     func()
}

// NewTracker builds a tracker for one signed-in user.
func NewTracker(ctx context.Context, st store.Store, log *logger.Logger, uid string, debounce time.Duration) *Tracker {
	if log == nil {
		log = logger.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Tracker{
		st:        st,
		log:       log,
		uid:       uid,
		debounce:  debounce,
		ctx:       ctx,
		subs:      map[string]*store.CursorSub{},
		cursors:   map[string]*domain.ReadCursor{},
		committed: map[string]domain.ReadCursor{},
		timers:    map[string]*time.Timer{},
	}
}

// OnChange registers the listener fired when any cursor snapshot lands.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// StillViewing registers the session callback consulted before a debounced
// commit fires.
func (t *Tracker) StillViewing(fn func(threadID string) bool) {
	t.mu.Lock()
	t.stillViewing = fn
	t.mu.Unlock()
}

// Attach subscribes to the viewer's read marker for threadID. Attaching an
// already tracked thread is a no-op.
func (t *Tracker) Attach(threadID string) {
	if threadID == "" {
		return
	}
	t.mu.Lock()
	if _, ok := t.subs[threadID]; ok || t.signedOut {
		t.mu.Unlock()
		return
	}
	// reserve before the remote call so a concurrent Attach dedups
	t.subs[threadID] = nil
	t.mu.Unlock()

	sub, err := t.st.SubscribeReadCursor(t.ctx, t.uid, threadID)
	if err != nil {
		t.log.Errorf("read cursor subscription for %s failed: %v", threadID, err)
		t.mu.Lock()
		delete(t.subs, threadID)
		t.mu.Unlock()
		return
	}
	t.mu.Lock()
	t.subs[threadID] = sub
	t.mu.Unlock()

	go func() {
		for c := range sub.C {
			t.mu.Lock()
			t.cursors[threadID] = c
			fn := t.onChange
			t.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
		if err := sub.Err(); err != nil {
			// self-detach and drop the cached value; no endless retry
			t.log.Errorf("read cursor subscription for %s errored: %v", threadID, err)
			t.mu.Lock()
			delete(t.subs, threadID)
			delete(t.cursors, threadID)
			t.mu.Unlock()
		}
	}()
}

// Sync reconciles tracked threads against the live thread list: attaches the
// new ones, detaches the gone ones so subscriptions cannot leak.
func (t *Tracker) Sync(liveIDs []string) {
	live := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = struct{}{}
	}

	t.mu.Lock()
	var gone []string
	for id := range t.subs {
		if _, ok := live[id]; !ok {
			gone = append(gone, id)
		}
	}
	t.mu.Unlock()

	for _, id := range gone {
		t.Detach(id)
	}
	for _, id := range liveIDs {
		t.Attach(id)
	}
}

// Detach cancels the subscription and any pending commit for threadID.
func (t *Tracker) Detach(threadID string) {
	t.mu.Lock()
	sub := t.subs[threadID]
	delete(t.subs, threadID)
	delete(t.cursors, threadID)
	if timer, ok := t.timers[threadID]; ok {
		timer.Stop()
		delete(t.timers, threadID)
	}
	t.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Unread reports whether threadID has activity after the viewer's marker.
func (t *Tracker) Unread(threadID string, lastActivity int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.Unread(lastActivity, t.cursors[threadID])
}

// ScheduleCommit (re)arms the debounced commit of the viewer's marker for
// threadID at (at, messageID). Each call restarts the settle timer.
func (t *Tracker) ScheduleCommit(threadID string, at int64, messageID string) {
	if threadID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signedOut {
		return
	}
	if timer, ok := t.timers[threadID]; ok {
		timer.Stop()
	}
	t.timers[threadID] = time.AfterFunc(t.debounce, func() {
		t.commit(threadID, at, messageID)
	})
}

// CancelCommit drops a pending commit, e.g. when the viewer closes the
// thread before the timer settles.
func (t *Tracker) CancelCommit(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[threadID]; ok {
		timer.Stop()
		delete(t.timers, threadID)
	}
}

func (t *Tracker) commit(threadID string, at int64, messageID string) {
	t.mu.Lock()
	delete(t.timers, threadID)
	if t.signedOut {
		t.mu.Unlock()
		return
	}
	viewing := t.stillViewing
	t.mu.Unlock()

	// skipped when the viewer has navigated away by settle time
	if viewing != nil && !viewing(threadID) {
		return
	}

	t.mu.Lock()
	floor := t.committed[threadID]
	next := floor.Advance(at, messageID)
	if next == floor && floor.LastReadAt > 0 {
		// regression; never move a cursor backward in-session
		t.mu.Unlock()
		return
	}
	t.committed[threadID] = next
	t.mu.Unlock()

	if err := t.st.SetReadCursor(t.ctx, t.uid, threadID, next); err != nil {
		t.log.Errorf("commit read cursor for %s: %v", threadID, err)
	}
}

// Committed exposes the session's monotonic floor for a thread. Zero value
// when nothing was committed yet.
func (t *Tracker) Committed(threadID string) domain.ReadCursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed[threadID]
}

// SignOut drops every pending commit and blocks future ones.
func (t *Tracker) SignOut() {
	t.mu.Lock()
	t.signedOut = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()
}

// Dispose cancels every subscription and timer.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	subs := t.subs
	t.subs = map[string]*store.CursorSub{}
	t.cursors = map[string]*domain.ReadCursor{}
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			sub.Cancel()
		}
	}
}
