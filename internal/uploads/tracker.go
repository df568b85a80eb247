// Package uploads keeps the per-viewer optimistic upload entries with
// simulated progress layered over the real transfer callback.
package uploads

import (
	"strings"
	"sync"
	"time"

	"crewdeck/internal/domain"
	"crewdeck/pkg/logger"

	"github.com/google/uuid"
)

// DefaultTick is the fallback progress cadence.
const DefaultTick = 180 * time.Millisecond

// fallbackCap keeps simulated progress visibly short of completion.
const fallbackCap = 0.9

// Previewer issues revocable local preview handles for image files.
type Previewer interface {
	Preview(name string) (url string, release func(), ok bool)
}

// Tracker owns every pending upload across the three viewer scopes.
type Tracker struct {
	log       *logger.Logger
	tick      time.Duration
	previewer Previewer

	mu       sync.Mutex
	entries  map[string]*Handle
	onChange func()
}

// Handle controls a single registered upload.
type Handle struct {
	ID string

	t        *Tracker
	mu       sync.Mutex
	entry    domain.PendingUpload
	release  func()
	ticker   *time.Ticker
	stopTick chan struct{}
	stopOnce sync.Once
	finished bool
	realDone bool
}

// NewTracker builds an empty tracker.
func NewTracker(log *logger.Logger, tick time.Duration, previewer Previewer) *Tracker {
	if log == nil {
		log = logger.NewNop()
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Tracker{
		log:       log,
		tick:      tick,
		previewer: previewer,
		entries:   map[string]*Handle{},
	}
}

// OnChange registers the listener fired after any entry change.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Register creates an optimistic entry for a starting upload and returns its
// control handle. For image files a revocable preview handle is created; it
// is always released on Finish, success or failure.
func (t *Tracker) Register(uid string, f File, scope domain.UploadScope) *Handle {
	isImage := strings.HasPrefix(f.ContentType, "image/")
	h := &Handle{
		ID: uuid.NewString(),
		t:  t,
		entry: domain.PendingUpload{
			UID:         uid,
			Scope:       scope,
			Name:        f.Name,
			Size:        f.Size,
			ContentType: f.ContentType,
			IsImage:     isImage,
		},
		stopTick: make(chan struct{}),
	}
	h.entry.ID = h.ID
	if isImage && t.previewer != nil {
		if url, release, ok := t.previewer.Preview(f.Name); ok {
			h.entry.PreviewURL = url
			h.release = release
		}
	}

	t.mu.Lock()
	t.entries[h.ID] = h
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}

	h.ticker = time.NewTicker(t.tick)
	go h.fallbackLoop()
	return h
}

// fallbackLoop nudges progress upward for perceived responsiveness until a
// real near-complete signal arrives or the upload finishes.
func (h *Handle) fallbackLoop() {
	for {
		select {
		case <-h.stopTick:
			return
		case <-h.ticker.C:
			h.mu.Lock()
			if h.finished || h.realDone {
				h.mu.Unlock()
				return
			}
			if h.entry.Progress < fallbackCap {
				next := h.entry.Progress + (fallbackCap-h.entry.Progress)*0.2
				h.entry.Progress = next
				h.mu.Unlock()
				h.t.notify()
				continue
			}
			h.mu.Unlock()
		}
	}
}

// Update applies a real progress signal. Progress never moves backward; a
// signal at or above 0.99 cancels the fallback ticker.
func (h *Handle) Update(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	if p > h.entry.Progress {
		h.entry.Progress = p
	}
	stop := false
	if p >= 0.99 && !h.realDone {
		h.realDone = true
		stop = true
	}
	h.mu.Unlock()
	if stop {
		h.stopFallback()
	}
	h.t.notify()
}

// Finish removes the entry; on success progress snaps to 1.0 first. The
// preview handle is released on both paths. Calling Finish twice is a no-op
// on the second call.
func (h *Handle) Finish(ok bool) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	if ok {
		h.entry.Progress = 1.0
	}
	release := h.release
	h.release = nil
	h.mu.Unlock()

	h.stopFallback()
	if release != nil {
		release()
	}

	h.t.mu.Lock()
	delete(h.t.entries, h.ID)
	fn := h.t.onChange
	h.t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *Handle) stopFallback() {
	h.stopOnce.Do(func() {
		if h.ticker != nil {
			h.ticker.Stop()
		}
		close(h.stopTick)
	})
}

// Snapshot returns the handle's current entry.
func (h *Handle) Snapshot() domain.PendingUpload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entry
}

// List returns every pending entry in scope, registration order not
// guaranteed.
func (t *Tracker) List(scope domain.UploadScope) []domain.PendingUpload {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.PendingUpload
	for _, h := range t.entries {
		h.mu.Lock()
		if h.entry.Scope == scope {
			out = append(out, h.entry)
		}
		h.mu.Unlock()
	}
	return out
}

// ClearScope force-finishes every entry in scope; used when a viewer closes.
func (t *Tracker) ClearScope(scope domain.UploadScope) {
	t.mu.Lock()
	var victims []*Handle
	for _, h := range t.entries {
		h.mu.Lock()
		if h.entry.Scope == scope {
			victims = append(victims, h)
		}
		h.mu.Unlock()
	}
	t.mu.Unlock()
	for _, h := range victims {
		h.Finish(false)
	}
}

func (t *Tracker) notify() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
