// Package viewers implements the three independent thread viewers: the
// inline panel, the mobile sheet and the detached floating window.
package viewers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crewdeck/internal/cursors"
	"crewdeck/internal/domain"
	"crewdeck/internal/store"
	"crewdeck/internal/uploads"
	"crewdeck/pkg/logger"
)

// Kind names a viewer surface.
type Kind string

const (
	Inline   Kind = "inline"
	Mobile   Kind = "mobile"
	Floating Kind = "floating"
)

// UploadScope maps a viewer surface onto its pending-upload scope.
func (k Kind) UploadScope() domain.UploadScope {
	switch k {
	case Floating:
		return domain.ScopeFloatingThread
	case Mobile, Inline:
		return domain.ScopeThread
	default:
		return domain.ScopeThread
	}
}

// Position is the floating window's free-form screen position.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Viewer independently owns one thread message stream, its own reply target,
// its own pending-upload scope and its own read-commit scheduling. Attach
// calls for the already-attached (channel, thread) pair are idempotent
// no-ops; switching threads detaches the previous stream before attaching,
// and a late snapshot from the old stream is dropped by generation.
type Viewer struct {
	kind    Kind
	st      store.Store
	log     *logger.Logger
	uid     string
	cursors *cursors.Tracker
	uploads *uploads.Tracker

	mu        sync.Mutex
	gen       uint64
	channelID string
	threadID  string
	sub       *store.MessageSub
	messages  []domain.Message
	reply     *domain.Message
	pos       Position
	dragging  bool

	onUpdate func(kind Kind)
}

// New builds a closed viewer.
func New(kind Kind, st store.Store, log *logger.Logger, uid string, ct *cursors.Tracker, ut *uploads.Tracker) *Viewer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Viewer{kind: kind, st: st, log: log, uid: uid, cursors: ct, uploads: ut}
}

// OnUpdate registers the snapshot listener.
func (v *Viewer) OnUpdate(fn func(kind Kind)) {
	v.mu.Lock()
	v.onUpdate = fn
	v.mu.Unlock()
}

// Kind returns the viewer surface.
func (v *Viewer) Kind() Kind { return v.kind }

// Attach opens the thread's message stream. A redundant attach for the same
// (channelID, threadID) is a no-op.
func (v *Viewer) Attach(ctx context.Context, channelID, threadID string) error {
	v.mu.Lock()
	if v.channelID == channelID && v.threadID == threadID && v.sub != nil {
		v.mu.Unlock()
		return nil
	}
	v.detachLocked()
	v.gen++
	gen := v.gen
	v.channelID = channelID
	v.threadID = threadID
	v.mu.Unlock()

	sub, err := v.st.SubscribeThreadMessages(ctx, threadID, 0)
	if err != nil {
		return fmt.Errorf("attach %s viewer to thread %s: %w", v.kind, threadID, err)
	}
	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		sub.Cancel()
		return nil
	}
	v.sub = sub
	v.mu.Unlock()

	go func() {
		for snap := range sub.C {
			v.apply(gen, threadID, snap)
		}
		if err := sub.Err(); err != nil {
			v.log.Errorf("%s viewer stream for thread %s errored: %v", v.kind, threadID, err)
		}
	}()
	return nil
}

func (v *Viewer) apply(gen uint64, threadID string, snap []domain.RawDoc) {
	msgs := make([]domain.Message, 0, len(snap))
	for _, doc := range snap {
		m, err := domain.Normalize(doc)
		if err != nil {
			v.log.Warnf("skipping malformed record in thread %s: %v", threadID, err)
			continue
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt < msgs[j].CreatedAt })

	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		return
	}
	v.messages = msgs
	fn := v.onUpdate
	v.mu.Unlock()

	// each stream update re-arms the settle timer for the read commit
	if len(msgs) > 0 && v.cursors != nil {
		newest := msgs[len(msgs)-1]
		v.cursors.ScheduleCommit(threadID, newest.CreatedAt, newest.ID)
	}
	if fn != nil {
		fn(v.kind)
	}
}

// Close detaches the stream, clears the reply target and pending uploads,
// and cancels the read-commit timer.
func (v *Viewer) Close() {
	v.mu.Lock()
	threadID := v.threadID
	v.detachLocked()
	v.gen++
	v.channelID = ""
	v.threadID = ""
	v.messages = nil
	v.reply = nil
	v.mu.Unlock()

	if threadID != "" && v.cursors != nil {
		v.cursors.CancelCommit(threadID)
	}
	if v.uploads != nil {
		v.uploads.ClearScope(v.kind.UploadScope())
	}
}

func (v *Viewer) detachLocked() {
	if v.sub != nil {
		v.sub.Cancel()
		v.sub = nil
	}
}

// Open reports whether a thread is attached.
func (v *Viewer) Open() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.threadID != ""
}

// ThreadID returns the attached thread, "" when closed.
func (v *Viewer) ThreadID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.threadID
}

// ChannelID returns the parent channel of the attached thread.
func (v *Viewer) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID
}

// Messages returns the thread messages in creation order.
func (v *Viewer) Messages() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// SetReply stores the message being replied to.
func (v *Viewer) SetReply(m domain.Message) {
	v.mu.Lock()
	mm := m
	v.reply = &mm
	v.mu.Unlock()
}

// ConsumeReply takes the reply target; it is consumed exactly once per send.
func (v *Viewer) ConsumeReply() (domain.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reply == nil {
		return domain.Message{}, false
	}
	m := *v.reply
	v.reply = nil
	return m, true
}

// RestoreReply puts a consumed reply target back after a failed send so the
// user does not lose their context.
func (v *Viewer) RestoreReply(m domain.Message) {
	v.mu.Lock()
	if v.reply == nil {
		mm := m
		v.reply = &mm
	}
	v.mu.Unlock()
}

// ClearReply drops the reply target.
func (v *Viewer) ClearReply() {
	v.mu.Lock()
	v.reply = nil
	v.mu.Unlock()
}

// Reply returns the current reply target without consuming it.
func (v *Viewer) Reply() (domain.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reply == nil {
		return domain.Message{}, false
	}
	return *v.reply, true
}

// Suggestion returns the most recent message authored by someone other than
// the current viewer, seeding any assisted-reply affordance.
func (v *Viewer) Suggestion() (domain.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := len(v.messages) - 1; i >= 0; i-- {
		if v.messages[i].AuthorID != v.uid {
			return v.messages[i], true
		}
	}
	return domain.Message{}, false
}

// Focus marks the surface as the one the user is looking at and re-arms the
// read commit for its thread, so returning to an already-loaded viewer still
// marks the visible messages read.
func (v *Viewer) Focus() {
	v.mu.Lock()
	threadID := v.threadID
	var newest *domain.Message
	if len(v.messages) > 0 {
		m := v.messages[len(v.messages)-1]
		newest = &m
	}
	v.mu.Unlock()

	if threadID != "" && newest != nil && v.cursors != nil {
		v.cursors.ScheduleCommit(threadID, newest.CreatedAt, newest.ID)
	}
}

// StartDrag begins a pointer-captured move of the floating window.
func (v *Viewer) StartDrag() {
	v.mu.Lock()
	v.dragging = true
	v.mu.Unlock()
}

// DragBy moves the floating window by a pointer delta. Ignored while not
// dragging.
func (v *Viewer) DragBy(dx, dy int) {
	v.mu.Lock()
	if v.dragging {
		v.pos.X += dx
		v.pos.Y += dy
	}
	v.mu.Unlock()
}

// EndDrag releases the pointer capture.
func (v *Viewer) EndDrag() {
	v.mu.Lock()
	v.dragging = false
	v.mu.Unlock()
}

// Position returns the floating window position.
func (v *Viewer) Position() Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos
}
