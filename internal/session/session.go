// Package session wires the sync engine together: one Session per signed-in
// client owns every live subscription, the three thread viewers, the shared
// caches, and the full operation surface the surrounding UI calls into.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crewdeck/internal/config"
	"crewdeck/internal/cursors"
	"crewdeck/internal/domain"
	"crewdeck/internal/feed"
	"crewdeck/internal/profiles"
	"crewdeck/internal/reply"
	"crewdeck/internal/store"
	"crewdeck/internal/threads"
	"crewdeck/internal/uploads"
	"crewdeck/internal/viewers"
	crewdeck_errors "crewdeck/pkg/errors"
	"crewdeck/pkg/logger"

	"github.com/google/uuid"
)

// User identifies the authenticated viewer.
type User struct {
	UID         string
	DisplayName string
	PhotoURL    string
}

// Target names the composer a send-family call originates from.
type Target string

const (
	TargetChannel  Target = "channel"
	TargetThread   Target = "thread"
	TargetFloating Target = "floating"
)

// Session is the per-client controller. Every subscription handle lives
// inside one of its components; Dispose cancels them all, so state cannot
// leak across reconnects or multiple engine instances.
type Session struct {
	st       store.Store
	log      *logger.Logger
	user     User
	cfg      config.SyncConfig
	transfer uploads.Transfer

	ctx    context.Context
	cancel context.CancelFunc

	profiles *profiles.Cache
	feed     *feed.Feed
	dir      *threads.Directory
	cursors  *cursors.Tracker
	uploads  *uploads.Tracker

	inline   *viewers.Viewer
	mobile   *viewers.Viewer
	floating *viewers.Viewer

	mu           sync.Mutex
	serverID     string
	channelID    string
	mobileLayout bool
	channelReply *domain.Message
	disposed     bool
	onChange     func()
}

// New builds a session for one authenticated user. transfer and previewer
// may be nil, which disables uploads and image previews respectively.
func New(ctx context.Context, st store.Store, transfer uploads.Transfer, previewer uploads.Previewer, log *logger.Logger, user User, cfg config.SyncConfig) (*Session, error) {
	if user.UID == "" {
		return nil, crewdeck_errors.ErrNoAuthenticatedUser
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		st:       st,
		log:      log,
		user:     user,
		cfg:      cfg,
		transfer: transfer,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.profiles = profiles.NewCache(ctx, st, log)
	s.feed = feed.New(st, s.profiles, log, user.UID, cfg.PageSize)
	s.dir = threads.NewDirectory(st, log)
	s.cursors = cursors.NewTracker(ctx, st, log, user.UID, cfg.ReadDebounce)
	s.uploads = uploads.NewTracker(log, cfg.UploadTick, previewer)
	s.inline = viewers.New(viewers.Inline, st, log, user.UID, s.cursors, s.uploads)
	s.mobile = viewers.New(viewers.Mobile, st, log, user.UID, s.cursors, s.uploads)
	s.floating = viewers.New(viewers.Floating, st, log, user.UID, s.cursors, s.uploads)

	s.profiles.OnChange(func(string, uint64) { s.notify() })
	s.feed.OnUpdate(func(string, []domain.Message) { s.notify() })
	s.dir.OnChange(s.syncThreads)
	s.cursors.OnChange(s.notify)
	s.cursors.StillViewing(s.stillViewing)
	s.uploads.OnChange(s.notify)
	onViewer := func(viewers.Kind) { s.notify() }
	s.inline.OnUpdate(onViewer)
	s.mobile.OnUpdate(onViewer)
	s.floating.OnUpdate(onViewer)
	return s, nil
}

// OnChange registers the engine state listener the gateway pushes from.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	disposed := s.disposed
	s.mu.Unlock()
	if fn != nil && !disposed {
		fn()
	}
}

// Start attaches the per-server thread index; channel state comes later via
// PickChannel.
func (s *Session) Start(serverID string) error {
	s.mu.Lock()
	s.serverID = serverID
	s.mu.Unlock()
	return s.dir.OpenServer(s.ctx, serverID)
}

// PickChannel switches the active channel: the previous channel's
// subscriptions are synchronously detached before the new ones attach, and
// both inline-style viewers close since their threads belong to the old
// channel. The floating window follows the live thread list rules.
func (s *Session) PickChannel(channelID string) error {
	if channelID == "" {
		return crewdeck_errors.ErrInvalidInput
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return crewdeck_errors.ErrStoreClosed
	}
	prev := s.channelID
	s.channelID = channelID
	s.channelReply = nil
	s.mu.Unlock()

	if prev != channelID {
		s.inline.Close()
		s.mobile.Close()
	}
	if err := s.feed.Open(s.ctx, channelID); err != nil {
		return err
	}
	if err := s.dir.OpenChannel(s.ctx, channelID); err != nil {
		return err
	}
	s.notify()
	return nil
}

// syncThreads runs on every thread-list snapshot: read cursors follow the
// visible thread set, and the floating window closes itself when its thread
// is gone from the live list.
func (s *Session) syncThreads() {
	live := s.dir.Threads()
	ids := make([]string, 0, len(live))
	for _, t := range live {
		ids = append(ids, t.ID)
	}
	s.cursors.Sync(ids)

	if floatingID := s.floating.ThreadID(); floatingID != "" {
		found := false
		for _, id := range ids {
			if id == floatingID {
				found = true
				break
			}
		}
		if !found {
			s.floating.Close()
		}
	}
	s.notify()
}

// stillViewing gates the debounced read commit. The tracker is shared and
// keyed by thread id, so no viewer-level ownership question exists: the commit
// proceeds while any viewer still shows the thread and is skipped once the
// user has navigated away everywhere.
func (s *Session) stillViewing(threadID string) bool {
	for _, v := range []*viewers.Viewer{s.inline, s.mobile, s.floating} {
		if v.ThreadID() == threadID {
			return true
		}
	}
	return false
}

// activeViewer picks the surface OpenThread* attaches: the mobile sheet in a
// mobile layout, the inline panel otherwise.
func (s *Session) activeViewer() *viewers.Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mobileLayout {
		return s.mobile
	}
	return s.inline
}

// OpenThreadFromMessage opens (or creates) the thread rooted at the given
// message. The message's own reply chain determines the root; opening a
// reply deep in a chain lands in the same thread as opening the root.
func (s *Session) OpenThreadFromMessage(m domain.Message) (domain.ThreadRef, error) {
	s.mu.Lock()
	channelID := s.channelID
	s.mu.Unlock()
	if channelID == "" {
		return domain.ThreadRef{}, crewdeck_errors.ErrNoActiveChannel
	}
	if m.ID == "" {
		return domain.ThreadRef{}, crewdeck_errors.ErrInvalidInput
	}

	root := m
	if rootID := reply.ResolveRootID(m.ReplyTo); rootID != "" && rootID != m.ID {
		doc, err := s.st.MessageByID(s.ctx, channelID, rootID)
		if err != nil {
			return domain.ThreadRef{}, fmt.Errorf("hydrate root message %s: %w", rootID, err)
		}
		root, err = domain.Normalize(doc)
		if err != nil {
			return domain.ThreadRef{}, fmt.Errorf("decode root message %s: %w", rootID, err)
		}
	}

	ref, err := s.dir.FindOrCreate(s.ctx, root, s.user.UID, reply.Preview(root, s.cfg.PreviewClipLen))
	if err != nil {
		return domain.ThreadRef{}, err
	}
	threadID := refThreadID(ref)
	if threadID == "" {
		// create still in flight in another call; the pending ref resolves
		// via the thread-list snapshot
		return ref, nil
	}
	v := s.activeViewer()
	if err := v.Attach(s.ctx, channelID, threadID); err != nil {
		return ref, err
	}
	v.Focus()
	s.cursors.Attach(threadID)
	s.notify()
	return ref, nil
}

// OpenThreadByMessageID resolves a message id against the channel feed (or
// the store for messages paged out of the live window) and opens its thread.
func (s *Session) OpenThreadByMessageID(messageID string) (domain.ThreadRef, error) {
	s.mu.Lock()
	channelID := s.channelID
	s.mu.Unlock()
	if channelID == "" {
		return domain.ThreadRef{}, crewdeck_errors.ErrNoActiveChannel
	}
	for _, m := range s.feed.Messages() {
		if m.ID == messageID {
			return s.OpenThreadFromMessage(m)
		}
	}
	doc, err := s.st.MessageByID(s.ctx, channelID, messageID)
	if err != nil {
		return domain.ThreadRef{}, fmt.Errorf("hydrate message %s: %w", messageID, err)
	}
	m, err := domain.Normalize(doc)
	if err != nil {
		return domain.ThreadRef{}, fmt.Errorf("decode message %s: %w", messageID, err)
	}
	return s.OpenThreadFromMessage(m)
}

// OpenThreadFromSidebar opens a thread picked from the per-server sidebar
// index, switching channels first when needed (deep-link hydration goes
// through the store when the live lists do not know the thread yet).
func (s *Session) OpenThreadFromSidebar(threadID, parentChannelID string) error {
	if threadID == "" {
		return crewdeck_errors.ErrInvalidInput
	}
	s.mu.Lock()
	current := s.channelID
	s.mu.Unlock()
	if parentChannelID != "" && parentChannelID != current {
		if err := s.PickChannel(parentChannelID); err != nil {
			return err
		}
	}
	channelID := parentChannelID
	if channelID == "" {
		channelID = current
	}
	if channelID == "" {
		return crewdeck_errors.ErrNoActiveChannel
	}
	if _, ok := s.dir.ThreadByID(threadID); !ok {
		if _, err := s.st.ThreadByID(s.ctx, threadID); err != nil {
			return fmt.Errorf("hydrate thread %s: %w", threadID, err)
		}
	}
	v := s.activeViewer()
	if err := v.Attach(s.ctx, channelID, threadID); err != nil {
		return err
	}
	v.Focus()
	s.cursors.Attach(threadID)
	s.notify()
	return nil
}

// CloseThreadView closes the inline panel and the mobile sheet.
func (s *Session) CloseThreadView() {
	s.inline.Close()
	s.mobile.Close()
	s.notify()
}

// OpenThreadPopout detaches the inline thread into the floating window.
// Floating windows are a desktop-only affordance.
func (s *Session) OpenThreadPopout() error {
	s.mu.Lock()
	mobile := s.mobileLayout
	s.mu.Unlock()
	if mobile {
		return crewdeck_errors.ErrInvalidInput
	}
	channelID := s.inline.ChannelID()
	threadID := s.inline.ThreadID()
	if threadID == "" {
		return crewdeck_errors.ErrNoActiveThread
	}
	if err := s.floating.Attach(s.ctx, channelID, threadID); err != nil {
		return err
	}
	s.floating.Focus()
	s.inline.Close()
	s.notify()
	return nil
}

// CloseFloatingThread closes the floating window.
func (s *Session) CloseFloatingThread() {
	s.floating.Close()
	s.notify()
}

// SetMobileLayout flips the layout flag; entering a mobile layout closes the
// floating window.
func (s *Session) SetMobileLayout(mobile bool) {
	s.mu.Lock()
	s.mobileLayout = mobile
	s.mu.Unlock()
	if mobile {
		s.floating.Close()
	}
	s.notify()
}

// Viewer exposes a viewer surface for reply-target and focus calls.
func (s *Session) Viewer(kind viewers.Kind) *viewers.Viewer {
	switch kind {
	case viewers.Mobile:
		return s.mobile
	case viewers.Floating:
		return s.floating
	default:
		return s.inline
	}
}

// SetChannelReply sets the channel composer's reply target.
func (s *Session) SetChannelReply(m domain.Message) {
	s.mu.Lock()
	mm := m
	s.channelReply = &mm
	s.mu.Unlock()
	s.notify()
}

// ClearChannelReply drops the channel composer's reply target.
func (s *Session) ClearChannelReply() {
	s.mu.Lock()
	s.channelReply = nil
	s.mu.Unlock()
	s.notify()
}

// ChannelReply returns the channel composer's reply target.
func (s *Session) ChannelReply() (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelReply == nil {
		return domain.Message{}, false
	}
	return *s.channelReply, true
}

// LoadOlder pages the channel feed backward.
func (s *Session) LoadOlder() ([]domain.Message, error) {
	return s.feed.LoadOlder(s.ctx)
}

// Feed exposes the channel message feed.
func (s *Session) Feed() *feed.Feed { return s.feed }

// Directory exposes the thread directory.
func (s *Session) Directory() *threads.Directory { return s.dir }

// Cursors exposes the read cursor tracker.
func (s *Session) Cursors() *cursors.Tracker { return s.cursors }

// Uploads exposes the pending upload tracker.
func (s *Session) Uploads() *uploads.Tracker { return s.uploads }

// Profiles exposes the shared profile cache.
func (s *Session) Profiles() *profiles.Cache { return s.profiles }

// Previews derives the per-root-message thread badges for the active channel.
func (s *Session) Previews() map[string]domain.ThreadPreviewMeta {
	return s.dir.Previews(s.cursors.Unread)
}

// SetChannelVisible toggles whether the channel feed advances the channel
// read cursor as snapshots land.
func (s *Session) SetChannelVisible(visible bool) {
	s.feed.SetActive(visible)
}

// ViewerState is the wire snapshot of one thread surface.
type ViewerState struct {
	Open     bool                   `json:"open"`
	ThreadID string                 `json:"threadId,omitempty"`
	Messages []domain.Message       `json:"messages,omitempty"`
	Reply    *domain.Message        `json:"reply,omitempty"`
	Uploads  []domain.PendingUpload `json:"uploads,omitempty"`
	Position *viewers.Position      `json:"position,omitempty"`
}

// State is the full engine snapshot the gateway pushes to the client after
// every change notification.
type State struct {
	ChannelID      string                              `json:"channelId"`
	Messages       []domain.Message                    `json:"messages"`
	Threads        []domain.Thread                     `json:"threads"`
	ServerIndex    map[string][]domain.Thread          `json:"serverIndex"`
	Previews       map[string]domain.ThreadPreviewMeta `json:"previews"`
	ChannelReply   *domain.Message                     `json:"channelReply,omitempty"`
	ChannelUploads []domain.PendingUpload              `json:"channelUploads,omitempty"`
	Inline         ViewerState                         `json:"inline"`
	Mobile         ViewerState                         `json:"mobile"`
	Floating       ViewerState                         `json:"floating"`
	MobileLayout   bool                                `json:"mobileLayout"`
}

func (s *Session) viewerState(v *viewers.Viewer) ViewerState {
	vs := ViewerState{
		Open:     v.Open(),
		ThreadID: v.ThreadID(),
		Messages: v.Messages(),
		Uploads:  s.uploads.List(v.Kind().UploadScope()),
	}
	if r, ok := v.Reply(); ok {
		vs.Reply = &r
	}
	if v.Kind() == viewers.Floating && vs.Open {
		p := v.Position()
		vs.Position = &p
	}
	return vs
}

// State assembles the current engine snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	channelID := s.channelID
	mobileLayout := s.mobileLayout
	var channelReply *domain.Message
	if s.channelReply != nil {
		m := *s.channelReply
		channelReply = &m
	}
	s.mu.Unlock()

	return State{
		ChannelID:      channelID,
		Messages:       s.feed.Messages(),
		Threads:        s.dir.Threads(),
		ServerIndex:    s.dir.ServerIndex(),
		Previews:       s.Previews(),
		ChannelReply:   channelReply,
		ChannelUploads: s.uploads.List(domain.ScopeChannel),
		Inline:         s.viewerState(s.inline),
		Mobile:         s.viewerState(s.mobile),
		Floating:       s.viewerState(s.floating),
		MobileLayout:   mobileLayout,
	}
}

// Dispose cancels every live subscription, timer and pending upload owned by
// the session. Idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	s.cursors.SignOut()
	s.inline.Close()
	s.mobile.Close()
	s.floating.Close()
	s.feed.Close()
	s.dir.Close()
	s.cursors.Dispose()
	s.profiles.Dispose()
	s.cancel()
}

func refThreadID(ref domain.ThreadRef) string {
	switch ref.State {
	case domain.RefResolved:
		return ref.Thread.ID
	case domain.RefPending:
		return ref.LocalID
	default:
		return ""
	}
}

// target resolution -------------------------------------------------------

// sendTarget captures where a send lands and which reply target it consumes.
type sendTarget struct {
	channelID string
	threadID  string
	viewer    *viewers.Viewer
	scope     domain.UploadScope
}

func (s *Session) resolveTarget(target Target) (sendTarget, error) {
	s.mu.Lock()
	channelID := s.channelID
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return sendTarget{}, crewdeck_errors.ErrStoreClosed
	}

	switch target {
	case TargetChannel:
		if channelID == "" {
			return sendTarget{}, crewdeck_errors.ErrNoActiveChannel
		}
		return sendTarget{channelID: channelID, scope: domain.ScopeChannel}, nil
	case TargetThread:
		v := s.activeViewer()
		if v.ThreadID() == "" {
			return sendTarget{}, crewdeck_errors.ErrNoActiveThread
		}
		if err := s.checkNotArchived(v.ThreadID()); err != nil {
			return sendTarget{}, err
		}
		return sendTarget{channelID: v.ChannelID(), threadID: v.ThreadID(), viewer: v, scope: v.Kind().UploadScope()}, nil
	case TargetFloating:
		if s.floating.ThreadID() == "" {
			return sendTarget{}, crewdeck_errors.ErrNoActiveThread
		}
		if err := s.checkNotArchived(s.floating.ThreadID()); err != nil {
			return sendTarget{}, err
		}
		return sendTarget{channelID: s.floating.ChannelID(), threadID: s.floating.ThreadID(), viewer: s.floating, scope: domain.ScopeFloatingThread}, nil
	default:
		return sendTarget{}, crewdeck_errors.ErrInvalidInput
	}
}

// checkNotArchived rejects writes into a soft-archived thread. Only the live
// directory is consulted; a thread not in the list is assumed writable and the
// store stays authoritative.
func (s *Session) checkNotArchived(threadID string) error {
	if t, ok := s.dir.ThreadByID(threadID); ok && t.Status == domain.ThreadArchived {
		return crewdeck_errors.ErrThreadArchived
	}
	return nil
}

// ArchiveThread soft-archives a thread. It stays in the directory with an
// archived badge and open viewers keep their history, but new sends into it
// are rejected.
func (s *Session) ArchiveThread(threadID string) error {
	if threadID == "" {
		return crewdeck_errors.ErrInvalidInput
	}
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return crewdeck_errors.ErrStoreClosed
	}
	if err := s.st.ArchiveThread(s.ctx, threadID); err != nil {
		s.log.Errorf("archive thread %s: %v", threadID, err)
		return err
	}
	return nil
}

// consumeReply takes the reply target for the send; the bool reports whether
// one existed so a failed send can restore it.
func (s *Session) consumeReply(t sendTarget) (domain.Message, bool) {
	if t.viewer != nil {
		return t.viewer.ConsumeReply()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelReply == nil {
		return domain.Message{}, false
	}
	m := *s.channelReply
	s.channelReply = nil
	return m, true
}

func (s *Session) restoreReply(t sendTarget, m domain.Message) {
	if t.viewer != nil {
		t.viewer.RestoreReply(m)
		return
	}
	s.mu.Lock()
	if s.channelReply == nil {
		mm := m
		s.channelReply = &mm
	}
	s.mu.Unlock()
}

// send family -------------------------------------------------------------

// SendText sends a plain text message to the target composer's destination.
func (s *Session) SendText(target Target, text string) error {
	if text == "" {
		return crewdeck_errors.ErrInvalidInput
	}
	return s.send(target, func(m *domain.Message) {
		m.Type = domain.MessageText
		m.Text = text
	})
}

// SendGif sends a gif message.
func (s *Session) SendGif(target Target, url string) error {
	if url == "" {
		return crewdeck_errors.ErrInvalidInput
	}
	return s.send(target, func(m *domain.Message) {
		m.Type = domain.MessageGif
		m.URL = url
	})
}

// CreatePoll sends a poll message.
func (s *Session) CreatePoll(target Target, question string, options []string) error {
	if question == "" || len(options) < 2 {
		return crewdeck_errors.ErrInvalidInput
	}
	opts := make([]domain.PollOption, len(options))
	for i, label := range options {
		opts[i] = domain.PollOption{ID: uuid.NewString(), Label: label}
	}
	return s.send(target, func(m *domain.Message) {
		m.Type = domain.MessagePoll
		m.Poll = &domain.Poll{Question: question, Options: opts}
	})
}

// CreateForm sends a form message.
func (s *Session) CreateForm(target Target, title string, fields []domain.FormField) error {
	if title == "" || len(fields) == 0 {
		return crewdeck_errors.ErrInvalidInput
	}
	return s.send(target, func(m *domain.Message) {
		m.Type = domain.MessageForm
		m.Form = &domain.Form{Title: title, Fields: fields}
	})
}

func (s *Session) send(target Target, fill func(*domain.Message)) error {
	t, err := s.resolveTarget(target)
	if err != nil {
		return err
	}
	replySrc, hadReply := s.consumeReply(t)

	m := s.newMessage()
	fill(&m)
	if hadReply {
		m.ReplyTo = reply.BuildReference(replySrc, s.cfg.PreviewClipLen)
	}

	if err := s.writeMessage(t, m); err != nil {
		// restore the consumed reply target so the user can retry with
		// their context intact
		if hadReply {
			s.restoreReply(t, replySrc)
		}
		s.log.Errorf("send to %s failed: %v", target, err)
		return err
	}
	s.notify()
	return nil
}

func (s *Session) newMessage() domain.Message {
	return domain.Message{
		ID:          uuid.NewString(),
		AuthorID:    s.user.UID,
		DisplayName: s.user.DisplayName,
		PhotoURL:    s.user.PhotoURL,
		CreatedAt:   time.Now().UnixMilli(),
	}
}

func (s *Session) writeMessage(t sendTarget, m domain.Message) error {
	if t.threadID != "" {
		_, err := s.st.SendThreadMessage(s.ctx, t.threadID, m.Doc())
		return err
	}
	_, err := s.st.SendChannelMessage(s.ctx, t.channelID, m.Doc())
	return err
}

// UploadFiles uploads a batch to the target's destination, one optimistic
// pending entry per file. The batch stops at the first failure; the reply
// target, when present, attaches to the first sent message only.
func (s *Session) UploadFiles(target Target, files []uploads.File) error {
	if len(files) == 0 {
		return crewdeck_errors.ErrInvalidInput
	}
	if s.transfer == nil {
		return crewdeck_errors.ErrServiceUnavailable
	}
	t, err := s.resolveTarget(target)
	if err != nil {
		return err
	}
	replySrc, hadReply := s.consumeReply(t)
	replyUsed := false

	for _, f := range files {
		h := s.uploads.Register(s.user.UID, f, t.scope)
		res, err := s.transfer.Upload(s.ctx, f, h.Update)
		if err != nil {
			h.Finish(false)
			if hadReply && !replyUsed {
				s.restoreReply(t, replySrc)
			}
			s.log.Errorf("upload %s failed: %v", f.Name, err)
			return fmt.Errorf("upload %s: %w", f.Name, err)
		}
		h.Finish(true)

		m := s.newMessage()
		m.Type = domain.MessageFile
		m.File = &domain.FileInfo{Name: f.Name, Size: res.Size, ContentType: res.ContentType, URL: res.URL}
		if hadReply && !replyUsed {
			m.ReplyTo = reply.BuildReference(replySrc, s.cfg.PreviewClipLen)
			replyUsed = true
		}
		if err := s.writeMessage(t, m); err != nil {
			if hadReply && !replyUsed {
				s.restoreReply(t, replySrc)
			}
			s.log.Errorf("send uploaded file %s failed: %v", f.Name, err)
			return err
		}
	}
	s.notify()
	return nil
}

// interaction writes ------------------------------------------------------

// React toggles the viewer's reaction on a channel message.
func (s *Session) React(messageID, emoji string) error {
	s.mu.Lock()
	channelID := s.channelID
	s.mu.Unlock()
	if channelID == "" {
		return crewdeck_errors.ErrNoActiveChannel
	}
	if messageID == "" || emoji == "" {
		return crewdeck_errors.ErrInvalidInput
	}
	if err := s.st.ToggleReaction(s.ctx, channelID, messageID, emoji, s.user.UID); err != nil {
		s.log.Errorf("toggle reaction on %s: %v", messageID, err)
		return err
	}
	return nil
}

// Vote records the viewer's poll vote on a channel message.
func (s *Session) Vote(messageID, optionID string) error {
	s.mu.Lock()
	channelID := s.channelID
	s.mu.Unlock()
	if channelID == "" {
		return crewdeck_errors.ErrNoActiveChannel
	}
	if messageID == "" || optionID == "" {
		return crewdeck_errors.ErrInvalidInput
	}
	if err := s.st.SubmitVote(s.ctx, channelID, messageID, optionID, s.user.UID); err != nil {
		s.log.Errorf("vote on %s: %v", messageID, err)
		return err
	}
	return nil
}

// SubmitForm records the viewer's form response on a channel message.
func (s *Session) SubmitForm(messageID string, values map[string]string) error {
	s.mu.Lock()
	channelID := s.channelID
	s.mu.Unlock()
	if channelID == "" {
		return crewdeck_errors.ErrNoActiveChannel
	}
	if messageID == "" || len(values) == 0 {
		return crewdeck_errors.ErrInvalidInput
	}
	if err := s.st.SubmitFormResponse(s.ctx, channelID, messageID, s.user.UID, values); err != nil {
		s.log.Errorf("submit form response on %s: %v", messageID, err)
		return err
	}
	return nil
}
