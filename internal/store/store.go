// Package store abstracts the hosted realtime document store. Live queries
// are exposed as snapshot streams over Go channels with explicit cancel
// handles, so suspension and cancellation are structurally visible instead of
// being implied by callbacks capturing mutable state.
package store

import (
	"context"
	"sync"

	"crewdeck/internal/domain"
)

// CancelFunc detaches a live subscription. Idempotent.
type CancelFunc func()

// Sub is a live subscription handle. C delivers full snapshots in the store's
// emission order and is closed on cancel or on a subscription fault; Err
// reports the fault, if any, after C closes. There is no ordering guarantee
// across two different subscriptions.
type Sub[T any] struct {
	C <-chan T

	mu     sync.Mutex
	err    error
	cancel func()
	done   bool
}

// NewSub wires a subscription handle around a snapshot channel and a cancel
// function. Implementations close the channel after cancel returns.
func NewSub[T any](c <-chan T, cancel func()) *Sub[T] {
	return &Sub[T]{C: c, cancel: cancel}
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Sub[T]) Cancel() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Fail records a subscription fault and detaches.
func (s *Sub[T]) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Cancel()
}

// Err returns the fault that terminated the subscription, if any.
func (s *Sub[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Concrete snapshot stream shapes.
type (
	MessageSub = Sub[[]domain.RawDoc]
	ThreadSub  = Sub[[]domain.Thread]
	ProfileSub = Sub[domain.RawDoc]
	CursorSub  = Sub[*domain.ReadCursor]
)

// Store is the remote realtime document store boundary. All calls are
// asynchronous against a remote system; context governs each call, and every
// Subscribe returns a handle the caller must cancel.
type Store interface {
	// Live subscriptions.
	SubscribeChannelMessages(ctx context.Context, channelID string, limit int) (*MessageSub, error)
	SubscribeThreadMessages(ctx context.Context, threadID string, limit int) (*MessageSub, error)
	SubscribeChannelThreads(ctx context.Context, serverID, channelID string) (*ThreadSub, error)
	SubscribeServerThreads(ctx context.Context, serverID string) (*ThreadSub, error)
	SubscribeProfile(ctx context.Context, uid string) (*ProfileSub, error)
	SubscribeReadCursor(ctx context.Context, uid, threadID string) (*CursorSub, error)

	// Point lookups for deep-link hydration and find-or-create.
	ThreadBySourceMessage(ctx context.Context, channelID, messageID string) (domain.Thread, error)
	ThreadByID(ctx context.Context, id string) (domain.Thread, error)
	MessageByID(ctx context.Context, channelID, id string) (domain.RawDoc, error)

	// Backward pagination: the newest limit records strictly older than
	// before, returned in ascending creation order. An empty result means
	// history is exhausted.
	ChannelMessagesBefore(ctx context.Context, channelID string, before int64, limit int) ([]domain.RawDoc, error)

	// Writes.
	SendChannelMessage(ctx context.Context, channelID string, doc domain.RawDoc) (string, error)
	SendThreadMessage(ctx context.Context, threadID string, doc domain.RawDoc) (string, error)
	CreateThread(ctx context.Context, t domain.Thread) (string, error)
	ArchiveThread(ctx context.Context, id string) error
	SetReadCursor(ctx context.Context, uid, threadID string, c domain.ReadCursor) error
	SetChannelCursor(ctx context.Context, uid, channelID string, c domain.ReadCursor) error
	ToggleReaction(ctx context.Context, channelID, messageID, emoji, uid string) error
	SubmitVote(ctx context.Context, channelID, messageID, optionID, uid string) error
	SubmitFormResponse(ctx context.Context, channelID, messageID, uid string, values map[string]string) error
}
