package viewers

import (
	"context"
	"testing"
	"time"

	"crewdeck/internal/cursors"
	"crewdeck/internal/domain"
	"crewdeck/internal/store/memstore"
	"crewdeck/internal/uploads"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func seedThread(t *testing.T, st *memstore.Store, sourceID string, replies int) string {
	t.Helper()
	ctx := context.Background()
	id, err := st.CreateThread(ctx, domain.Thread{
		ServerID: "s1", ChannelID: "c1", CreatedFromMessageID: sourceID, CreatedBy: "u1",
	})
	require.NoError(t, err)
	for i := 1; i <= replies; i++ {
		_, err := st.SendThreadMessage(ctx, id, domain.RawDoc{
			"id":        sourceID + "-r" + string(rune('0'+i)),
			"authorId":  "u1",
			"text":      "reply",
			"createdAt": float64(i * 100),
		})
		require.NoError(t, err)
	}
	return id
}

func TestAttachStreamsThreadMessages(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	id := seedThread(t, st, "m1", 2)

	v := New(Inline, st, nil, "me", nil, nil)
	defer v.Close()
	require.NoError(t, v.Attach(context.Background(), "c1", id))

	waitFor(t, func() bool { return len(v.Messages()) == 2 })
	assert.True(t, v.Open())
	assert.Equal(t, id, v.ThreadID())
	assert.Equal(t, "c1", v.ChannelID())
}

func TestAttachSameThreadIsNoop(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	id := seedThread(t, st, "m1", 1)

	v := New(Inline, st, nil, "me", nil, nil)
	defer v.Close()
	ctx := context.Background()
	require.NoError(t, v.Attach(ctx, "c1", id))
	waitFor(t, func() bool { return len(v.Messages()) == 1 })

	v.SetReply(domain.Message{ID: "m1"})
	require.NoError(t, v.Attach(ctx, "c1", id))
	// a redundant attach must not clear viewer state
	_, ok := v.Reply()
	assert.True(t, ok)
	assert.Len(t, v.Messages(), 1)
}

func TestSwitchingThreadsDropsOldStream(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	first := seedThread(t, st, "m1", 2)
	second := seedThread(t, st, "m2", 1)

	v := New(Inline, st, nil, "me", nil, nil)
	defer v.Close()
	ctx := context.Background()
	require.NoError(t, v.Attach(ctx, "c1", first))
	waitFor(t, func() bool { return len(v.Messages()) == 2 })

	require.NoError(t, v.Attach(ctx, "c1", second))
	waitFor(t, func() bool { return len(v.Messages()) == 1 })

	// traffic on the old thread must not leak into the new view
	_, err := st.SendThreadMessage(ctx, first, domain.RawDoc{"id": "late", "createdAt": float64(999)})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, v.Messages(), 1)
}

func TestStreamUpdateSchedulesReadCommit(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	id := seedThread(t, st, "m1", 1)

	tr := cursors.NewTracker(context.Background(), st, nil, "me", 30*time.Millisecond)
	defer tr.Dispose()

	v := New(Inline, st, nil, "me", tr, nil)
	defer v.Close()
	require.NoError(t, v.Attach(context.Background(), "c1", id))

	waitFor(t, func() bool { return tr.Committed(id).LastReadAt == 100 })
}

func TestFocusReArmsReadCommit(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	id := seedThread(t, st, "m1", 1)

	tr := cursors.NewTracker(context.Background(), st, nil, "me", 300*time.Millisecond)
	defer tr.Dispose()

	v := New(Inline, st, nil, "me", tr, nil)
	defer v.Close()
	require.NoError(t, v.Attach(context.Background(), "c1", id))
	waitFor(t, func() bool { return len(v.Messages()) == 1 })

	// the stream-driven commit was cancelled before it settled
	tr.CancelCommit(id)
	time.Sleep(400 * time.Millisecond)
	require.Zero(t, tr.Committed(id).LastReadAt)

	// refocusing the surface marks the visible messages read after all
	v.Focus()
	waitFor(t, func() bool { return tr.Committed(id).LastReadAt == 100 })
}

func TestCloseCancelsPendingCommitAndClearsUploads(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	id := seedThread(t, st, "m1", 1)

	tr := cursors.NewTracker(context.Background(), st, nil, "me", 200*time.Millisecond)
	defer tr.Dispose()
	ut := uploads.NewTracker(nil, time.Hour, nil)
	ut.Register("me", uploads.File{Name: "a"}, domain.ScopeThread)

	v := New(Inline, st, nil, "me", tr, ut)
	require.NoError(t, v.Attach(context.Background(), "c1", id))
	waitFor(t, func() bool { return len(v.Messages()) == 1 })

	v.Close()
	assert.False(t, v.Open())
	assert.Empty(t, ut.List(domain.ScopeThread))
	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, tr.Committed(id).LastReadAt)
}

func TestReplyConsumeRestore(t *testing.T) {
	v := New(Inline, memstore.New(), nil, "me", nil, nil)
	defer v.Close()

	_, ok := v.ConsumeReply()
	assert.False(t, ok)

	v.SetReply(domain.Message{ID: "m1", Text: "root"})
	m, ok := v.ConsumeReply()
	require.True(t, ok)
	assert.Equal(t, "m1", m.ID)

	// consumed exactly once
	_, ok = v.ConsumeReply()
	assert.False(t, ok)

	// a failed send restores the target
	v.RestoreReply(m)
	got, ok := v.Reply()
	require.True(t, ok)
	assert.Equal(t, "m1", got.ID)

	// restore never clobbers a newer target
	v.SetReply(domain.Message{ID: "m2"})
	v.RestoreReply(domain.Message{ID: "m1"})
	got, _ = v.Reply()
	assert.Equal(t, "m2", got.ID)
}

func TestSuggestionSkipsOwnMessages(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	id := seedThread(t, st, "m1", 0)
	_, err := st.SendThreadMessage(ctx, id, domain.RawDoc{"id": "r1", "authorId": "other", "text": "a", "createdAt": float64(100)})
	require.NoError(t, err)
	_, err = st.SendThreadMessage(ctx, id, domain.RawDoc{"id": "r2", "authorId": "me", "text": "b", "createdAt": float64(200)})
	require.NoError(t, err)

	v := New(Inline, st, nil, "me", nil, nil)
	defer v.Close()
	require.NoError(t, v.Attach(ctx, "c1", id))
	waitFor(t, func() bool { return len(v.Messages()) == 2 })

	s, ok := v.Suggestion()
	require.True(t, ok)
	assert.Equal(t, "r1", s.ID)
}

func TestFloatingDrag(t *testing.T) {
	v := New(Floating, memstore.New(), nil, "me", nil, nil)
	defer v.Close()

	// deltas outside a drag are ignored
	v.DragBy(10, 10)
	assert.Equal(t, Position{}, v.Position())

	v.StartDrag()
	v.DragBy(10, 5)
	v.DragBy(-2, 3)
	v.EndDrag()
	assert.Equal(t, Position{X: 8, Y: 8}, v.Position())

	v.DragBy(100, 100)
	assert.Equal(t, Position{X: 8, Y: 8}, v.Position())
}

func TestUploadScopeMapping(t *testing.T) {
	assert.Equal(t, domain.ScopeThread, Inline.UploadScope())
	assert.Equal(t, domain.ScopeThread, Mobile.UploadScope())
	assert.Equal(t, domain.ScopeFloatingThread, Floating.UploadScope())
}
