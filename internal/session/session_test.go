package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"crewdeck/internal/config"
	"crewdeck/internal/domain"
	"crewdeck/internal/store/memstore"
	"crewdeck/internal/uploads"
	"crewdeck/internal/viewers"
	crewdeck_errors "crewdeck/pkg/errors"

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

func testConfig() config.SyncConfig {
	return config.SyncConfig{
		PageSize:     50,
		ReadDebounce: 30 * time.Millisecond,
		UploadTick:   10 * time.Millisecond,
	}
}

func newSession(t *testing.T, st *memstore.Store, transfer uploads.Transfer) *Session {
	t.Helper()
	s, err := New(context.Background(), st, transfer, nil, nil, User{UID: "me", DisplayName: "Me"}, testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Start("s1"))
	t.Cleanup(s.Dispose)
	return s
}

func TestNewRequiresUser(t *testing.T) {
	_, err := New(context.Background(), memstore.New(), nil, nil, nil, User{}, testConfig())
	assert.ErrorIs(t, err, crewdeck_errors.ErrNoAuthenticatedUser)
}

func TestSendPreconditions(t *testing.T) {
	s := newSession(t, memstore.New(), nil)

	// no channel picked yet
	assert.ErrorIs(t, s.SendText(TargetChannel, "hi"), crewdeck_errors.ErrNoActiveChannel)

	require.NoError(t, s.PickChannel("c1"))
	// no thread open in any viewer
	assert.ErrorIs(t, s.SendText(TargetThread, "hi"), crewdeck_errors.ErrNoActiveThread)
	assert.ErrorIs(t, s.SendText(TargetFloating, "hi"), crewdeck_errors.ErrNoActiveThread)

	assert.ErrorIs(t, s.SendText(TargetChannel, ""), crewdeck_errors.ErrInvalidInput)
	assert.ErrorIs(t, s.SendGif(TargetChannel, ""), crewdeck_errors.ErrInvalidInput)
	assert.ErrorIs(t, s.CreatePoll(TargetChannel, "q", []string{"only one"}), crewdeck_errors.ErrInvalidInput)
	assert.ErrorIs(t, s.CreateForm(TargetChannel, "t", nil), crewdeck_errors.ErrInvalidInput)
}

func TestSendTextReachesChannel(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))

	require.NoError(t, s.SendText(TargetChannel, "hello"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	m := s.Feed().Messages()[0]
	assert.Equal(t, "me", m.AuthorID)
	assert.Equal(t, domain.MessageText, m.Type)
	assert.Equal(t, "hello", m.Text)
}

func TestSendConsumesChannelReply(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.SendText(TargetChannel, "root"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	root := s.Feed().Messages()[0]

	s.SetChannelReply(root)
	require.NoError(t, s.SendText(TargetChannel, "reply"))
	_, ok := s.ChannelReply()
	assert.False(t, ok, "reply target must be consumed by the send")

	waitFor(t, func() bool { return len(s.Feed().Messages()) == 2 })
	msgs := s.Feed().Messages()
	require.NotNil(t, msgs[1].ReplyTo)
	assert.Equal(t, root.ID, msgs[1].ReplyTo.MessageID)
}

type failingSendStore struct {
	*memstore.Store
}

func (s *failingSendStore) SendChannelMessage(ctx context.Context, channelID string, doc domain.RawDoc) (string, error) {
	return "", errors.New("backend unavailable")
}

func TestFailedSendRestoresReply(t *testing.T) {
	st := &failingSendStore{Store: memstore.New()}
	s, err := New(context.Background(), st, nil, nil, nil, User{UID: "me"}, testConfig())
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	require.NoError(t, s.Start("s1"))
	require.NoError(t, s.PickChannel("c1"))

	s.SetChannelReply(domain.Message{ID: "m1", Type: domain.MessageText, Text: "root"})
	require.Error(t, s.SendText(TargetChannel, "reply"))

	got, ok := s.ChannelReply()
	require.True(t, ok, "failed send must restore the reply target")
	assert.Equal(t, "m1", got.ID)
}

func TestOpenThreadFromMessage(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.SendText(TargetChannel, "root"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	root := s.Feed().Messages()[0]

	ref, err := s.OpenThreadFromMessage(root)
	require.NoError(t, err)
	require.NotEqual(t, domain.RefNone, ref.State)

	v := s.Viewer(viewers.Inline)
	assert.True(t, v.Open())

	// opening again lands in the same thread
	again, err := s.OpenThreadFromMessage(root)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(s.Directory().Threads()) == 1 })
	_ = again

	require.NoError(t, s.SendText(TargetThread, "in thread"))
	waitFor(t, func() bool { return len(v.Messages()) == 1 })
}

func TestOpenThreadFromReplyLandsAtRoot(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.SendText(TargetChannel, "root"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	root := s.Feed().Messages()[0]

	s.SetChannelReply(root)
	require.NoError(t, s.SendText(TargetChannel, "reply"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 2 })
	reply := s.Feed().Messages()[1]

	_, err := s.OpenThreadFromMessage(reply)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(s.Directory().Threads()) == 1 })
	assert.Equal(t, root.ID, s.Directory().Threads()[0].CreatedFromMessageID)
}

func TestMobileLayoutRouting(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.SendText(TargetChannel, "root"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	root := s.Feed().Messages()[0]

	s.SetMobileLayout(true)
	_, err := s.OpenThreadFromMessage(root)
	require.NoError(t, err)
	assert.True(t, s.Viewer(viewers.Mobile).Open())
	assert.False(t, s.Viewer(viewers.Inline).Open())

	// popout is a desktop-only affordance
	assert.Error(t, s.OpenThreadPopout())
}

func TestPopoutMovesThreadToFloating(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.SendText(TargetChannel, "root"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	root := s.Feed().Messages()[0]

	_, err := s.OpenThreadFromMessage(root)
	require.NoError(t, err)
	threadID := s.Viewer(viewers.Inline).ThreadID()
	require.NotEmpty(t, threadID)

	require.NoError(t, s.OpenThreadPopout())
	assert.False(t, s.Viewer(viewers.Inline).Open())
	assert.Equal(t, threadID, s.Viewer(viewers.Floating).ThreadID())

	// entering a mobile layout closes the floating window
	s.SetMobileLayout(true)
	assert.False(t, s.Viewer(viewers.Floating).Open())
}

func TestFloatingAutoClosesWhenThreadLeavesChannel(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.SendText(TargetChannel, "root"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	root := s.Feed().Messages()[0]

	_, err := s.OpenThreadFromMessage(root)
	require.NoError(t, err)
	require.NoError(t, s.OpenThreadPopout())
	waitFor(t, func() bool { return s.Viewer(viewers.Floating).Open() })

	// switching channels empties the live thread list for the old channel;
	// the floating window follows it and closes
	require.NoError(t, s.PickChannel("c2"))
	waitFor(t, func() bool { return !s.Viewer(viewers.Floating).Open() })
}

type stubTransfer struct {
	failAfter int
	calls     int
}

func (s *stubTransfer) Upload(ctx context.Context, f uploads.File, onProgress func(float64)) (uploads.Result, error) {
	s.calls++
	if s.failAfter > 0 && s.calls > s.failAfter {
		return uploads.Result{}, errors.New("transfer failed")
	}
	if f.Body != nil {
		io.Copy(io.Discard, f.Body)
	}
	if onProgress != nil {
		onProgress(1.0)
	}
	return uploads.Result{URL: "https://files.example.com/" + f.Name, Size: f.Size, ContentType: f.ContentType}, nil
}

func TestUploadFilesSendsFileMessages(t *testing.T) {
	st := memstore.New()
	tr := &stubTransfer{}
	s := newSession(t, st, tr)
	require.NoError(t, s.PickChannel("c1"))

	files := []uploads.File{
		{Name: "a.txt", Size: 3, ContentType: "text/plain", Body: bytes.NewReader([]byte("abc"))},
		{Name: "b.txt", Size: 3, ContentType: "text/plain", Body: bytes.NewReader([]byte("def"))},
	}
	require.NoError(t, s.UploadFiles(TargetChannel, files))

	waitFor(t, func() bool { return len(s.Feed().Messages()) == 2 })
	m := s.Feed().Messages()[0]
	assert.Equal(t, domain.MessageFile, m.Type)
	require.NotNil(t, m.File)
	assert.Equal(t, "https://files.example.com/a.txt", m.File.URL)

	// all optimistic entries are gone once the batch lands
	assert.Empty(t, s.Uploads().List(domain.ScopeChannel))
}

func TestUploadBatchStopsAtFirstFailure(t *testing.T) {
	st := memstore.New()
	tr := &stubTransfer{failAfter: 1}
	s := newSession(t, st, tr)
	require.NoError(t, s.PickChannel("c1"))

	files := []uploads.File{
		{Name: "a.txt", Body: bytes.NewReader([]byte("abc"))},
		{Name: "b.txt", Body: bytes.NewReader([]byte("def"))},
		{Name: "c.txt", Body: bytes.NewReader([]byte("ghi"))},
	}
	require.Error(t, s.UploadFiles(TargetChannel, files))

	assert.Equal(t, 2, tr.calls, "the batch must stop at the first failure")
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	assert.Empty(t, s.Uploads().List(domain.ScopeChannel))
}

func TestUploadWithoutTransferIsUnavailable(t *testing.T) {
	s := newSession(t, memstore.New(), nil)
	require.NoError(t, s.PickChannel("c1"))
	err := s.UploadFiles(TargetChannel, []uploads.File{{Name: "a"}})
	assert.ErrorIs(t, err, crewdeck_errors.ErrServiceUnavailable)
}

func TestReadCommitAfterThreadActivity(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.SendText(TargetChannel, "root"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	root := s.Feed().Messages()[0]

	_, err := s.OpenThreadFromMessage(root)
	require.NoError(t, err)
	require.NoError(t, s.SendText(TargetThread, "in thread"))

	threadID := s.Viewer(viewers.Inline).ThreadID()
	waitFor(t, func() bool { return s.Cursors().Committed(threadID).LastReadAt > 0 })

	// the committed marker clears the unread badge
	waitFor(t, func() bool {
		previews := s.Previews()
		meta, ok := previews[root.ID]
		return ok && !meta.Unread
	})
}

func TestInteractionWrites(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)

	assert.ErrorIs(t, s.React("m1", "👍"), crewdeck_errors.ErrNoActiveChannel)

	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.CreatePoll(TargetChannel, "lunch?", []string{"pizza", "sushi"}))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	poll := s.Feed().Messages()[0]

	require.NoError(t, s.React(poll.ID, "👍"))
	require.NoError(t, s.Vote(poll.ID, poll.Poll.Options[0].ID))
	waitFor(t, func() bool {
		msgs := s.Feed().Messages()
		return len(msgs) == 1 && len(msgs[0].Reactions["👍"]) == 1 && msgs[0].Poll.Votes["me"] == poll.Poll.Options[0].ID
	})

	assert.ErrorIs(t, s.Vote(poll.ID, ""), crewdeck_errors.ErrInvalidInput)
}

func TestArchivedThreadRejectsSends(t *testing.T) {
	st := memstore.New()
	s := newSession(t, st, nil)
	require.NoError(t, s.PickChannel("c1"))
	require.NoError(t, s.SendText(TargetChannel, "root"))
	waitFor(t, func() bool { return len(s.Feed().Messages()) == 1 })
	root := s.Feed().Messages()[0]

	_, err := s.OpenThreadFromMessage(root)
	require.NoError(t, err)
	threadID := s.Viewer(viewers.Inline).ThreadID()
	require.NotEmpty(t, threadID)
	require.NoError(t, s.SendText(TargetThread, "before archive"))

	assert.ErrorIs(t, s.ArchiveThread(""), crewdeck_errors.ErrInvalidInput)
	require.NoError(t, s.ArchiveThread(threadID))
	waitFor(t, func() bool {
		th, ok := s.Directory().ThreadByID(threadID)
		return ok && th.Status == domain.ThreadArchived
	})

	// history stays open, new sends are rejected
	assert.NotEmpty(t, s.Viewer(viewers.Inline).Messages())
	assert.ErrorIs(t, s.SendText(TargetThread, "after archive"), crewdeck_errors.ErrThreadArchived)

	meta, ok := s.Previews()[root.ID]
	require.True(t, ok)
	assert.True(t, meta.Archived)
}

func TestDisposeBlocksFurtherWork(t *testing.T) {
	st := memstore.New()
	s, err := New(context.Background(), st, nil, nil, nil, User{UID: "me"}, testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Start("s1"))
	require.NoError(t, s.PickChannel("c1"))

	s.Dispose()
	s.Dispose() // idempotent

	assert.ErrorIs(t, s.PickChannel("c2"), crewdeck_errors.ErrStoreClosed)
	assert.ErrorIs(t, s.SendText(TargetChannel, "hi"), crewdeck_errors.ErrStoreClosed)
}
