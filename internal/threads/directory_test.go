package threads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crewdeck/internal/domain"
	"crewdeck/internal/store/memstore"

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

func openDirectory(t *testing.T, st *memstore.Store) *Directory {
	t.Helper()
	d := NewDirectory(st, nil)
	ctx := context.Background()
	require.NoError(t, d.OpenServer(ctx, "s1"))
	require.NoError(t, d.OpenChannel(ctx, "c1"))
	return d
}

func TestFindOrCreateCreatesOnce(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	d := openDirectory(t, st)
	defer d.Close()

	source := domain.Message{ID: "m1", AuthorID: "u1", Type: domain.MessageText, Text: "root"}
	ref, err := d.FindOrCreate(context.Background(), source, "u1", "root")
	require.NoError(t, err)
	require.NotEqual(t, domain.RefNone, ref.State)

	// the live snapshot confirms the thread and resolves the ref
	waitFor(t, func() bool {
		r, ok := d.ThreadByRoot("m1")
		return ok && r.State == domain.RefResolved
	})

	again, err := d.FindOrCreate(context.Background(), source, "u2", "root")
	require.NoError(t, err)
	require.Equal(t, domain.RefResolved, again.State)

	resolved, _ := d.ThreadByRoot("m1")
	assert.Equal(t, resolved.Thread.ID, again.Thread.ID)
	assert.Len(t, d.Threads(), 1)
}

func TestFindOrCreateConcurrentDoubleClick(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	d := openDirectory(t, st)
	defer d.Close()

	source := domain.Message{ID: "m1", AuthorID: "u1", Type: domain.MessageText}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.FindOrCreate(context.Background(), source, "u1", "root")
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	waitFor(t, func() bool { return len(d.Threads()) >= 1 })
	assert.Len(t, d.Threads(), 1, "rapid double open must not duplicate the thread")
}

func TestFindOrCreateFindsRemoteThread(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	// thread exists in the store but is not yet in the live snapshot the
	// directory has seen
	id, err := st.CreateThread(ctx, domain.Thread{
		ServerID: "s1", ChannelID: "c1", CreatedFromMessageID: "m1", CreatedBy: "other",
	})
	require.NoError(t, err)

	d := openDirectory(t, st)
	defer d.Close()

	ref, err := d.FindOrCreate(ctx, domain.Message{ID: "m1"}, "u1", "root")
	require.NoError(t, err)
	require.Equal(t, domain.RefResolved, ref.State)
	assert.Equal(t, id, ref.Thread.ID)
}

type failingCreateStore struct {
	*memstore.Store
}

func (s *failingCreateStore) CreateThread(ctx context.Context, t domain.Thread) (string, error) {
	return "", errors.New("backend unavailable")
}

func TestFindOrCreateRollsBackOnFailure(t *testing.T) {
	st := &failingCreateStore{Store: memstore.New()}
	defer st.Close()
	d := NewDirectory(st, nil)
	defer d.Close()
	ctx := context.Background()
	require.NoError(t, d.OpenServer(ctx, "s1"))
	require.NoError(t, d.OpenChannel(ctx, "c1"))

	_, err := d.FindOrCreate(ctx, domain.Message{ID: "m1"}, "u1", "root")
	require.Error(t, err)

	// the pending placeholder must be rolled back so a retry is possible
	_, ok := d.ThreadByRoot("m1")
	assert.False(t, ok)
}

func TestOpenChannelSwitchDropsOldList(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	_, err := st.CreateThread(ctx, domain.Thread{ServerID: "s1", ChannelID: "c1", CreatedFromMessageID: "m1"})
	require.NoError(t, err)
	_, err = st.CreateThread(ctx, domain.Thread{ServerID: "s1", ChannelID: "c2", CreatedFromMessageID: "m2"})
	require.NoError(t, err)

	d := openDirectory(t, st)
	defer d.Close()
	waitFor(t, func() bool { return len(d.Threads()) == 1 })

	require.NoError(t, d.OpenChannel(ctx, "c2"))
	waitFor(t, func() bool {
		ts := d.Threads()
		return len(ts) == 1 && ts[0].CreatedFromMessageID == "m2"
	})

	// the server index still spans both channels
	waitFor(t, func() bool { return len(d.ServerIndex()) == 2 })
}

func TestPreviews(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	_, err := st.CreateThread(ctx, domain.Thread{
		ServerID: "s1", ChannelID: "c1", CreatedFromMessageID: "m1",
		Name: "roadmap", LastMessageAt: 500, MessageCount: 3,
	})
	require.NoError(t, err)

	d := openDirectory(t, st)
	defer d.Close()
	waitFor(t, func() bool { return len(d.Threads()) == 1 })

	previews := d.Previews(func(threadID string, lastAt int64) bool { return lastAt > 400 })
	meta, ok := previews["m1"]
	require.True(t, ok)
	assert.Equal(t, 3, meta.Count)
	assert.Equal(t, "roadmap", meta.Name)
	assert.True(t, meta.Unread)
	assert.False(t, meta.Archived)
}
