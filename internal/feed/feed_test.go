package feed

import (
	"context"
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

func seedChannel(t *testing.T, st *memstore.Store, channelID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		_, err := st.SendChannelMessage(ctx, channelID, domain.RawDoc{
			"id":        channelID + "-m" + string(rune('0'+i)),
			"authorId":  "u1",
			"text":      "msg",
			"createdAt": float64(i * 100),
		})
		require.NoError(t, err)
	}
}

func TestOpenStreamsLiveTail(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	seedChannel(t, st, "c1", 3)

	f := New(st, nil, nil, "me", 50)
	defer f.Close()
	require.NoError(t, f.Open(context.Background(), "c1"))

	waitFor(t, func() bool { return len(f.Messages()) == 3 })

	_, err := st.SendChannelMessage(context.Background(), "c1", domain.RawDoc{
		"id": "c1-m9", "authorId": "u2", "text": "new", "createdAt": float64(900),
	})
	require.NoError(t, err)
	waitFor(t, func() bool { return len(f.Messages()) == 4 })

	msgs := f.Messages()
	assert.Equal(t, "c1-m9", msgs[len(msgs)-1].ID)
}

func TestOpenSameChannelIsNoop(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	seedChannel(t, st, "c1", 2)

	f := New(st, nil, nil, "me", 50)
	defer f.Close()
	ctx := context.Background()
	require.NoError(t, f.Open(ctx, "c1"))
	waitFor(t, func() bool { return len(f.Messages()) == 2 })

	require.NoError(t, f.Open(ctx, "c1"))
	assert.Equal(t, "c1", f.ChannelID())
	assert.Len(t, f.Messages(), 2)
}

func TestSwitchingChannelsDropsOldState(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	seedChannel(t, st, "c1", 3)
	seedChannel(t, st, "c2", 1)

	f := New(st, nil, nil, "me", 50)
	defer f.Close()
	ctx := context.Background()
	require.NoError(t, f.Open(ctx, "c1"))
	waitFor(t, func() bool { return len(f.Messages()) == 3 })

	require.NoError(t, f.Open(ctx, "c2"))
	waitFor(t, func() bool {
		msgs := f.Messages()
		return len(msgs) == 1 && msgs[0].ID == "c2-m1"
	})

	// traffic on the old channel must not reach the feed anymore
	_, err := st.SendChannelMessage(ctx, "c1", domain.RawDoc{
		"id": "c1-m8", "createdAt": float64(800),
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.Messages(), 1)
}

func TestLoadOlderPagesBackward(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	seedChannel(t, st, "c1", 6)

	f := New(st, nil, nil, "me", 2)
	defer f.Close()
	ctx := context.Background()
	require.NoError(t, f.Open(ctx, "c1"))
	waitFor(t, func() bool { return len(f.Messages()) == 2 })

	page, err := f.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Len(t, f.Messages(), 4)

	page, err = f.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Len(t, f.Messages(), 6)

	// history exhausted: empty page, feed untouched
	page, err = f.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Len(t, f.Messages(), 6)

	msgs := f.Messages()
	for i := 1; i < len(msgs); i++ {
		assert.LessOrEqual(t, msgs[i-1].CreatedAt, msgs[i].CreatedAt)
	}
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	_, err := st.SendChannelMessage(ctx, "c1", domain.RawDoc{"id": "ok", "createdAt": float64(100)})
	require.NoError(t, err)
	// a record whose text is a non-string decodes to an error
	_, err = st.SendChannelMessage(ctx, "c1", domain.RawDoc{"id": "bad", "text": 42, "createdAt": float64(200)})
	require.NoError(t, err)

	f := New(st, nil, nil, "me", 50)
	defer f.Close()
	require.NoError(t, f.Open(ctx, "c1"))

	waitFor(t, func() bool { return len(f.Messages()) == 1 })
	assert.Equal(t, "ok", f.Messages()[0].ID)
}

func TestChannelMarkerAdvancesWhileActive(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	seedChannel(t, st, "c1", 2)

	f := New(st, nil, nil, "me", 50)
	defer f.Close()
	ctx := context.Background()
	require.NoError(t, f.Open(ctx, "c1"))
	waitFor(t, func() bool {
		c, ok := st.ChannelCursor("me", "c1")
		return ok && c.LastReadAt == 200
	})

	// while inactive the marker stays put
	f.SetActive(false)
	_, err := st.SendChannelMessage(ctx, "c1", domain.RawDoc{"id": "m9", "createdAt": float64(900)})
	require.NoError(t, err)
	waitFor(t, func() bool { return len(f.Messages()) == 3 })
	c, _ := st.ChannelCursor("me", "c1")
	assert.Equal(t, int64(200), c.LastReadAt)

	f.SetActive(true)
	_, err = st.SendChannelMessage(ctx, "c1", domain.RawDoc{"id": "m10", "createdAt": float64(1000)})
	require.NoError(t, err)
	waitFor(t, func() bool {
		c, ok := st.ChannelCursor("me", "c1")
		return ok && c.LastReadAt == 1000
	})
}

func TestOnUpdateFires(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	seedChannel(t, st, "c1", 1)

	f := New(st, nil, nil, "me", 50)
	defer f.Close()

	var mu sync.Mutex
	var got []domain.Message
	f.OnUpdate(func(channelID string, msgs []domain.Message) {
		mu.Lock()
		got = msgs
		mu.Unlock()
	})
	require.NoError(t, f.Open(context.Background(), "c1"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
}
