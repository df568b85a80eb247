package profiles

import (
	"context"
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

func TestWatchMergesProfileUpdates(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, st.SetProfile(ctx, "u1", domain.RawDoc{"displayName": "Ada", "status": "away"}))

	c := NewCache(ctx, st, nil)
	defer c.Dispose()
	c.Watch("u1")

	waitFor(t, func() bool {
		p, ok := c.Get("u1")
		return ok && p.DisplayName == "Ada"
	})
	p, _ := c.Get("u1")
	assert.Equal(t, "away", p.Extra["status"])
	assert.Equal(t, uint64(1), c.Revision("u1"))
}

func TestRevisionOnlyBumpsOnIdentityChange(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, st.SetProfile(ctx, "u1", domain.RawDoc{"displayName": "Ada"}))

	c := NewCache(ctx, st, nil)
	defer c.Dispose()

	var notified []uint64
	done := make(chan struct{}, 8)
	c.OnChange(func(uid string, rev uint64) {
		notified = append(notified, rev)
		done <- struct{}{}
	})

	c.Watch("u1")
	<-done // initial identity merge

	// non-identity update must not bump the revision or notify
	require.NoError(t, st.SetProfile(ctx, "u1", domain.RawDoc{"status": "busy"}))
	waitFor(t, func() bool {
		p, _ := c.Get("u1")
		return p.Extra["status"] == "busy"
	})
	assert.Equal(t, uint64(1), c.Revision("u1"))
	assert.Len(t, notified, 1)

	require.NoError(t, st.SetProfile(ctx, "u1", domain.RawDoc{"displayName": "Ada L."}))
	<-done
	assert.Equal(t, uint64(2), c.Revision("u1"))
}

func TestWatchRefcounts(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, st.SetProfile(ctx, "u1", domain.RawDoc{"displayName": "Ada"}))

	c := NewCache(ctx, st, nil)
	defer c.Dispose()

	c.Watch("u1")
	c.Watch("u1")
	waitFor(t, func() bool {
		_, ok := c.Get("u1")
		return ok
	})

	c.Release("u1")
	_, ok := c.Get("u1")
	assert.True(t, ok, "entry should survive while a reference remains")

	c.Release("u1")
	_, ok = c.Get("u1")
	assert.False(t, ok)
}

func TestWatchIgnoresUnknownAuthor(t *testing.T) {
	st := memstore.New()
	defer st.Close()

	c := NewCache(context.Background(), st, nil)
	defer c.Dispose()

	c.Watch(domain.UnknownAuthorID)
	c.Watch("")
	_, ok := c.Get(domain.UnknownAuthorID)
	assert.False(t, ok)
}
