// Package profiles holds the shared per-user profile cache: lazy,
// deduplicated store subscriptions with merge-only updates.
package profiles

import (
	"context"
	"sync"

	"crewdeck/internal/domain"
	"crewdeck/internal/store"
	"crewdeck/pkg/logger"
)

type entry struct {
	refs    int
	sub     *store.ProfileSub
	profile domain.Profile
	rev     uint64
}

// Cache deduplicates profile subscriptions by uid. Updates are shallow
// merges, never destructive overwrites, so one viewer's partial fetch cannot
// clobber richer data fetched by another. The revision of an entry only
// advances when an identity field changes; dependents keyed on the revision
// are therefore not re-rendered for unrelated profile edits.
type Cache struct {
	mu      sync.Mutex
	st      store.Store
	log     *logger.Logger
	ctx     context.Context
	entries map[string]*entry

	// onChange, when set, fires outside the cache lock with the uid and new
	// revision after an identity change.
	onChange func(uid string, rev uint64)
}

// NewCache builds an empty cache bound to a store.
func NewCache(ctx context.Context, st store.Store, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNop()
	}
	return &Cache{
		st:      st,
		log:     log,
		ctx:     ctx,
		entries: make(map[string]*entry),
	}
}

// OnChange registers the identity-change listener. Must be called before the
// first Watch.
func (c *Cache) OnChange(fn func(uid string, rev uint64)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Watch attaches a live profile subscription for uid. Watching an already
// watched uid only bumps a refcount; exactly one store subscription exists
// per distinct uid.
func (c *Cache) Watch(uid string) {
	if uid == "" || uid == domain.UnknownAuthorID {
		return
	}
	c.mu.Lock()
	if e, ok := c.entries[uid]; ok {
		e.refs++
		c.mu.Unlock()
		return
	}
	e := &entry{refs: 1, profile: domain.Profile{UID: uid}}
	c.entries[uid] = e
	c.mu.Unlock()

	sub, err := c.st.SubscribeProfile(c.ctx, uid)
	if err != nil {
		c.log.Errorf("profile subscription for %s failed: %v", uid, err)
		c.mu.Lock()
		delete(c.entries, uid)
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	e.sub = sub
	c.mu.Unlock()

	go c.consume(uid, e, sub)
}

func (c *Cache) consume(uid string, e *entry, sub *store.ProfileSub) {
	for doc := range sub.C {
		c.mu.Lock()
		changed := e.profile.Merge(doc)
		var rev uint64
		var fn func(string, uint64)
		if changed {
			e.rev++
			rev = e.rev
			fn = c.onChange
		}
		c.mu.Unlock()
		if fn != nil {
			fn(uid, rev)
		}
	}
	// A faulted subscription self-detaches and drops its optimistic value
	// instead of retrying forever.
	if err := sub.Err(); err != nil {
		c.log.Errorf("profile subscription for %s errored: %v", uid, err)
		c.mu.Lock()
		delete(c.entries, uid)
		c.mu.Unlock()
	}
}

// Get returns the current merged profile for uid, reporting whether the
// cache holds one.
func (c *Cache) Get(uid string) (domain.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uid]
	if !ok {
		return domain.Profile{}, false
	}
	p := e.profile
	if e.profile.Extra != nil {
		p.Extra = make(map[string]any, len(e.profile.Extra))
		for k, v := range e.profile.Extra {
			p.Extra[k] = v
		}
	}
	return p, true
}

// Revision returns the identity revision of uid's entry, 0 when unknown.
func (c *Cache) Revision(uid string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[uid]; ok {
		return e.rev
	}
	return 0
}

// Release drops one reference; at zero the store subscription is cancelled
// and the entry evicted.
func (c *Cache) Release(uid string) {
	c.mu.Lock()
	e, ok := c.entries[uid]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.entries, uid)
	sub := e.sub
	c.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Dispose cancels every live subscription and empties the cache.
func (c *Cache) Dispose() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	for _, e := range entries {
		if e.sub != nil {
			e.sub.Cancel()
		}
	}
}
