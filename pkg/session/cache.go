package session

import (
	"sync"

	"github.com/regstow/regstow/pkg/model"
)

// listingCache memoizes decoded file listings per repository id. Each key has
// at most one load in flight; concurrent callers for the same key wait for it,
// callers for other keys proceed independently.
type listingCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ready   chan struct{}
	listing model.FileListing
	err     error
}

func newListingCache() *listingCache {
	return &listingCache{entries: map[string]*cacheEntry{}}
}

func (c *listingCache) getOrLoad(key string, load func() (model.FileListing, error)) (model.FileListing, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.ready
		return e.listing, e.err
	}
	e := &cacheEntry{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.listing, e.err = load()
	if e.err != nil {
		// failed loads are not cached, the next caller retries
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	close(e.ready)
	return e.listing, e.err
}

func (c *listingCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *listingCache) contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}
