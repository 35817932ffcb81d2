package vitrine

import (
	"sync"
	"time"
)

// PostCache is a TTL read cache for single-post lookups. The get-by-id
// endpoint is the hottest read path; everything else goes straight to the
// store. Any write invalidates the whole cache.
type PostCache struct {
	mu      sync.RWMutex
	entries map[int64]cacheEntry
	ttl     time.Duration
	store   *Store
}

type cacheEntry struct {
	view    PostView
	fetched time.Time
}

// NewPostCache creates a PostCache backed by the given Store.
func NewPostCache(s *Store, ttl time.Duration) *PostCache {
	return &PostCache{
		entries: make(map[int64]cacheEntry),
		ttl:     ttl,
		store:   s,
	}
}

// Get returns the cached view for id, loading it from the store when the
// entry is missing or stale.
func (c *PostCache) Get(id int64) (PostView, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && time.Since(e.fetched) < c.ttl {
		return e.view, nil
	}

	view, err := c.store.GetPost(id)
	if err != nil {
		return PostView{}, err
	}
	c.mu.Lock()
	c.entries[id] = cacheEntry{view: view, fetched: time.Now()}
	c.mu.Unlock()
	return view, nil
}

// Invalidate drops every cached entry. Called after any mutation; posts
// become visible to readers at commit, never earlier.
func (c *PostCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[int64]cacheEntry)
	c.mu.Unlock()
}
