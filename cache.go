package quotaguard

import (
	"time"

	"github.com/jonboulle/clockwork"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of cached results.
const DefaultCacheSize = 1024

// ResponseCache is a bounded TTL cache of opaque results. Expiry is
// evaluated lazily against the injected clock; capacity overflow evicts the
// least recently used entry.
type ResponseCache struct {
	clock clockwork.Clock
	store *lru.Cache[string, *CacheEntry]
}

// NewResponseCache creates a cache holding at most size entries.
func NewResponseCache(size int, clock clockwork.Clock) (*ResponseCache, error) {
	store, err := lru.New[string, *CacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &ResponseCache{
		clock: clock,
		store: store,
	}, nil
}

// Get returns the live data for key. An expired entry is removed.
func (c *ResponseCache) Get(key string) (any, bool) {
	entry, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}

	if entry.expired(c.clock.Now()) {
		c.store.Remove(key)
		return nil, false
	}

	return entry.Data, true
}

// Set stores data under key for ttl. A non-positive ttl stores nothing.
func (c *ResponseCache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.store.Add(key, &CacheEntry{
		Data:      data,
		CreatedAt: c.clock.Now(),
		TTL:       ttl,
	})
}

// Delete removes key.
func (c *ResponseCache) Delete(key string) {
	c.store.Remove(key)
}

// Clear removes all entries.
func (c *ResponseCache) Clear() {
	c.store.Purge()
}

// Len counts stored entries, including expired ones not yet read.
func (c *ResponseCache) Len() int {
	return c.store.Len()
}
