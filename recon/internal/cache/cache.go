// Package cache implements the time-boxed result cache for source queries.
//
// Entries are keyed by "sourceID:query" and expire after a fixed TTL.
// There is no eviction goroutine: expiry is checked lazily on read, and
// the read that observes an expired entry deletes it.
//
// The query part of the key is used verbatim. "example.com" and
// "EXAMPLE.com" are distinct entries; callers that want case-insensitive
// reuse must normalize before querying.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is the validity window for cached results.
const DefaultTTL = time.Hour

// Entry is one cached payload with its insertion time.
type Entry struct {
	Value      any
	InsertedAt time.Time
}

// Cache is a TTL-bounded in-memory store, safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default 1h validity window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the time source. Tests use it to step past the TTL
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key builds the cache key for a source/query pair.
func Key(sourceID, query string) string {
	return sourceID + ":" + query
}

// Get returns the cached value for (sourceID, query) if present and
// within the TTL window. An expired entry is deleted and reported absent.
func (c *Cache) Get(sourceID, query string) (any, bool) {
	key := Key(sourceID, query)
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.InsertedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.Value, true
}

// Put stores value for (sourceID, query), unconditionally overwriting.
func (c *Cache) Put(sourceID, query string, value any) {
	c.mu.Lock()
	c.entries[Key(sourceID, query)] = Entry{Value: value, InsertedAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of physically present entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns a copy of all non-expired entries keyed by cache key.
// Used by the export surface; the copy is safe to iterate without locks.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make(map[string]Entry, len(c.entries))
	for k, e := range c.entries {
		if now.Sub(e.InsertedAt) >= c.ttl {
			continue
		}
		out[k] = e
	}
	return out
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}
