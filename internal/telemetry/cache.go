package telemetry

import (
	"context"
	"sync"
	"time"
)

const defaultCacheTTL = 2 * time.Minute

type cacheEntry struct {
	value      any
	computedAt time.Time
}

// AggregationCache memoizes directory-scan results behind a TTL. Each key
// gets its own in-flight lock so concurrent requests for the same aggregate
// trigger exactly one scan while different keys compute in parallel.
type AggregationCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	locks   map[string]*sync.Mutex

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewAggregationCache(ttl time.Duration) *AggregationCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &AggregationCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (c *AggregationCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *AggregationCache) peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.computedAt) >= c.ttl {
		return nil, false
	}
	return entry.value, true
}

func (c *AggregationCache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

// Get returns the cached value for key, computing it when missing or stale.
// Only one caller computes per key; the rest block on the key lock and then
// reuse the fresh entry. Compute errors are returned without being cached,
// and a cancelled compute leaves the cache untouched so a later request
// retries cleanly. forceRefresh bypasses the freshness check but still
// shares a single computation among concurrent refreshers.
func (c *AggregationCache) Get(ctx context.Context, key string, forceRefresh bool, compute func(context.Context) (any, error)) (any, error) {
	if !forceRefresh {
		if value, ok := c.peek(key); ok {
			return value, nil
		}
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent caller may have filled the entry while this one waited.
	if !forceRefresh {
		if value, ok := c.peek(key); ok {
			return value, nil
		}
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, computedAt: c.now()}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops one key's entry.
func (c *AggregationCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll drops every entry; the watcher calls this when transcript
// files change on disk.
func (c *AggregationCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
