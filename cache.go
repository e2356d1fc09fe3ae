package golem

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// stateCache is the write-through cache in front of the storage adapter:
// size-bounded LRU with a per-entry TTL. Entries are only ever written after
// a successful storage commit, so a hit is always as fresh as storage.
type stateCache struct {
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
	now func() time.Time
}

type cacheEntry struct {
	value     StoredValue
	staleAt   time.Time // cache-level expiry, distinct from the value's own TTL
}

const (
	defaultCacheTTL  = 60 * time.Second
	defaultCacheSize = 10000
)

func newStateCache(size int, ttl time.Duration, now func() time.Time) *stateCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// lru.New only fails for size <= 0, which is normalized above.
		panic(err)
	}
	return &stateCache{lru: c, ttl: ttl, now: now}
}

func (c *stateCache) get(key string) (StoredValue, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return StoredValue{}, false
	}
	now := c.now()
	if now.After(e.staleAt) || e.value.Expired(now.UnixMilli()) {
		c.lru.Remove(key)
		return StoredValue{}, false
	}
	return e.value, true
}

func (c *stateCache) put(key string, v StoredValue) {
	c.lru.Add(key, cacheEntry{value: v, staleAt: c.now().Add(c.ttl)})
}

func (c *stateCache) remove(key string) {
	c.lru.Remove(key)
}

func (c *stateCache) purge() {
	c.lru.Purge()
}

func (c *stateCache) len() int {
	return c.lru.Len()
}
