// Package cache implements a set of named caches with uniform
// get/set/clear/stats semantics, LRU+TTL eviction bounded by both entry
// count and approximate byte size.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// entry is one cache slot.
type entry struct {
	key       string
	value     []byte
	insertAt  time.Time
	ttl       time.Duration
	sizeBytes int64
	elem      *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertAt) >= e.ttl
}

// Stats reports cache occupancy and effectiveness.
type Stats struct {
	ItemCount int     `json:"item_count"`
	SizeMB    float64 `json:"size_mb"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is a single named, bounded, TTL-pruned LRU cache.
type Cache struct {
	name string

	mu          sync.Mutex
	items       map[string]*entry
	lru         *list.List
	totalBytes  int64
	maxBytes    int64
	maxEntries  int

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// New builds a Cache bounded by maxEntries and maxBytes (approximate).
func New(name string, maxEntries int, maxBytes int64) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &Cache{
		name:       name,
		items:      make(map[string]*entry),
		lru:        list.New(),
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get never fails: expired entries return a miss and are evicted.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if e.expired(c.now()) {
		c.removeLocked(e)
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits.Add(1)
	return e.value, true
}

// Set is best-effort: it refuses oversize entries relative to the cache
// budget rather than failing.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) bool {
	size := int64(len(value))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && size > c.maxBytes {
		return false
	}

	if old, ok := c.items[key]; ok {
		c.removeLocked(old)
	}

	e := &entry{key: key, value: value, insertAt: c.now(), ttl: ttl, sizeBytes: size}
	e.elem = c.lru.PushFront(key)
	c.items[key] = e
	c.totalBytes += size

	c.evictLocked()
	return true
}

// evictLocked removes least-recently-used entries until both bounds hold.
// Must be called with c.mu held.
func (c *Cache) evictLocked() {
	for (c.maxBytes > 0 && c.totalBytes > c.maxBytes) || len(c.items) > c.maxEntries {
		back := c.lru.Back()
		if back == nil {
			return
		}
		e := c.items[back.Value.(string)]
		c.removeLocked(e)
	}
}

// removeLocked deletes e from both the map and the LRU list. Must be
// called with c.mu held.
func (c *Cache) removeLocked(e *entry) {
	delete(c.items, e.key)
	c.lru.Remove(e.elem)
	c.totalBytes -= e.sizeBytes
}

// Clear empties the cache, returning the count removed and bytes freed.
func (c *Cache) Clear() (count int, bytesFreed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count = len(c.items)
	bytesFreed = c.totalBytes
	c.items = make(map[string]*entry)
	c.lru = list.New()
	c.totalBytes = 0
	return count, bytesFreed
}

// Stats reports the current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	items := len(c.items)
	bytes := c.totalBytes
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		ItemCount: items,
		SizeMB:    float64(bytes) / (1024 * 1024),
		HitRate:   rate,
	}
}

// pruneExpired removes every expired entry in one pass; called from
// Coordinator.Sweep.
func (c *Cache) pruneExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.lru.Back(); e != nil; {
		prev := e.Prev()
		item := c.items[e.Value.(string)]
		if item != nil && item.expired(now) {
			c.removeLocked(item)
			removed++
		}
		e = prev
	}
	return removed
}
