package cache

import (
	"fmt"
	"runtime"
	"time"

	"github.com/wisbric/ragserver/internal/apperr"
	"github.com/wisbric/ragserver/internal/telemetry"
)

// Names of the five caches the coordinator manages. clearAllOrder is the
// order ClearAll iterates them in.
const (
	LLMResponse    = "llm_response"
	Vector         = "vector"
	KnowledgeGraph = "knowledge_graph"
	Documents      = "documents"
	Queries        = "queries"
)

var clearAllOrder = []string{Queries, Documents, LLMResponse, KnowledgeGraph, Vector}

// Coordinator owns the five named caches and exposes coordinator-level
// invalidation and statistics operations.
type Coordinator struct {
	caches map[string]*Cache
}

// NewCoordinator builds a Coordinator with the five caches sized from perCacheBytes.
func NewCoordinator(perCacheBytes int64, maxEntriesPerCache int) *Coordinator {
	names := []string{LLMResponse, Vector, KnowledgeGraph, Documents, Queries}
	caches := make(map[string]*Cache, len(names))
	for _, n := range names {
		caches[n] = New(n, maxEntriesPerCache, perCacheBytes)
	}
	return &Coordinator{caches: caches}
}

// Cache returns the named cache, or nil if unknown.
func (co *Coordinator) Cache(name string) *Cache {
	return co.caches[name]
}

// Get looks up key in the named cache, recording hit/miss metrics.
func (co *Coordinator) Get(name, key string) ([]byte, bool, error) {
	c, ok := co.caches[name]
	if !ok {
		return nil, false, apperr.New(apperr.NotFound, fmt.Sprintf("unknown cache %q", name))
	}
	v, hit := c.Get(key)
	if hit {
		telemetry.CacheHitsTotal.WithLabelValues(name).Inc()
	} else {
		telemetry.CacheMissesTotal.WithLabelValues(name).Inc()
	}
	return v, hit, nil
}

// Set stores key/value in the named cache.
func (co *Coordinator) Set(name, key string, value []byte, ttl time.Duration) error {
	c, ok := co.caches[name]
	if !ok {
		return apperr.New(apperr.NotFound, fmt.Sprintf("unknown cache %q", name))
	}
	c.Set(key, value, ttl)
	return nil
}

// ClearAll iterates caches in a fixed order, accumulates freed bytes, then
// triggers a memory-compaction hint via runtime.GC().
func (co *Coordinator) ClearAll() (itemsFreed int, bytesFreed int64) {
	for _, name := range clearAllOrder {
		c := co.caches[name]
		n, b := c.Clear()
		itemsFreed += n
		bytesFreed += b
	}
	// Memory-compaction hint: best-effort, never required for correctness.
	go runtime.GC()
	return itemsFreed, bytesFreed
}

// ClearType clears a single named cache, rejecting unknown names.
func (co *Coordinator) ClearType(name string) (itemsFreed int, bytesFreed int64, err error) {
	c, ok := co.caches[name]
	if !ok {
		return 0, 0, apperr.New(apperr.NotFound, fmt.Sprintf("unknown cache type %q", name))
	}
	n, b := c.Clear()
	return n, b, nil
}

// ProcessMemory is a lightweight process memory snapshot for stats_all.
type ProcessMemory struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGoroutine    int    `json:"num_goroutine"`
	NumGC           uint32 `json:"num_gc"`
}

// StatsAll returns per-cache stats plus a process memory snapshot.
func (co *Coordinator) StatsAll() (map[string]Stats, ProcessMemory) {
	out := make(map[string]Stats, len(co.caches))
	for name, c := range co.caches {
		out[name] = c.Stats()
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return out, ProcessMemory{
		AllocBytes:   m.Alloc,
		SysBytes:     m.Sys,
		NumGoroutine: runtime.NumGoroutine(),
		NumGC:        m.NumGC,
	}
}

// Sweep prunes lazily-expired entries across all caches. Intended to be
// called periodically.
func (co *Coordinator) Sweep() int {
	total := 0
	for _, c := range co.caches {
		total += c.pruneExpired()
	}
	return total
}
