package identity

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Reason distinguishes the two rejection causes the limiter can produce.
type Reason string

const (
	Accepted       Reason = "accepted"
	RejectRate     Reason = "reject-rate"
	RejectInterval Reason = "reject-interval"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Reason    Reason
	Remaining int
	RetryAt   time.Time
}

func (d Decision) Accepted() bool { return d.Reason == Accepted }

// bucket is the per-identity admission state.
type bucket struct {
	tokens      int
	windowStart time.Time
	lastRequest time.Time
	elem        *list.Element // position in the LRU list
}

// Limiter is a fixed-window token bucket with a per-identity minimum
// inter-arrival interval, bounded by an LRU-evicted bucket table. Safe for
// concurrent use.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	lru          *list.List // front = most recently touched
	maxEntries   int
	window       time.Duration
	tierCapacity map[string]int
	minInterval  time.Duration
	now          func() time.Time
}

// NewLimiter builds a Limiter. tierCapacity maps tier name to requests per
// window; window is rate_limit_window in seconds; minInterval is
// min_interval_per_user; maxEntries bounds the bucket table.
func NewLimiter(tierCapacity map[string]int, window time.Duration, minInterval time.Duration, maxEntries int) *Limiter {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	return &Limiter{
		buckets:      make(map[string]*bucket),
		lru:          list.New(),
		maxEntries:   maxEntries,
		window:       window,
		tierCapacity: tierCapacity,
		minInterval:  minInterval,
		now:          time.Now,
	}
}

// Admit checks and, if allowed, records one request for identity/tier.
func (l *Limiter) Admit(_ context.Context, id string, tier string) Decision {
	capacity, ok := l.tierCapacity[tier]
	if !ok {
		capacity = l.tierCapacity[DefaultTier]
	}
	if capacity <= 0 {
		capacity = 1
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[id]
	if !exists {
		b = &bucket{tokens: capacity, windowStart: now}
		l.buckets[id] = b
		b.elem = l.lru.PushFront(id)
		l.evictIfOverCapacity()
	} else {
		l.lru.MoveToFront(b.elem)
	}

	// Minimum inter-arrival interval, checked before window accounting so a
	// too-fast second request never consumes a token.
	if !b.lastRequest.IsZero() && l.minInterval > 0 && now.Sub(b.lastRequest) < l.minInterval {
		return Decision{Reason: RejectInterval, RetryAt: b.lastRequest.Add(l.minInterval)}
	}

	// Fixed-window reset.
	if now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.tokens = capacity
	}

	if b.tokens <= 0 {
		return Decision{Reason: RejectRate, RetryAt: b.windowStart.Add(l.window)}
	}

	b.tokens--
	b.lastRequest = now
	return Decision{Reason: Accepted, Remaining: b.tokens}
}

// evictIfOverCapacity removes the least-recently-touched bucket when the
// table exceeds maxEntries. Must be called with l.mu held.
func (l *Limiter) evictIfOverCapacity() {
	for len(l.buckets) > l.maxEntries {
		back := l.lru.Back()
		if back == nil {
			return
		}
		l.lru.Remove(back)
		delete(l.buckets, back.Value.(string))
	}
}

// Sweep removes buckets untouched for longer than maxIdle. Intended to be
// called periodically to bound memory for long-lived identities.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for e := l.lru.Back(); e != nil; {
		prev := e.Prev()
		id := e.Value.(string)
		b := l.buckets[id]
		if b.lastRequest.After(cutoff) || (b.lastRequest.IsZero() && b.windowStart.After(cutoff)) {
			break
		}
		l.lru.Remove(e)
		delete(l.buckets, id)
		removed++
		e = prev
	}
	return removed
}

// Len reports the current bucket table size, for tests and diagnostics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
