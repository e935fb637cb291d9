package identity

import (
	"context"
	"sync"
	"testing"
	"time"
)

// P2: rate isolation — two distinct identities each get their own bucket.
func TestLimiterIsolatesIdentities(t *testing.T) {
	l := NewLimiter(map[string]int{"default": 10}, time.Minute, 0, 1000)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if d := l.Admit(ctx, "user-a", "default"); !d.Accepted() {
			t.Fatalf("user-a request %d unexpectedly rejected", i)
		}
	}
	for i := 0; i < 10; i++ {
		if d := l.Admit(ctx, "user-b", "default"); !d.Accepted() {
			t.Fatalf("user-b request %d unexpectedly rejected", i)
		}
	}
	if d := l.Admit(ctx, "user-a", "default"); d.Accepted() {
		t.Fatal("expected user-a's 11th request to be rejected")
	}
}

// P3: min interval enforcement.
func TestLimiterMinInterval(t *testing.T) {
	l := NewLimiter(map[string]int{"default": 1000}, time.Minute, 500*time.Millisecond, 1000)
	fakeNow := time.Now()
	l.now = func() time.Time { return fakeNow }
	ctx := context.Background()

	if d := l.Admit(ctx, "user-a", "default"); !d.Accepted() {
		t.Fatal("first request should be accepted")
	}

	fakeNow = fakeNow.Add(200 * time.Millisecond)
	d := l.Admit(ctx, "user-a", "default")
	if d.Accepted() || d.Reason != RejectInterval {
		t.Fatalf("expected reject-interval, got %+v", d)
	}
}

// P5-adjacent: bucket table stays bounded under concurrent load.
func TestLimiterBoundedLRU(t *testing.T) {
	l := NewLimiter(map[string]int{"default": 1000}, time.Minute, 0, 50)
	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Admit(context.Background(), string(rune('a'+i%26))+string(rune(i)), "default")
		}(i)
	}
	wg.Wait()
	if l.Len() > 50 {
		t.Fatalf("expected bucket table bounded at 50, got %d", l.Len())
	}
}
