package cache

import "testing"

func TestCoordinatorGetSetRoundTrip(t *testing.T) {
	co := NewCoordinator(1<<20, 100)
	if err := co.Set(Vector, "doc-1", []byte("embedding"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, hit, err := co.Get(Vector, "doc-1")
	if err != nil || !hit || string(v) != "embedding" {
		t.Fatalf("expected hit with value, got %q hit=%v err=%v", v, hit, err)
	}
}

func TestCoordinatorUnknownCacheNameErrors(t *testing.T) {
	co := NewCoordinator(1<<20, 100)
	if _, _, err := co.Get("not-a-cache", "k"); err == nil {
		t.Fatal("expected error for unknown cache name")
	}
	if err := co.Set("not-a-cache", "k", []byte("v"), 0); err == nil {
		t.Fatal("expected error for unknown cache name")
	}
	if _, _, err := co.ClearType("not-a-cache"); err == nil {
		t.Fatal("expected error for unknown cache name")
	}
}

func TestCoordinatorClearAllFreesEveryCache(t *testing.T) {
	co := NewCoordinator(1<<20, 100)
	names := []string{LLMResponse, Vector, KnowledgeGraph, Documents, Queries}
	for _, n := range names {
		if err := co.Set(n, "k", []byte("v"), 0); err != nil {
			t.Fatalf("unexpected error setting %s: %v", n, err)
		}
	}

	items, bytes := co.ClearAll()
	if items != len(names) {
		t.Fatalf("expected %d items freed, got %d", len(names), items)
	}
	if bytes != int64(len(names)) {
		t.Fatalf("expected %d bytes freed, got %d", len(names), bytes)
	}

	for _, n := range names {
		if _, hit, _ := co.Get(n, "k"); hit {
			t.Fatalf("expected cache %s to be empty after clear_all", n)
		}
	}
}

func TestCoordinatorStatsAllCoversEveryCache(t *testing.T) {
	co := NewCoordinator(1<<20, 100)
	stats, mem := co.StatsAll()

	for _, n := range []string{LLMResponse, Vector, KnowledgeGraph, Documents, Queries} {
		if _, ok := stats[n]; !ok {
			t.Fatalf("expected stats entry for cache %s", n)
		}
	}
	if mem.NumGoroutine <= 0 {
		t.Fatal("expected a positive goroutine count in the memory snapshot")
	}
}
