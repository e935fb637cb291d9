package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestInitializerRunsCreateOnce(t *testing.T) {
	init := NewInitializer[string]()
	var store sync.Map
	var createCalls int32

	lookup := func() (string, bool) {
		v, ok := store.Load("k")
		if !ok {
			return "", false
		}
		return v.(string), true
	}
	create := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&createCalls, 1)
		store.Store("k", "initialized")
		return "initialized", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := init.GetOrInit(context.Background(), "k", lookup, create)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&createCalls) != 1 {
		t.Fatalf("expected exactly one create call, got %d", createCalls)
	}
	for _, r := range results {
		if r != "initialized" {
			t.Fatalf("expected every caller to observe the initialized value, got %q", r)
		}
	}
}

func TestInitializerReturnsExistingWithoutCreate(t *testing.T) {
	init := NewInitializer[int]()
	lookup := func() (int, bool) { return 42, true }
	create := func(ctx context.Context) (int, error) {
		t.Fatal("create should not be called when lookup already finds a value")
		return 0, nil
	}

	v, err := init.GetOrInit(context.Background(), "k", lookup, create)
	if err != nil || v != 42 {
		t.Fatalf("expected (42, nil), got (%d, %v)", v, err)
	}
}
