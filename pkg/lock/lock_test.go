package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTableSerializesSameName(t *testing.T) {
	tbl := NewTable(time.Second)
	var counter int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := tbl.Acquire(context.Background(), "category-a", "write")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			defer h.Release()

			n := atomic.AddInt32(&counter, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&counter, -1)
		}()
	}
	wg.Wait()

	if maxObserved != 1 {
		t.Fatalf("expected at most 1 concurrent holder of the same name, observed %d", maxObserved)
	}
}

func TestAcquireManyLexOrderAndReverseRelease(t *testing.T) {
	tbl := NewTable(time.Second)
	h, err := tbl.AcquireMany(context.Background(), []string{"zeta", "alpha", "mu"}, "batch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alpha", "mu", "zeta"}
	for i, n := range want {
		if h.names[i] != n {
			t.Fatalf("expected lex order %v, got %v", want, h.names)
		}
	}
	h.Release()
}

func TestAcquireTimesOutOnHeldLock(t *testing.T) {
	tbl := NewTable(30 * time.Millisecond)
	h1, err := tbl.Acquire(context.Background(), "busy", "write")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h1.Release()

	_, err = tbl.Acquire(context.Background(), "busy", "write")
	if err == nil {
		t.Fatal("expected timeout error while lock is held")
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	tbl := NewTable(time.Second)
	h, err := tbl.Acquire(context.Background(), "once", "write")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Release()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	h.Release()
}
