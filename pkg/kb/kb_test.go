package kb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wisbric/ragserver/pkg/lock"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	locks := lock.NewTable(2 * time.Second)
	m, err := NewManager(t.TempDir(), locks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestCreateThenInfo(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Create(ctx, "docs", "internal docs", "en", DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := m.Info("docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Name != "docs" || info.Language != "en" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestDuplicateCreateFailsAlreadyExists(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Create(ctx, "docs", "", "en", DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Create(ctx, "docs", "", "en", DefaultConfig()); err == nil {
		t.Fatal("expected already-exists on duplicate create")
	}
}

func TestConcurrentCreateSameNameProducesOneKB(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	successes := 0
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Create(ctx, "race", "", "en", DefaultConfig()); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful create among concurrent callers, got %d", successes)
	}
	if len(m.List()) != 1 {
		t.Fatalf("expected exactly one knowledge base to exist, got %d", len(m.List()))
	}
}

func TestSwitchCurrentAndDeleteRefusesWithoutForce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Create(ctx, "kb-a", "", "en", DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SwitchCurrent("kb-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Current() != "kb-a" {
		t.Fatalf("expected current kb-a, got %q", m.Current())
	}

	if err := m.Delete(ctx, "kb-a", false); err == nil {
		t.Fatal("expected delete of current kb to be refused without force")
	}
	if err := m.Delete(ctx, "kb-a", true); err != nil {
		t.Fatalf("expected forced delete to succeed, got %v", err)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Create(ctx, "kb-b", "desc", "en", DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path, err := m.Backup(ctx, "kb-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Restore(ctx, "kb-b", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := m.Info("kb-b")
	if err != nil || info.Description != "desc" {
		t.Fatalf("expected restored metadata to match, got %+v err=%v", info, err)
	}
}
