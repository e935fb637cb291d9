package qastore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wisbric/ragserver/pkg/lock"
)

// fakeEmbedder maps a question string to a deterministic one-hot-ish
// vector so similarity is predictable in tests without a real model.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Dimension() int { return f.dim }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r)
	}
	return v, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	locks := lock.NewTable(2 * time.Second)
	s, err := New(dir, fakeEmbedder{dim: 8}, locks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestAddThenQueryFindsExactMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, QAPair{Question: "how do I reset my password", Answer: "click forgot password", Category: "account", Confidence: 0.95})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	result, err := s.Query(ctx, "how do I reset my password", 5, 0.5, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Found || result.Answer != "click forgot password" {
		t.Fatalf("expected exact match, got %+v", result)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, QAPair{Question: "", Category: "x", Confidence: 0.5}); err == nil {
		t.Fatal("expected error for empty question")
	}
	if _, err := s.Add(ctx, QAPair{Question: "q", Category: "x", Confidence: 1.5}); err == nil {
		t.Fatal("expected error for out-of-range confidence")
	}
}

func TestDeletePairRemovesFromCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, QAPair{Question: "what is your refund policy", Answer: "30 days", Category: "billing", Confidence: 0.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, "billing", id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, "billing", id); err == nil {
		t.Fatal("expected not-found deleting an already-removed pair")
	}
}

func TestDeleteCategoryRemovesDirectoryAndPairs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, QAPair{Question: "q1", Answer: "a1", Category: "temp", Confidence: 0.9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := s.DeleteCategory(ctx, "temp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DeletedCount != 1 || !res.FolderDeleted {
		t.Fatalf("expected deleted_count=1 folder_deleted=true, got %+v", res)
	}

	result, err := s.Query(ctx, "q1", 5, 0.1, "temp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Matches) != 0 {
		t.Fatal("expected no matches after category deletion")
	}
}

func TestAddBatchReportsPartialFailuresWithoutRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pairs := []QAPair{
		{Question: "good one", Answer: "a", Category: "cat-a", Confidence: 0.9},
		{Question: "", Answer: "a", Category: "cat-a", Confidence: 0.9},
		{Question: "another good one", Answer: "b", Category: "cat-b", Confidence: 0.9},
	}
	result, err := s.AddBatch(ctx, pairs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Succeeded) != 2 {
		t.Fatalf("expected 2 successes, got %d", len(result.Succeeded))
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(result.Failed))
	}

	stats, err := s.Statistics(ctx, 0.8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalPairs != 2 {
		t.Fatalf("expected 2 total pairs to survive the partial batch, got %d", stats.TotalPairs)
	}
}

func TestImportCSVThenExportJSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	csvPayload := "question,answer,category\nwhat are your hours,9 to 5,support\n"
	result, err := s.Import(ctx, FormatCSV, strings.NewReader(csvPayload), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("expected 1 succeeded import, got %+v", result)
	}

	var buf strings.Builder
	if err := s.Export(ctx, FormatJSON, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "9 to 5") {
		t.Fatalf("expected exported JSON to contain the imported answer, got %s", buf.String())
	}
}

func TestReopenStorePreservesEmbeddingAlignment(t *testing.T) {
	dir := t.TempDir()
	locks := lock.NewTable(2 * time.Second)
	embedder := fakeEmbedder{dim: 8}
	ctx := context.Background()

	s1, err := New(dir, embedder, locks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s1.Add(ctx, QAPair{Question: "alpha question about billing", Answer: "alpha answer", Category: "shared", Confidence: 0.9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s1.Add(ctx, QAPair{Question: "zeta question about shipping", Answer: "zeta answer", Category: "shared", Confidence: 0.9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s1.Add(ctx, QAPair{Question: "midway question about returns", Answer: "midway answer", Category: "shared", Confidence: 0.9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Reopen against the same directory, as a fresh process restart would.
	s2, err := New(dir, embedder, locks)
	if err != nil {
		t.Fatalf("unexpected error reopening store: %v", err)
	}

	for _, tc := range []struct{ question, wantAnswer string }{
		{"alpha question about billing", "alpha answer"},
		{"zeta question about shipping", "zeta answer"},
		{"midway question about returns", "midway answer"},
	} {
		result, err := s2.Query(ctx, tc.question, 1, 0.9, "shared")
		if err != nil {
			t.Fatalf("unexpected error querying %q: %v", tc.question, err)
		}
		if !result.Found || result.Answer != tc.wantAnswer {
			t.Fatalf("reopened store scrambled embeddings: querying %q got %+v, want answer %q", tc.question, result, tc.wantAnswer)
		}
	}
}

func TestImportDuplicateSkippedWithoutOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, QAPair{Question: "what is the return policy", Answer: "30 days", Category: "billing", Confidence: 0.9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := `[{"question":"what is the return policy","answer":"60 days","category":"billing"}]`
	result, err := s.Import(ctx, FormatJSON, strings.NewReader(payload), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DuplicateSkipped != 1 {
		t.Fatalf("expected duplicate to be skipped, got %+v", result)
	}
}
