package docstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wisbric/ragserver/pkg/kb"
	"github.com/wisbric/ragserver/pkg/lock"
	"github.com/wisbric/ragserver/pkg/qastore"
	"github.com/wisbric/ragserver/pkg/retrieval"
)

// fakeEmbedder maps a string to a deterministic vector so similarity is
// predictable in tests without a real model, mirroring qastore's test double.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Dimension() int { return f.dim }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r)
	}
	return v, nil
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Dimension() int { return 8 }

func (f failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, f.err
}

func newTestManager(t *testing.T) *kb.Manager {
	t.Helper()
	locks := lock.NewTable(2 * time.Second)
	m, err := kb.NewManager(t.TempDir(), locks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Create(context.Background(), "default", "", "en", kb.DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func newTestStore(t *testing.T, embedder qastore.Embedder) *Store {
	t.Helper()
	m := newTestManager(t)
	locks := lock.NewTable(2 * time.Second)
	return New(m, embedder, locks)
}

func TestSplitTextChunksEmptyTextReturnsNil(t *testing.T) {
	if got := splitText("", 100, 10); got != nil {
		t.Fatalf("expected nil chunks for empty text, got %v", got)
	}
}

func TestSplitTextClampsOverlapGreaterThanSize(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	chunks := splitText(text, 10, 50)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
}

func TestSplitTextSnapsToWordBoundary(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta"
	chunks := splitText(text, 12, 4)
	for _, c := range chunks {
		if len(c) > 0 && c[len(c)-1] == ' ' {
			t.Fatalf("chunk retained trailing space: %q", c)
		}
	}
}

func TestSplitTextCoversEntireInput(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog repeatedly for many words in a row to force multiple chunks to be produced by the splitter."
	chunks := splitText(text, 20, 5)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
}

func TestInsertTextSucceedsAndPersistsChunks(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	res, err := s.InsertText(ctx, "default", "Retrieval Augmented Generation combines search with generation.", "doc1.txt", "en", 40, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusProcessed {
		t.Fatalf("expected processed status, got %v (err=%s)", res.Status, res.Error)
	}
	if res.ChunkCount == 0 {
		t.Fatal("expected at least one chunk")
	}

	doc, err := s.DocumentStatus(ctx, "default", res.DocumentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != StatusProcessed {
		t.Fatalf("expected processed status on reload, got %v", doc.Status)
	}
}

func TestInsertTextMarksFailedOnEmbedError(t *testing.T) {
	s := newTestStore(t, failingEmbedder{err: errTestEmbed})
	ctx := context.Background()

	res, err := s.InsertText(ctx, "default", "some content", "doc1.txt", "en", 40, 10)
	if err != nil {
		t.Fatalf("expected a recorded failure, not a Go error: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed status, got %v", res.Status)
	}
	if res.Error == "" {
		t.Fatal("expected error message on failed result")
	}
}

func TestInsertTextsIsolatesOneFailureFromOthers(t *testing.T) {
	m := newTestManager(t)
	locks := lock.NewTable(2 * time.Second)
	s := New(m, fakeEmbedder{dim: 8}, locks)
	ctx := context.Background()

	results := s.InsertTexts(ctx, "default", []string{"first text here", "second text here"}, "batch.txt", "en", 40, 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Status != StatusProcessed {
			t.Fatalf("result %d: expected processed, got %v", i, r.Status)
		}
	}
}

func TestSearchRanksByCosineSimilarityAndTruncatesToTopK(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	if _, err := s.InsertText(ctx, "default", "apple banana cherry", "a.txt", "en", 100, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.InsertText(ctx, "default", "zebra yak xylophone", "b.txt", "en", 100, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := s.Search(ctx, "default", "apple banana cherry", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d", len(results))
	}
}

func TestUpdateGraphRunsAutomaticallyOnInsertWhenAutoUpdateEnabled(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	if _, err := s.InsertText(ctx, "default", "Alpha Corp acquired Beta Industries in a deal.", "a.txt", "en", 1000, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nodes, edges, err := s.GraphStats(ctx, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodes == 0 {
		t.Fatal("expected entities to be extracted into the graph")
	}
	if edges == 0 {
		t.Fatal("expected co-occurrence relations to be recorded")
	}
}

func TestClearGraphEmptiesStats(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	if _, err := s.InsertText(ctx, "default", "Alpha Corp acquired Beta Industries.", "a.txt", "en", 1000, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ClearGraph(ctx, "default"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nodes, edges, err := s.GraphStats(ctx, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodes != 0 || edges != 0 {
		t.Fatalf("expected empty graph after clear, got nodes=%d edges=%d", nodes, edges)
	}
}

func TestNeighbors1HopReturnsRelationsTouchingSeedEntities(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	if _, err := s.InsertText(ctx, "default", "Alpha Corp acquired Beta Industries and Gamma LLC.", "a.txt", "en", 1000, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	neighbors, err := s.Neighbors1Hop(ctx, "default", []retrieval.Chunk{{Text: "Alpha Corp news"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(neighbors) == 0 {
		t.Fatal("expected at least one neighbor relation")
	}
}

func TestTraverseExpandsOutwardFromQueryEntities(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	if _, err := s.InsertText(ctx, "default", "Alpha Corp acquired Beta Industries.", "a.txt", "en", 1000, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entities, relations, err := s.Traverse(ctx, "default", "Alpha Corp", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) == 0 {
		t.Fatal("expected at least one entity from traversal")
	}
	if len(relations) == 0 {
		t.Fatal("expected at least one relation from traversal")
	}
}

func TestExtractEntitiesDedupsPreservingOrder(t *testing.T) {
	got := extractEntities("Alpha Corp met Beta Industries. Alpha Corp agreed.")
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct entities, got %v", got)
	}
	if got[0] != "Alpha Corp" || got[1] != "Beta Industries" {
		t.Fatalf("expected order preserved, got %v", got)
	}
}

func TestCoOccurrenceRelationsPairsEveryDistinctEntity(t *testing.T) {
	rel := coOccurrenceRelations([]string{"Alpha", "Beta", "Gamma"})
	if len(rel) != 3 {
		t.Fatalf("expected 3 pairs for 3 entities, got %d", len(rel))
	}
}

func TestInsertFileAcceptsPlainText(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	res, err := s.InsertFile(ctx, "default", "notes.txt", strings.NewReader("Some plain text notes about Alpha Corp."), "en", 200, 20, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusProcessed {
		t.Fatalf("expected processed, got %v (err=%s)", res.Status, res.Error)
	}
}

func TestInsertFileRejectsDisallowedType(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	_, err := s.InsertFile(ctx, "default", "image.png", strings.NewReader(string(png)), "en", 200, 20, nil)
	if err == nil {
		t.Fatal("expected an error for a non-text file type")
	}
}

func TestInsertFilesIsolatesOneFailureFromOthers(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	files := map[string]io.Reader{
		"a.txt": strings.NewReader("first document text"),
		"b.txt": strings.NewReader("second document text"),
	}

	results := s.InsertFiles(ctx, "default", files, "en", 200, 20, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Status != StatusProcessed {
			t.Fatalf("result %d: expected processed, got %v (err=%s)", i, r.Status, r.Error)
		}
	}
}

func TestInsertDirectoryIngestsOnlyTextFiles(t *testing.T) {
	s := newTestStore(t, fakeEmbedder{dim: 8})
	ctx := context.Background()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("Alpha Corp news today."), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("skip me"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := s.InsertDirectory(ctx, "default", dir, "en", 200, 20, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result (hidden file skipped), got %d", len(results))
	}
	if results[0].Status != StatusProcessed {
		t.Fatalf("expected processed, got %v (err=%s)", results[0].Status, results[0].Error)
	}
}

var errTestEmbed = &embedError{"embedding service unavailable"}

type embedError struct{ msg string }

func (e *embedError) Error() string { return e.msg }
