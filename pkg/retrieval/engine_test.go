package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/wisbric/ragserver/internal/apperr"
)

type fakeVector struct {
	chunks  []Chunk
	calls   int
	lastKB  string
	lastTop int
}

func (f *fakeVector) Search(ctx context.Context, kb, text string, topK int) ([]Chunk, error) {
	f.calls++
	f.lastKB = kb
	f.lastTop = topK
	return f.chunks, nil
}

type fakeGraph struct {
	neighbors     []GraphNeighbor
	entities      []GraphNeighbor
	relations     []GraphNeighbor
	neighborCalls int
	traverseCalls int
}

func (f *fakeGraph) Neighbors1Hop(ctx context.Context, kb string, chunks []Chunk) ([]GraphNeighbor, error) {
	f.neighborCalls++
	return f.neighbors, nil
}

func (f *fakeGraph) Traverse(ctx context.Context, kb, text string, depth int) ([]GraphNeighbor, []GraphNeighbor, error) {
	f.traverseCalls++
	return f.entities, f.relations, nil
}

type failingReranker struct{}

func (failingReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	return nil, errors.New("reranker unavailable")
}

type reversingReranker struct{}

func (reversingReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = float64(i)
	}
	return scores, nil
}

func baseQuery(mode Mode) Query {
	return Query{Text: "what is retrieval augmented generation", Mode: mode, TopK: 5}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	q := baseQuery(Mode("nonsense"))
	err := q.Validate()
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestValidateRejectsOutOfRangeTopK(t *testing.T) {
	for _, topK := range []int{0, -1, 101} {
		q := baseQuery(Naive)
		q.TopK = topK
		if err := q.Validate(); err == nil {
			t.Fatalf("expected error for top_k=%d", topK)
		}
	}
}

func TestQueryRejectsInvalidQueryAsBadInput(t *testing.T) {
	e := New(&fakeVector{}, &fakeGraph{}, nil, TokenBudget{MaxTotalTokens: 100})
	_, err := e.Query(context.Background(), baseQuery(Mode("bogus")))
	if err == nil {
		t.Fatal("expected error")
	}
	apErr, ok := apperr.As(err)
	if !ok || apErr.Code != apperr.BadInput {
		t.Fatalf("expected BadInput, got %v", err)
	}
}

func TestBypassModeNeverTouchesStores(t *testing.T) {
	v := &fakeVector{}
	g := &fakeGraph{}
	e := New(v, g, nil, TokenBudget{MaxTotalTokens: 100})

	q := baseQuery(Bypass)
	result, err := e.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Context != q.Text {
		t.Fatalf("expected context to equal query text verbatim, got %q", result.Context)
	}
	if v.calls != 0 || g.neighborCalls != 0 || g.traverseCalls != 0 {
		t.Fatalf("bypass must not touch any store, got vector=%d neighbors=%d traverse=%d", v.calls, g.neighborCalls, g.traverseCalls)
	}
}

func TestNaiveModeOnlyCallsVector(t *testing.T) {
	v := &fakeVector{chunks: []Chunk{{Text: "a", Score: 0.9}, {Text: "b", Score: 0.5}}}
	g := &fakeGraph{}
	e := New(v, g, nil, TokenBudget{MaxTotalTokens: 1000})

	result, err := e.Query(context.Background(), baseQuery(Naive))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.calls != 1 {
		t.Fatalf("expected exactly one vector search, got %d", v.calls)
	}
	if g.neighborCalls != 0 || g.traverseCalls != 0 {
		t.Fatal("naive mode must never consult the graph")
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(result.Chunks))
	}
}

func TestGlobalModeNeverCallsVector(t *testing.T) {
	v := &fakeVector{}
	g := &fakeGraph{entities: []GraphNeighbor{{Label: "e1", Text: "entity one"}}}
	e := New(v, g, nil, TokenBudget{MaxTotalTokens: 1000})

	result, err := e.Query(context.Background(), baseQuery(Global))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.calls != 0 {
		t.Fatal("global mode must never consult the vector index")
	}
	if g.traverseCalls != 1 {
		t.Fatalf("expected exactly one traversal, got %d", g.traverseCalls)
	}
	if len(result.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(result.Entities))
	}
}

func TestLocalModeCallsVectorThenNeighbors(t *testing.T) {
	v := &fakeVector{chunks: []Chunk{{Text: "chunk", Score: 1}}}
	g := &fakeGraph{neighbors: []GraphNeighbor{{Label: "n1", Text: "neighbor"}}}
	e := New(v, g, nil, TokenBudget{MaxTotalTokens: 1000})

	result, err := e.Query(context.Background(), baseQuery(Local))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.calls != 1 || g.neighborCalls != 1 || g.traverseCalls != 0 {
		t.Fatalf("local mode should call vector+neighbors only, got vector=%d neighbors=%d traverse=%d", v.calls, g.neighborCalls, g.traverseCalls)
	}
	if len(result.Entities) != 1 {
		t.Fatal("expected entities from the 1-hop neighbor expansion")
	}
}

func TestHybridModeCallsVectorAndTraverse(t *testing.T) {
	v := &fakeVector{chunks: []Chunk{{Text: "chunk", Score: 1}}}
	g := &fakeGraph{entities: []GraphNeighbor{{Text: "e"}}, relations: []GraphNeighbor{{Text: "r"}}}
	e := New(v, g, nil, TokenBudget{MaxTotalTokens: 1000})

	result, err := e.Query(context.Background(), baseQuery(Hybrid))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.calls != 1 || g.traverseCalls != 1 || g.neighborCalls != 0 {
		t.Fatalf("hybrid mode should call vector+traverse only, got vector=%d neighbors=%d traverse=%d", v.calls, g.neighborCalls, g.traverseCalls)
	}
	if len(result.Entities) != 1 || len(result.Relations) != 1 {
		t.Fatal("expected both entities and relations from traversal")
	}
}

func TestMixModeCallsAllThree(t *testing.T) {
	v := &fakeVector{chunks: []Chunk{{Text: "chunk", Score: 1}}}
	g := &fakeGraph{
		neighbors: []GraphNeighbor{{Text: "neighbor"}},
		entities:  []GraphNeighbor{{Text: "entity"}},
		relations: []GraphNeighbor{{Text: "relation"}},
	}
	e := New(v, g, nil, TokenBudget{MaxTotalTokens: 1000})

	result, err := e.Query(context.Background(), baseQuery(Mix))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.calls != 1 || g.neighborCalls != 1 || g.traverseCalls != 1 {
		t.Fatalf("mix mode should call all three, got vector=%d neighbors=%d traverse=%d", v.calls, g.neighborCalls, g.traverseCalls)
	}
	if len(result.Entities) != 2 {
		t.Fatalf("expected neighbors+traversed entities merged, got %d", len(result.Entities))
	}
}

func TestRerankFailureFallsBackToOriginalOrder(t *testing.T) {
	v := &fakeVector{chunks: []Chunk{
		{Text: "low", Score: 0.2},
		{Text: "high", Score: 0.9},
	}}
	g := &fakeGraph{}
	e := New(v, g, failingReranker{}, TokenBudget{MaxTotalTokens: 1000})

	q := baseQuery(Naive)
	q.EnableRerank = true
	result, err := e.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Chunks[0].Text != "high" {
		t.Fatalf("expected original score order to stand after rerank failure, got %v", result.Chunks)
	}
}

func TestRerankSuccessReordersChunks(t *testing.T) {
	v := &fakeVector{chunks: []Chunk{
		{Text: "first", Score: 0.9},
		{Text: "second", Score: 0.1},
	}}
	g := &fakeGraph{}
	e := New(v, g, reversingReranker{}, TokenBudget{MaxTotalTokens: 1000})

	q := baseQuery(Naive)
	q.EnableRerank = true
	result, err := e.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Chunks[0].Text != "second" {
		t.Fatalf("expected reranker's score order to win, got %v", result.Chunks)
	}
}

func TestFinishTruncatesToTopK(t *testing.T) {
	chunks := []Chunk{{Score: 3}, {Score: 2}, {Score: 1}}
	v := &fakeVector{chunks: chunks}
	g := &fakeGraph{}
	e := New(v, g, nil, TokenBudget{MaxTotalTokens: 1000})

	q := baseQuery(Naive)
	q.TopK = 2
	result, err := e.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected truncation to top_k=2, got %d chunks", len(result.Chunks))
	}
}

func TestAssembleContextDropsLowestScoringWhenOverBudget(t *testing.T) {
	r := &Result{
		Mode: Naive,
		Chunks: []Chunk{
			{Text: "alpha beta gamma delta", Score: 0.9},
			{Text: "low scoring filler text here", Score: 0.1},
		},
	}
	budget := TokenBudget{MaxTotalTokens: 4, MaxEntityTokens: 0, MaxRelationTokens: 0}
	ctxStr := assembleContext(r, budget)
	if !containsSubstring(ctxStr, "alpha beta gamma delta") {
		t.Fatalf("expected highest-scoring chunk kept, got %q", ctxStr)
	}
	if containsSubstring(ctxStr, "low scoring filler") {
		t.Fatalf("expected lowest-scoring chunk dropped under budget, got %q", ctxStr)
	}
}

func TestAssembleContextBypassReturnsTextUnchanged(t *testing.T) {
	r := &Result{Mode: Bypass, Context: "verbatim text"}
	ctxStr := assembleContext(r, TokenBudget{MaxTotalTokens: 1})
	if ctxStr != "verbatim text" {
		t.Fatalf("expected bypass context untouched, got %q", ctxStr)
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
