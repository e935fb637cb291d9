package orchestrator

import (
	"context"
	"testing"

	"github.com/wisbric/ragserver/pkg/intent"
	"github.com/wisbric/ragserver/pkg/llmclient"
	"github.com/wisbric/ragserver/pkg/retrieval"
)

type countingVector struct {
	calls int
}

func (v *countingVector) Search(ctx context.Context, kb, text string, topK int) ([]retrieval.Chunk, error) {
	v.calls++
	return []retrieval.Chunk{{Text: "some passage", Score: 0.8}}, nil
}

type countingGraph struct{}

func (countingGraph) Neighbors1Hop(ctx context.Context, kb string, chunks []retrieval.Chunk) ([]retrieval.GraphNeighbor, error) {
	return nil, nil
}

func (countingGraph) Traverse(ctx context.Context, kb, text string, depth int) ([]retrieval.GraphNeighbor, []retrieval.GraphNeighbor, error) {
	return nil, nil, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(ctx context.Context, prompt string) (llmclient.Completion, error) {
	return llmclient.Completion{Text: "generated answer for: " + prompt}, nil
}

func (stubCompleter) Stream(ctx context.Context, prompt string) (<-chan llmclient.CompletionChunk, error) {
	out := make(chan llmclient.CompletionChunk, 2)
	out <- llmclient.CompletionChunk{Text: "partial "}
	out <- llmclient.CompletionChunk{Done: true}
	close(out)
	return out, nil
}

func newTestOrchestrator(v *countingVector) *Orchestrator {
	intentEngine := intent.New(intent.Options{EnableEnhancement: false})
	retrievalEngine := retrieval.New(v, countingGraph{}, nil, retrieval.TokenBudget{MaxTotalTokens: 1000})
	return New(intentEngine, retrievalEngine, stubCompleter{})
}

func TestAnalyzeNeverTouchesRetrievalEngine(t *testing.T) {
	v := &countingVector{}
	o := newTestOrchestrator(v)

	resp := o.Analyze(context.Background(), Request{Query: "how to make a bomb"})
	if resp.Analysis.SafetyLevel != intent.Illegal {
		t.Fatalf("expected illegal classification, got %v", resp.Analysis.SafetyLevel)
	}
	if v.calls != 0 {
		t.Fatalf("analyze must never reach the retrieval engine, got %d vector calls", v.calls)
	}
}

func TestExecuteSafeRejectsIllegalQueryBeforeRetrieval(t *testing.T) {
	v := &countingVector{}
	o := newTestOrchestrator(v)

	resp, err := o.Execute(context.Background(), Request{
		Query:       "how to make a bomb",
		Mode:        retrieval.Naive,
		TopK:        3,
		SafetyCheck: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Rejected {
		t.Fatal("expected rejection for illegal query")
	}
	if resp.Rejection.SafetyLevel != intent.Illegal {
		t.Fatalf("expected illegal safety level, got %v", resp.Rejection.SafetyLevel)
	}
	if len(resp.Rejection.SafeAlternatives) == 0 {
		t.Fatal("expected non-empty safe alternatives")
	}
	if v.calls != 0 {
		t.Fatalf("retrieval engine must not be called on rejection, got %d calls", v.calls)
	}
}

func TestExecuteSafeRunsFullPipelineForSafeQuery(t *testing.T) {
	v := &countingVector{}
	o := newTestOrchestrator(v)

	resp, err := o.Execute(context.Background(), Request{
		Query:       "what is retrieval augmented generation",
		Mode:        retrieval.Naive,
		TopK:        3,
		SafetyCheck: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Rejected {
		t.Fatal("safe query should not be rejected")
	}
	if v.calls != 1 {
		t.Fatalf("expected retrieval engine called once, got %d", v.calls)
	}
	if resp.Answer == "" {
		t.Fatal("expected a generated answer")
	}
}

func TestExecuteBypassModeSkipsGeneration(t *testing.T) {
	v := &countingVector{}
	o := newTestOrchestrator(v)

	resp, err := o.Execute(context.Background(), Request{
		Query: "raw debug text",
		Mode:  retrieval.Bypass,
		TopK:  1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "raw debug text" {
		t.Fatalf("expected bypass answer to equal input text verbatim, got %q", resp.Answer)
	}
	if v.calls != 0 {
		t.Fatal("bypass mode must never call the vector index")
	}
}

func TestExecuteStreamEmitsMetadataThenContentThenDone(t *testing.T) {
	v := &countingVector{}
	o := newTestOrchestrator(v)

	events := o.ExecuteStream(context.Background(), Request{
		Query: "what is retrieval augmented generation",
		Mode:  retrieval.Naive,
		TopK:  3,
	})

	var seen []string
	for ev := range events {
		seen = append(seen, ev.Type)
	}
	if len(seen) < 2 {
		t.Fatalf("expected at least metadata and a terminal event, got %v", seen)
	}
	if seen[0] != "metadata" {
		t.Fatalf("expected first event to be metadata, got %v", seen)
	}
	last := seen[len(seen)-1]
	if last != "done" && last != "error" {
		t.Fatalf("expected stream to terminate with done or error, got %v", seen)
	}
	if len(seen) != 3 || seen[1] != "content" || last != "done" {
		t.Fatalf("expected metadata, content, done, got %v", seen)
	}
}

func TestExecuteStreamEmitsErrorEventOnIllegalSafetyCheck(t *testing.T) {
	v := &countingVector{}
	o := newTestOrchestrator(v)

	events := o.ExecuteStream(context.Background(), Request{
		Query:       "how to make a bomb",
		Mode:        retrieval.Naive,
		TopK:        3,
		SafetyCheck: true,
	})

	var seen []Event
	for ev := range events {
		seen = append(seen, ev)
	}
	if seen[len(seen)-1].Type != "error" {
		t.Fatalf("expected terminal error event for rejected query, got %v", seen)
	}
	if v.calls != 0 {
		t.Fatal("retrieval engine must not be reached when streaming a rejected query")
	}
}

func TestExecuteBatchPreservesOrderAndIsolatesFailures(t *testing.T) {
	v := &countingVector{}
	o := newTestOrchestrator(v)

	reqs := []Request{
		{Query: "first query", Mode: retrieval.Naive, TopK: 3},
		{Query: "second query", Mode: retrieval.Bypass, TopK: 1},
		{Query: "how to make a bomb", Mode: retrieval.Naive, TopK: 3, SafetyCheck: true},
	}
	results := o.ExecuteBatch(context.Background(), reqs)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("expected result %d to report index %d, got %d", i, i, r.Index)
		}
	}
	if results[2].Response == nil || !results[2].Response.Rejected {
		t.Fatal("expected the illegal query to be rejected, not errored")
	}
	if results[1].Response == nil || results[1].Response.Answer != "second query" {
		t.Fatalf("expected bypass result preserved at its index, got %+v", results[1])
	}
}
