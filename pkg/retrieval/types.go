// Package retrieval implements the six query modes over the vector index
// and knowledge graph: naive, local, global, hybrid, mix, and bypass.
package retrieval

import (
	"context"
	"fmt"
)

// Mode selects which stores a query consults and how results are combined.
type Mode string

const (
	Naive  Mode = "naive"
	Local  Mode = "local"
	Global Mode = "global"
	Hybrid Mode = "hybrid"
	Mix    Mode = "mix"
	Bypass Mode = "bypass"
)

var validModes = map[Mode]bool{Naive: true, Local: true, Global: true, Hybrid: true, Mix: true, Bypass: true}

// PerformanceMode tunes chunk-read fanout, rerank depth, and max tokens.
type PerformanceMode string

const (
	Fast     PerformanceMode = "fast"
	Balanced PerformanceMode = "balanced"
	Quality  PerformanceMode = "quality"
)

type tuning struct {
	fanout      int
	rerankDepth int
	maxTokens   int
}

var tuningByPerformanceMode = map[PerformanceMode]tuning{
	Fast:     {fanout: 20, rerankDepth: 0, maxTokens: 2000},
	Balanced: {fanout: 50, rerankDepth: 10, maxTokens: 4000},
	Quality:  {fanout: 100, rerankDepth: 30, maxTokens: 8000},
}

func tuningFor(mode PerformanceMode) tuning {
	if t, ok := tuningByPerformanceMode[mode]; ok {
		return t
	}
	return tuningByPerformanceMode[Balanced]
}

// Query carries every retrieval parameter.
type Query struct {
	Text            string
	Mode            Mode
	TopK            int
	KB              string
	Language        string
	Filters         map[string]string
	PerformanceMode PerformanceMode
	EnableRerank    bool
	Stream          bool
}

// Validate enforces the parameter constraints retrieval requires.
func (q Query) Validate() error {
	if !validModes[q.Mode] {
		return fmt.Errorf("unknown retrieval mode %q", q.Mode)
	}
	if q.TopK < 1 || q.TopK > 100 {
		return fmt.Errorf("top_k must be within [1, 100], got %d", q.TopK)
	}
	return nil
}

// Chunk is one retrieved text fragment with its similarity score.
type Chunk struct {
	DocumentID string
	Text       string
	Score      float64
	Tokens     int
}

// GraphNeighbor is one entity or relation pulled from the knowledge graph.
type GraphNeighbor struct {
	Label  string
	Text   string
	Score  float64
	Tokens int
}

// Result is the non-streaming retrieval outcome.
type Result struct {
	Mode      Mode
	Chunks    []Chunk
	Entities  []GraphNeighbor
	Relations []GraphNeighbor
	Context   string
	Fragments []string // set when the caller requested streaming and collected it
}

// VectorIndex is the per-KB vector store the engine queries for naive,
// local, hybrid, and mix modes.
type VectorIndex interface {
	Search(ctx context.Context, kb, text string, topK int) ([]Chunk, error)
}

// GraphStore is the per-KB knowledge graph the engine queries for local,
// global, hybrid, and mix modes.
type GraphStore interface {
	Neighbors1Hop(ctx context.Context, kb string, chunks []Chunk) ([]GraphNeighbor, error)
	Traverse(ctx context.Context, kb, text string, depth int) (entities, relations []GraphNeighbor, err error)
}
