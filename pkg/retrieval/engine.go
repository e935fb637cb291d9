package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wisbric/ragserver/internal/apperr"
	"github.com/wisbric/ragserver/internal/telemetry"
	"github.com/wisbric/ragserver/pkg/llmclient"
)

// TokenBudget splits the context-assembly budget across entities,
// relations, and chunks; the remainder after entities and relations goes
// to chunks.
type TokenBudget struct {
	MaxTotalTokens    int
	MaxEntityTokens   int
	MaxRelationTokens int
}

// Engine runs the six retrieval modes against a vector index and knowledge
// graph, with optional reranking and token-budgeted context assembly.
type Engine struct {
	vector   VectorIndex
	graph    GraphStore
	reranker llmclient.Reranker
	budget   TokenBudget
}

// New builds an Engine. reranker may be nil, in which case rerank requests
// are silently no-ops (original vector order stands).
func New(vector VectorIndex, graph GraphStore, reranker llmclient.Reranker, budget TokenBudget) *Engine {
	return &Engine{vector: vector, graph: graph, reranker: reranker, budget: budget}
}

// Query runs one retrieval pass and returns its assembled result.
func (e *Engine) Query(ctx context.Context, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, apperr.New(apperr.BadInput, err.Error())
	}

	start := time.Now()
	defer func() {
		telemetry.RetrievalDuration.WithLabelValues(string(q.Mode)).Observe(time.Since(start).Seconds())
	}()

	t := tuningFor(q.PerformanceMode)
	fanout := q.TopK
	if t.fanout > fanout {
		fanout = t.fanout
	}

	result := &Result{Mode: q.Mode}

	switch q.Mode {
	case Bypass:
		result.Context = q.Text
		return result, nil

	case Naive:
		chunks, err := e.vector.Search(ctx, q.KB, q.Text, fanout)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "vector search", err)
		}
		result.Chunks = e.finish(ctx, q, chunks)

	case Local:
		chunks, err := e.vector.Search(ctx, q.KB, q.Text, fanout)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "vector search", err)
		}
		neighbors, err := e.graph.Neighbors1Hop(ctx, q.KB, chunks)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "graph neighbor expansion", err)
		}
		result.Chunks = e.finish(ctx, q, chunks)
		result.Entities = neighbors

	case Global:
		entities, relations, err := e.graph.Traverse(ctx, q.KB, q.Text, t.rerankDepth)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "graph traversal", err)
		}
		result.Entities = entities
		result.Relations = relations

	case Hybrid:
		localChunks, err := e.vector.Search(ctx, q.KB, q.Text, fanout)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "vector search", err)
		}
		entities, relations, err := e.graph.Traverse(ctx, q.KB, q.Text, t.rerankDepth)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "graph traversal", err)
		}
		result.Chunks = e.finish(ctx, q, localChunks)
		result.Entities = entities
		result.Relations = relations

	case Mix:
		localChunks, err := e.vector.Search(ctx, q.KB, q.Text, fanout)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "vector search", err)
		}
		neighbors, err := e.graph.Neighbors1Hop(ctx, q.KB, localChunks)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "graph neighbor expansion", err)
		}
		entities, relations, err := e.graph.Traverse(ctx, q.KB, q.Text, t.rerankDepth)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "graph traversal", err)
		}
		result.Chunks = e.finish(ctx, q, localChunks)
		result.Entities = append(neighbors, entities...)
		result.Relations = relations
	}

	result.Context = assembleContext(result, e.budget)
	return result, nil
}

// finish applies reranking (if requested and configured) then truncates to
// top_k.
func (e *Engine) finish(ctx context.Context, q Query, chunks []Chunk) []Chunk {
	if q.EnableRerank && e.reranker != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		if scores, err := e.reranker.Rerank(ctx, q.Text, texts); err == nil && len(scores) == len(chunks) {
			for i := range chunks {
				chunks[i].Score = scores[i]
			}
		}
		// On rerank failure, original vector-score order stands — ties are
		// broken by that original score below regardless.
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if len(chunks) > q.TopK {
		chunks = chunks[:q.TopK]
	}
	return chunks
}

// assembleContext serializes chunks and graph neighborhoods into one prompt
// body within the configured token budget, dropping lowest-scoring items
// first when the budget is exceeded.
func assembleContext(r *Result, budget TokenBudget) string {
	if r.Mode == Bypass {
		return r.Context
	}

	entityBudget := budget.MaxEntityTokens
	relationBudget := budget.MaxRelationTokens
	chunkBudget := budget.MaxTotalTokens - entityBudget - relationBudget
	if chunkBudget < 0 {
		chunkBudget = 0
	}

	var b strings.Builder
	writeSection(&b, "Entities", neighborTexts(r.Entities), entityBudget)
	writeSection(&b, "Relations", neighborTexts(r.Relations), relationBudget)
	writeSection(&b, "Passages", chunkTexts(r.Chunks), chunkBudget)
	return b.String()
}

func neighborTexts(ns []GraphNeighbor) []scored {
	out := make([]scored, len(ns))
	for i, n := range ns {
		out[i] = scored{text: n.Text, score: n.Score, tokens: n.Tokens}
	}
	return out
}

func chunkTexts(cs []Chunk) []scored {
	out := make([]scored, len(cs))
	for i, c := range cs {
		out[i] = scored{text: c.Text, score: c.Score, tokens: c.Tokens}
	}
	return out
}

type scored struct {
	text   string
	score  float64
	tokens int
}

// writeSection appends the highest-scoring items first, dropping the
// lowest-scoring ones once budget is exhausted.
func writeSection(b *strings.Builder, title string, items []scored, budget int) {
	if len(items) == 0 {
		return
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	fmt.Fprintf(b, "## %s\n", title)
	spent := 0
	for _, it := range items {
		cost := it.tokens
		if cost == 0 {
			cost = estimateTokens(it.text)
		}
		if budget > 0 && spent+cost > budget {
			break
		}
		b.WriteString(it.text)
		b.WriteString("\n")
		spent += cost
	}
}

// estimateTokens is a coarse word-count proxy used only when an item
// doesn't carry its own token count.
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}
