package orchestrator

import (
	"context"
	"time"

	"github.com/wisbric/ragserver/internal/apperr"
	"github.com/wisbric/ragserver/pkg/intent"
	"github.com/wisbric/ragserver/pkg/llmclient"
	"github.com/wisbric/ragserver/pkg/retrieval"
)

// Orchestrator runs the query pipeline: admission has already happened in
// middleware by the time a request reaches here, so step 1 of the pipeline
// is a read of the already-derived identity, never a second token-bucket
// consumption.
type Orchestrator struct {
	intent    *intent.Engine
	retrieval *retrieval.Engine
	completer llmclient.Completer
}

// New builds an Orchestrator from its three collaborators.
func New(intentEngine *intent.Engine, retrievalEngine *retrieval.Engine, completer llmclient.Completer) *Orchestrator {
	return &Orchestrator{intent: intentEngine, retrieval: retrievalEngine, completer: completer}
}

// Analyze runs only the intent/safety step. Used by /query/analyze, which
// never reaches the retrieval engine.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) AnalyzeResponse {
	return AnalyzeResponse{Analysis: o.intent.Analyze(ctx, req.Query)}
}

// Execute runs the full pipeline non-streaming: analysis, safety gate,
// enhancement, retrieval, generation.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp := &Response{}

	query := req.Query
	if req.EnableIntentAnalysis || req.SafetyCheck {
		analysis := o.intent.Analyze(ctx, query)
		resp.Analysis = &analysis

		if req.SafetyCheck && (analysis.SafetyLevel == intent.Illegal || analysis.SafetyLevel == intent.Unsafe) {
			resp.Rejected = true
			resp.Rejection = &Rejection{
				SafetyLevel:      analysis.SafetyLevel,
				Suggestions:      analysis.Suggestions,
				SafeAlternatives: safeAlternatives(),
			}
			resp.ElapsedSecs = time.Since(start).Seconds()
			return resp, nil
		}

		if req.EnableQueryEnhancement && analysis.EnhancedQuery != "" {
			query = analysis.EnhancedQuery
		}
	}

	result, err := o.retrieval.Query(ctx, retrieval.Query{
		Text:            query,
		Mode:            req.Mode,
		TopK:            req.TopK,
		KB:              req.KB,
		Language:        req.Language,
		Filters:         req.Filters,
		PerformanceMode: req.PerformanceMode,
		EnableRerank:    req.EnableRerank,
	})
	if err != nil {
		return nil, err
	}
	resp.Retrieval = result

	if req.Mode != retrieval.Bypass && o.completer != nil {
		completion, err := o.completer.Complete(ctx, result.Context)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, "answer generation", err)
		}
		resp.Answer = completion.Text
	} else {
		resp.Answer = result.Context
	}

	resp.ElapsedSecs = time.Since(start).Seconds()
	return resp, nil
}

// ExecuteStream runs the full pipeline and emits SSE-shaped events on the
// returned channel: one metadata event, many content events, then a
// terminal done or error event. The channel is closed when the pipeline
// finishes or ctx is cancelled; disconnect is the caller's responsibility
// to signal by cancelling ctx, which this loop checks between fragments.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 4)

	go func() {
		defer close(events)
		start := time.Now()

		query := req.Query
		if req.EnableIntentAnalysis || req.SafetyCheck {
			analysis := o.intent.Analyze(ctx, query)

			if req.SafetyCheck && (analysis.SafetyLevel == intent.Illegal || analysis.SafetyLevel == intent.Unsafe) {
				events <- Event{Type: "metadata", Metadata: &EventMetadata{Mode: req.Mode, KB: req.KB, Language: req.Language, Stream: true}}
				events <- Event{Type: "error", Err: "rejected-by-safety"}
				return
			}

			if req.EnableQueryEnhancement && analysis.EnhancedQuery != "" {
				query = analysis.EnhancedQuery
			}
		}

		events <- Event{Type: "metadata", Metadata: &EventMetadata{Mode: req.Mode, KB: req.KB, Language: req.Language, Stream: true}}

		result, err := o.retrieval.Query(ctx, retrieval.Query{
			Text:            query,
			Mode:            req.Mode,
			TopK:            req.TopK,
			KB:              req.KB,
			Language:        req.Language,
			Filters:         req.Filters,
			PerformanceMode: req.PerformanceMode,
			EnableRerank:    req.EnableRerank,
		})
		if err != nil {
			events <- Event{Type: "error", Err: err.Error()}
			return
		}

		if req.Mode == retrieval.Bypass || o.completer == nil {
			if !emitOrStop(ctx, events, result.Context) {
				return
			}
			events <- Event{Type: "done", Elapsed: time.Since(start).Seconds()}
			return
		}

		fragments, err := o.completer.Stream(ctx, result.Context)
		if err != nil {
			events <- Event{Type: "error", Err: err.Error()}
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-fragments:
				if !ok || chunk.Done {
					events <- Event{Type: "done", Elapsed: time.Since(start).Seconds()}
					return
				}
				if chunk.Text == "" {
					continue
				}
				if !emitOrStop(ctx, events, chunk.Text) {
					return
				}
			}
		}
	}()

	return events
}

// emitOrStop sends one content event, checking for client disconnect
// (ctx cancellation) before sending. Returns false when the caller should
// stop producing further events.
func emitOrStop(ctx context.Context, events chan<- Event, text string) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case <-ctx.Done():
		return false
	case events <- Event{Type: "content", Content: text}:
		return true
	}
}
