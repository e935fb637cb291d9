// Package orchestrator wires identity, intent analysis, retrieval, and
// answer generation into the single query pipeline driving /query/analyze,
// /query/safe, and /query/batch.
package orchestrator

import (
	"github.com/wisbric/ragserver/pkg/intent"
	"github.com/wisbric/ragserver/pkg/retrieval"
)

// Request carries everything the pipeline needs for one query.
type Request struct {
	UserID                 string
	Query                  string
	Mode                   retrieval.Mode
	TopK                   int
	KB                     string
	Language               string
	Filters                map[string]string
	PerformanceMode        retrieval.PerformanceMode
	EnableRerank           bool
	EnableIntentAnalysis   bool
	EnableQueryEnhancement bool
	SafetyCheck            bool
	Stream                 bool
}

// AnalyzeResponse is the full response of the analyze-only endpoint.
type AnalyzeResponse struct {
	Analysis intent.AnalyzeResult
}

// Rejection describes a pipeline short-circuit at the safety gate.
type Rejection struct {
	SafetyLevel     intent.SafetyLevel
	Suggestions     []string
	SafeAlternatives []string
}

// Response is the full, non-streaming pipeline outcome.
type Response struct {
	Analysis    *intent.AnalyzeResult
	Rejected    bool
	Rejection   *Rejection
	Retrieval   *retrieval.Result
	Answer      string
	ElapsedSecs float64
}

// Event is one SSE-shaped pipeline event, emitted in streaming mode.
type Event struct {
	Type     string // "metadata", "content", "done", "error"
	Metadata *EventMetadata
	Content  string
	Elapsed  float64
	Err      string
}

// EventMetadata is the payload of the first streaming event.
type EventMetadata struct {
	Mode     retrieval.Mode
	KB       string
	Language string
	Stream   bool
}

func safeAlternatives() []string {
	return []string{
		"Ask about the history or social impact of this topic instead.",
		"Ask how to recognize or report this kind of activity.",
		"Ask how professionals or regulators address this topic.",
	}
}
