package intent

import "context"

// LLMClassifier is the optional LLM fallback path. Implementations send the
// query through an analysis prompt and parse a structured reply; a timeout
// or error here never fails the pipeline, it just means the rule result
// stands.
type LLMClassifier interface {
	Classify(ctx context.Context, query string) (Type, SafetyLevel, error)
}
