package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wisbric/ragserver/pkg/llmclient"
)

// CompleterClassifier adapts an llmclient.Completer into an LLMClassifier by
// prompting it for a strict JSON verdict and parsing the reply. A reply
// that isn't parseable JSON is treated as a classifier failure, letting the
// caller fall back to the rule engine.
type CompleterClassifier struct {
	completer llmclient.Completer
}

// NewCompleterClassifier wraps completer as an LLMClassifier.
func NewCompleterClassifier(completer llmclient.Completer) *CompleterClassifier {
	return &CompleterClassifier{completer: completer}
}

const classifyPromptTemplate = `Classify the following user query for intent and safety.
Respond with exactly one JSON object, no other text, in the form:
{"intent_type": "<one of knowledge_query|factual_question|analytical_question|procedural_question|creative_request|illegal_content|other>", "safety_level": "<one of safe|suspicious|unsafe|illegal>"}

Query: %s`

type classifyReply struct {
	IntentType  string `json:"intent_type"`
	SafetyLevel string `json:"safety_level"`
}

// Classify sends query through the completer and parses its verdict.
func (c *CompleterClassifier) Classify(ctx context.Context, query string) (Type, SafetyLevel, error) {
	completion, err := c.completer.Complete(ctx, fmt.Sprintf(classifyPromptTemplate, query))
	if err != nil {
		return "", "", fmt.Errorf("llm classify: %w", err)
	}

	raw := extractJSONObject(completion.Text)
	var reply classifyReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return "", "", fmt.Errorf("llm classify: parsing reply: %w", err)
	}

	return Type(reply.IntentType), SafetyLevel(reply.SafetyLevel), nil
}

// extractJSONObject trims any leading/trailing prose around the first
// top-level JSON object a model reply contains.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
