package intent

import (
	"fmt"
	"strings"
)

// enhancementTemplate renders an enhanced query body for one intent type.
// Templates live in code, matching the contract that callers configure
// custom types/rules at runtime but the base templates are not externally
// configurable data.
type enhancementTemplate func(query string) string

var baseTemplates = map[Type]enhancementTemplate{
	KnowledgeQuery: func(q string) string {
		return fmt.Sprintf("Provide a comprehensive, well-sourced answer to: %s", q)
	},
	FactualQuestion: func(q string) string {
		return fmt.Sprintf("State the precise factual answer, with supporting detail, to: %s", q)
	},
	AnalyticalQuestion: func(q string) string {
		return fmt.Sprintf("Analyze and compare the relevant factors to answer: %s", q)
	},
	ProceduralQuestion: func(q string) string {
		return fmt.Sprintf("Give clear, ordered steps to accomplish: %s", q)
	},
	CreativeRequest: func(q string) string {
		return fmt.Sprintf("Respond creatively and engagingly to: %s", q)
	},
}

// classifyIntentType guesses an intent type from simple lexical cues. This is
// the rule path's intent classification; the LLM path, when enabled,
// supersedes it.
func classifyIntentType(normalized string) Type {
	switch {
	case containsAny(normalized, "how to", "how do i", "steps to"):
		return ProceduralQuestion
	case containsAny(normalized, "why", "compare", "difference between", "analyze"):
		return AnalyticalQuestion
	case containsAny(normalized, "what is", "who is", "when did", "where is"):
		return FactualQuestion
	case containsAny(normalized, "write a", "compose", "create a story", "imagine"):
		return CreativeRequest
	case containsAny(normalized, "explain", "describe", "tell me about"):
		return KnowledgeQuery
	default:
		return Other
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// enhance applies the template for intentType, or returns query unchanged
// if no template is registered for it.
func enhance(bundle *Bundle, intentType Type, query string) string {
	if tmpl, ok := bundle.templates[intentType]; ok {
		return tmpl(query)
	}
	return query
}
