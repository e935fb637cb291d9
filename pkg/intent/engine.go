package intent

import (
	"context"

	"github.com/wisbric/ragserver/internal/telemetry"
)

// Engine runs the intent/safety classification pipeline: a DFA-based rule
// pass that is always authoritative on fallback, plus an optional LLM pass
// that supersedes it when reachable and parseable.
type Engine struct {
	config           configRef
	llm              LLMClassifier
	llmEnabled       bool
	enableEnhancement bool
}

// Options configures an Engine.
type Options struct {
	Vocabulary        Vocabulary
	LLM               LLMClassifier
	LLMEnabled        bool
	EnableEnhancement bool
}

// New builds an Engine from opts.
func New(opts Options) *Engine {
	vocab := opts.Vocabulary
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	e := &Engine{llm: opts.LLM, llmEnabled: opts.LLMEnabled, enableEnhancement: opts.EnableEnhancement}
	e.config.store(newBundle(vocab))
	return e
}

// Analyze runs the full classification + optional enhancement pipeline.
func (e *Engine) Analyze(ctx context.Context, query string) AnalyzeResult {
	bundle := e.config.load()
	normalized := normalizeForScan(query)

	matches := bundle.scanner.Scan(normalized)
	safety, illegalEscalation := classifyOrientation(normalized, matches)
	intentType := classifyIntentType(normalized)
	if illegalEscalation {
		intentType = IllegalContent
	}

	result := AnalyzeResult{
		IntentType:  intentType,
		SafetyLevel: safety,
		Confidence:  ruleConfidence,
		RiskFactors: riskFactors(matches),
	}

	if e.llmEnabled && e.llm != nil {
		if llmType, llmSafety, err := e.llm.Classify(ctx, query); err == nil {
			result.IntentType = llmType
			result.SafetyLevel = llmSafety
			result.Confidence = llmConfidence
			result.UsedLLM = true
		}
		// LLM timeouts/errors fall through silently: the rule result above
		// is already authoritative.
	}

	if e.enableEnhancement && result.SafetyLevel != Illegal && result.SafetyLevel != Unsafe {
		result.EnhancedQuery = enhance(bundle, result.IntentType, query)
	}
	if result.SafetyLevel == Illegal || result.SafetyLevel == Unsafe {
		result.Suggestions = safetySuggestions(result.SafetyLevel)
		telemetry.SafetyRejectionsTotal.WithLabelValues(string(result.SafetyLevel)).Inc()
	}

	return result
}

// SafetyCheck runs only the safety half of the pipeline, over arbitrary
// content rather than a user query.
func (e *Engine) SafetyCheck(content string) SafetyCheckResult {
	bundle := e.config.load()
	normalized := normalizeForScan(content)
	matches := bundle.scanner.Scan(normalized)
	safety, _ := classifyOrientation(normalized, matches)

	return SafetyCheckResult{
		IsSafe:      safety == Safe || safety == Suspicious,
		SafetyLevel: safety,
		RiskFactors: riskFactors(matches),
	}
}

// EngineStatus summarizes an Engine's current runtime configuration. Its
// TemplateCount includes any templates registered via RegisterTemplate
// since startup; the sensitive vocabulary is not reported.
type EngineStatus struct {
	LLMEnabled         bool `json:"llm_enabled"`
	EnhancementEnabled bool `json:"enhancement_enabled"`
	TemplateCount      int  `json:"template_count"`
}

// Status reports the engine's current runtime configuration.
func (e *Engine) Status() EngineStatus {
	bundle := e.config.load()
	return EngineStatus{
		LLMEnabled:         e.llmEnabled,
		EnhancementEnabled: e.enableEnhancement,
		TemplateCount:      len(bundle.templates),
	}
}

func riskFactors(matches []Match) []string {
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m.Category] {
			seen[m.Category] = true
			out = append(out, m.Category)
		}
	}
	return out
}

func safetySuggestions(level SafetyLevel) []string {
	base := []string{
		"Consider rephrasing your question to focus on general, educational information.",
	}
	if level == Illegal {
		base = append(base, "This assistant cannot help with content related to illegal activity.")
	}
	return base
}
