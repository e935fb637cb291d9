package intent

import (
	"strings"
	"sync/atomic"
)

// Bundle is the full set of runtime-configurable rule inputs: the
// vocabulary-backed scanner and the enhancement templates. Registering a
// custom type, safety rule, or template publishes a new Bundle rather than
// mutating the one in flight, so in-progress Analyze calls never observe a
// half-updated configuration.
type Bundle struct {
	scanner   *Scanner
	templates map[Type]enhancementTemplate
}

func newBundle(vocab Vocabulary) *Bundle {
	templates := make(map[Type]enhancementTemplate, len(baseTemplates))
	for k, v := range baseTemplates {
		templates[k] = v
	}
	return &Bundle{scanner: NewScanner(vocab), templates: templates}
}

// configRef holds the current Bundle behind an atomic pointer so readers
// never take a lock and never see a partially-constructed bundle.
type configRef struct {
	ref atomic.Pointer[Bundle]
}

func (c *configRef) load() *Bundle {
	return c.ref.Load()
}

func (c *configRef) store(b *Bundle) {
	c.ref.Store(b)
}

// RegisterTemplate publishes a new enhancement template for intentType,
// copy-on-write: existing Analyze calls keep running against the bundle
// they already loaded.
func (e *Engine) RegisterTemplate(intentType Type, tmpl func(query string) string) {
	current := e.config.load()
	next := &Bundle{scanner: current.scanner, templates: make(map[Type]enhancementTemplate, len(current.templates))}
	for k, v := range current.templates {
		next.templates[k] = v
	}
	next.templates[intentType] = tmpl
	e.config.store(next)
}

// RegisterTemplateString publishes a textual enhancement template for
// intentType, substituting the literal "{query}" placeholder for the query
// at render time. Exists so callers over HTTP can register a template
// without shipping Go code.
func (e *Engine) RegisterTemplateString(intentType Type, format string) {
	e.RegisterTemplate(intentType, func(query string) string {
		return strings.ReplaceAll(format, "{query}", query)
	})
}

// ReloadVocabulary rebuilds the sensitive-word scanner from a new
// vocabulary and publishes it atomically alongside the existing templates.
func (e *Engine) ReloadVocabulary(vocab Vocabulary) {
	current := e.config.load()
	next := &Bundle{scanner: NewScanner(vocab), templates: current.templates}
	e.config.store(next)
}
