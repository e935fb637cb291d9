package docstore

import (
	"regexp"
	"strings"
)

// entityPattern extracts runs of capitalized words as naive entity
// candidates (e.g. "Retrieval Augmented Generation", "United Nations").
// There is no NLP/NER library anywhere in the available dependency set, so
// entity extraction is this lexical heuristic rather than a model call;
// see DESIGN.md.
var entityPattern = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*)\b`)

// extractEntities returns the distinct capitalized phrases found in text,
// in first-seen order.
func extractEntities(text string) []string {
	matches := entityPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// coOccurrenceRelations pairs every distinct entity found together in one
// chunk, labeling the edge "co-occurs".
func coOccurrenceRelations(entities []string) []Relation {
	var out []Relation
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			out = append(out, Relation{Source: entities[i], Target: entities[j], Label: "co-occurs"})
		}
	}
	return out
}
