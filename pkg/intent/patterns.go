package intent

import "strings"

// educationalPatterns mark phrasing oriented toward recognizing, preventing,
// or understanding a topic rather than carrying it out.
var educationalPatterns = []string{
	"how to prevent", "how to recognize", "how to identify", "how to protect against",
	"how to avoid", "why do people", "what are the signs of", "history of",
}

// instructivePatterns mark phrasing oriented toward performing the act
// itself. An instructive pattern cancels an educational cancellation: if
// both appear, the query is treated as instructive.
var instructivePatterns = []string{
	"how to make", "how to build", "how to carry out", "step by step",
	"how do i make", "instructions for", "how to create", "how to obtain",
}

func matchesAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// illegalCategories names the sensitive-word categories that, absent an
// educational cancellation, escalate a query straight to illegal.
var illegalCategories = map[string]bool{
	"weapons": true,
	"drugs":   true,
	"violence": true,
}

// classifyOrientation applies the educational/instructive cancellation
// rule: an illegal-category match escalates to illegal unless an
// educational pattern is present; an instructive pattern cancels that
// educational cancellation.
func classifyOrientation(normalized string, matches []Match) (SafetyLevel, bool) {
	hasIllegalCategoryMatch := false
	for _, m := range matches {
		if illegalCategories[m.Category] {
			hasIllegalCategoryMatch = true
			break
		}
	}
	if !hasIllegalCategoryMatch {
		if len(matches) > 0 {
			return Suspicious, false
		}
		return Safe, false
	}

	educational := matchesAny(normalized, educationalPatterns)
	instructive := matchesAny(normalized, instructivePatterns)
	if educational && !instructive {
		return Suspicious, false
	}
	return Illegal, true
}
