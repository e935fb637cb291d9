package docstore

import "strings"

// splitText slices text into overlapping chunks of roughly size runes,
// breaking on whitespace boundaries where possible so chunks don't sever
// a word mid-character. overlap must be smaller than size; a misconfigured
// overlap >= size is clamped to size/2 to guarantee forward progress.
func splitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 2
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		} else {
			end = extendToWordBoundary(runes, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}

// extendToWordBoundary nudges end forward to the next whitespace rune (up
// to a small lookahead) so chunks end on a word boundary instead of
// mid-word. Falls back to the original cut point if none is found nearby.
func extendToWordBoundary(runes []rune, end int) int {
	const lookahead = 40
	limit := end + lookahead
	if limit > len(runes) {
		limit = len(runes)
	}
	for i := end; i < limit; i++ {
		if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' {
			return i
		}
	}
	return end
}
