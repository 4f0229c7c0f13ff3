// Package deepthink runs the explicit deep-analysis command: an
// optional prompt-rewrite stage over recent history, then a single-shot
// call to the deep model, with long responses split for the platform
// message limit.
package deepthink

import "strings"

// Split breaks s into parts of at most max bytes each. Cut points
// prefer paragraph breaks, then sentence ends, then a hard cut. Parts
// are contiguous substrings of s; concatenating them reproduces s
// exactly.
func Split(s string, max int) []string {
	if max <= 0 || len(s) <= max {
		return []string{s}
	}

	var parts []string
	for len(s) > max {
		cut := cutPoint(s, max)
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		parts = append(parts, s)
	}
	return parts
}

// cutPoint finds where to end the next part: after the last paragraph
// break within max, else after the last sentence end, else exactly at
// max. Separators stay attached to the preceding part so the split is
// lossless.
func cutPoint(s string, max int) int {
	window := s[:max]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + len("\n\n")
	}
	if idx := strings.LastIndex(window, ". "); idx > 0 {
		return idx + len(". ")
	}

	// Hard cut. Back up so a multi-byte rune is never torn apart.
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return cut
}
