package bounce

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultContextByteCap bounds the prompt-context additions (tool outputs,
// sequential digests). Oldest entries are dropped first when over budget.
const DefaultContextByteCap = 8192

const digestSnippetChars = 400

// Digest renders prior votes for a sequential step: one line per vote with
// provider, confidence, and a content snippet. The result stays under
// byteCap by dropping the oldest lines first.
func Digest(votes []Vote, byteCap int) string {
	if len(votes) == 0 {
		return ""
	}
	if byteCap <= 0 {
		byteCap = DefaultContextByteCap
	}

	lines := make([]string, 0, len(votes))
	for _, v := range votes {
		if v.Failed() {
			lines = append(lines, fmt.Sprintf("- %s: no answer (%s)", v.Provider, v.Error))
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (confidence %.2f): %s", v.Provider, v.Confidence, snippet(v.Content)))
	}

	header := "Prior answers:"
	budget := byteCap - len(header) - 1
	lines = TruncateOldestFirst(lines, budget)
	if len(lines) == 0 {
		return ""
	}
	return header + "\n" + strings.Join(lines, "\n")
}

// snippet squeezes content onto one line and caps its length.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > digestSnippetChars {
		s = truncateRuneSafe(s, digestSnippetChars) + "..."
	}
	return s
}

// truncateRuneSafe cuts s to at most n bytes without splitting a rune.
func truncateRuneSafe(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// TruncateOldestFirst drops leading entries until the joined size (with
// newline separators) fits byteCap. A single oversized entry is truncated
// rather than dropped.
func TruncateOldestFirst(parts []string, byteCap int) []string {
	if byteCap <= 0 {
		return parts
	}
	total := 0
	for _, p := range parts {
		total += len(p) + 1
	}
	start := 0
	for start < len(parts) && total > byteCap {
		total -= len(parts[start]) + 1
		start++
	}
	out := parts[start:]
	if len(out) == 0 && len(parts) > 0 {
		last := truncateRuneSafe(parts[len(parts)-1], byteCap)
		return []string{last}
	}
	return out
}
