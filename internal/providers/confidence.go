package providers

import "strings"

// Confidence heuristic for backends that report no confidence of their own:
// start at 0.8, subtract 0.1 per weakness signal, clamp to [0.10, 0.95].
const (
	baseConfidence   = 0.8
	weaknessPenalty  = 0.1
	minConfidence    = 0.10
	maxConfidence    = 0.95
	shortAnswerChars = 40
)

var refusalPhrases = []string{
	"i cannot help",
	"i can't help",
	"i cannot assist",
	"i can't assist",
	"i am unable to",
	"i'm unable to",
	"i won't be able to",
	"cannot comply",
}

var disclaimerPhrases = []string{
	"as an ai",
	"as a language model",
	"i'm just an ai",
	"consult a professional",
}

// EstimateConfidence grades content by its weakness signals: empty output,
// refusal phrasing, an answer shorter than a small constant, or
// disclaimer-only text.
func EstimateConfidence(content string) float64 {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)

	signals := 0
	if trimmed == "" {
		signals++
	}
	if len(trimmed) < shortAnswerChars {
		signals++
	}
	if containsAny(lower, refusalPhrases) {
		signals++
	}
	if disclaimerOnly(lower) {
		signals++
	}

	return ClampConfidence(baseConfidence - weaknessPenalty*float64(signals))
}

// ClampConfidence bounds a heuristic confidence to [0.10, 0.95].
func ClampConfidence(v float64) float64 {
	if v < minConfidence {
		return minConfidence
	}
	if v > maxConfidence {
		return maxConfidence
	}
	return v
}

// Clamp01 bounds a backend-reported confidence to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// disclaimerOnly reports whether the answer is a bare disclaimer with no
// substance behind it.
func disclaimerOnly(lower string) bool {
	if !containsAny(lower, disclaimerPhrases) {
		return false
	}
	return len(lower) < 160
}
