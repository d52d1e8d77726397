package bounce_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

func TestDigestRendersVotes(t *testing.T) {
	votes := []bounce.Vote{
		{Provider: "gpt-5", Confidence: 0.9, Content: "shard the table"},
		{Provider: "claude-opus", Confidence: 0.8, Content: "add a covering index"},
	}
	got := bounce.Digest(votes, 0)
	if !strings.HasPrefix(got, "Prior answers:") {
		t.Fatalf("digest missing header: %q", got)
	}
	if !strings.Contains(got, "gpt-5 (confidence 0.90): shard the table") {
		t.Fatalf("digest missing vote line: %q", got)
	}
	if !strings.Contains(got, "claude-opus (confidence 0.80)") {
		t.Fatalf("digest missing second vote: %q", got)
	}
}

func TestDigestEmpty(t *testing.T) {
	if got := bounce.Digest(nil, 0); got != "" {
		t.Fatalf("empty digest = %q", got)
	}
}

func TestDigestFailedVote(t *testing.T) {
	votes := []bounce.Vote{
		{Provider: "gpt-5", Error: bounce.KindProviderError, ErrorDetail: "500"},
	}
	got := bounce.Digest(votes, 0)
	if !strings.Contains(got, "gpt-5: no answer (provider_error)") {
		t.Fatalf("failed vote line = %q", got)
	}
}

func TestDigestSqueezesWhitespaceAndCapsSnippet(t *testing.T) {
	long := strings.Repeat("word ", 200)
	votes := []bounce.Vote{
		{Provider: "a", Confidence: 0.5, Content: "line\none\n\t line two   " + long},
	}
	got := bounce.Digest(votes, 0)
	if strings.Contains(got, "\nline") || strings.Contains(got, "\t") {
		t.Fatalf("snippet not flattened: %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Fatal("long snippet should be truncated with ellipsis")
	}
}

func TestDigestDropsOldestWhenOverBudget(t *testing.T) {
	votes := []bounce.Vote{
		{Provider: "oldest", Confidence: 0.5, Content: strings.Repeat("a", 300)},
		{Provider: "newest", Confidence: 0.5, Content: strings.Repeat("b", 300)},
	}
	got := bounce.Digest(votes, 400)
	if strings.Contains(got, "oldest") {
		t.Fatalf("oldest line survived the cap: %q", got)
	}
	if !strings.Contains(got, "newest") {
		t.Fatalf("newest line dropped: %q", got)
	}
	if len(got) > 400 {
		t.Fatalf("digest len %d exceeds cap", len(got))
	}
}

func TestTruncateOldestFirst(t *testing.T) {
	parts := []string{"aaaa", "bbbb", "cccc"}
	got := bounce.TruncateOldestFirst(parts, 10)
	if len(got) != 2 || got[0] != "bbbb" {
		t.Fatalf("TruncateOldestFirst = %v", got)
	}

	// No cap keeps everything.
	if got := bounce.TruncateOldestFirst(parts, 0); len(got) != 3 {
		t.Fatalf("uncapped = %v", got)
	}
}

func TestTruncateOldestFirstOversizedSingleEntry(t *testing.T) {
	parts := []string{strings.Repeat("x", 50)}
	got := bounce.TruncateOldestFirst(parts, 10)
	if len(got) != 1 || len(got[0]) != 10 {
		t.Fatalf("oversized entry = %v", got)
	}
}

func TestTruncateOldestFirstOversizedEntryKeepsRunesIntact(t *testing.T) {
	// 20 three-byte runes; a 10-byte cap lands mid-rune and must back off
	// to the previous boundary.
	parts := []string{strings.Repeat("日", 20)}
	got := bounce.TruncateOldestFirst(parts, 10)
	if len(got) != 1 {
		t.Fatalf("oversized entry = %v", got)
	}
	if !utf8.ValidString(got[0]) {
		t.Fatalf("truncated entry splits a rune: %q", got[0])
	}
	if len(got[0]) != 9 {
		t.Fatalf("truncated len = %d, want 9", len(got[0]))
	}
}

func TestDigestSnippetKeepsRunesIntact(t *testing.T) {
	votes := []bounce.Vote{
		// 200 three-byte runes put the 400-byte snippet cap mid-rune.
		{Provider: "a", Confidence: 0.5, Content: strings.Repeat("日", 200)},
	}
	got := bounce.Digest(votes, 0)
	if !utf8.ValidString(got) {
		t.Fatalf("digest contains a split rune: %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Fatal("oversized multi-byte snippet should carry the ellipsis")
	}
}
