package bounce_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

func TestApplyDirectivesSingleLine(t *testing.T) {
	p := &bounce.Prompt{Text: "@@wallbounce tier=premium mode=sequential depth=4\nwhy is checkout slow"}
	applied := bounce.ApplyDirectives(p)

	if p.TaskTier != bounce.TierPremium || p.Mode != bounce.ModeSequential || p.Depth != 4 {
		t.Fatalf("directives not applied: %+v", p)
	}
	if p.Text != "why is checkout slow" {
		t.Fatalf("directive text not stripped: %q", p.Text)
	}
	want := []string{"tier", "mode", "depth"}
	if !reflect.DeepEqual(applied, want) {
		t.Fatalf("applied = %v, want %v", applied, want)
	}
}

func TestApplyDirectivesBlock(t *testing.T) {
	p := &bounce.Prompt{Text: "@@wallbounce\nmin_providers=3\nconfidence_threshold=0.85\n@@end\nreview this rollout plan"}
	applied := bounce.ApplyDirectives(p)

	if p.MinProviders != 3 || p.ConfidenceThreshold != 0.85 {
		t.Fatalf("block directives not applied: %+v", p)
	}
	if p.Text != "review this rollout plan" {
		t.Fatalf("block not stripped: %q", p.Text)
	}
	if len(applied) != 2 {
		t.Fatalf("applied = %v", applied)
	}
}

func TestApplyDirectivesMalformedBlockLeavesPromptUntouched(t *testing.T) {
	text := "@@wallbounce\ntier=premium\nno end marker here"
	p := &bounce.Prompt{Text: text}
	applied := bounce.ApplyDirectives(p)

	if applied != nil {
		t.Fatalf("applied = %v, want nil", applied)
	}
	if p.Text != text || p.TaskTier != "" {
		t.Fatalf("malformed block changed the prompt: %+v", p)
	}
}

func TestApplyDirectivesNoMarker(t *testing.T) {
	p := &bounce.Prompt{Text: "just a plain prompt"}
	if applied := bounce.ApplyDirectives(p); applied != nil {
		t.Fatalf("applied = %v, want nil", applied)
	}
	if p.Text != "just a plain prompt" {
		t.Fatalf("prompt changed: %q", p.Text)
	}
}

func TestApplyDirectivesTaskTypeAlias(t *testing.T) {
	p := &bounce.Prompt{Text: "@@wallbounce task_type=critical\nprompt body"}
	applied := bounce.ApplyDirectives(p)
	if p.TaskTier != bounce.TierCritical {
		t.Fatalf("tier = %q", p.TaskTier)
	}
	if len(applied) != 1 || applied[0] != "task_type" {
		t.Fatalf("applied = %v", applied)
	}
}

func TestApplyDirectivesIgnoresBadValuesAndUnknownKeys(t *testing.T) {
	p := &bounce.Prompt{Text: "@@wallbounce depth=lots color=blue mode=parallel\nbody"}
	applied := bounce.ApplyDirectives(p)
	if p.Depth != 0 {
		t.Fatalf("non-numeric depth applied: %d", p.Depth)
	}
	if len(applied) != 1 || applied[0] != "mode" {
		t.Fatalf("applied = %v", applied)
	}
	if p.Text != "body" {
		t.Fatalf("text = %q", p.Text)
	}
}

func TestApplyDirectivesMidPrompt(t *testing.T) {
	p := &bounce.Prompt{Text: "context paragraph\n@@wallbounce tier=basic\nthe actual question"}
	bounce.ApplyDirectives(p)
	if p.Text != "context paragraph\nthe actual question" {
		t.Fatalf("text = %q", p.Text)
	}
}

func TestApplyDirectivesBeyondScanWindowIgnored(t *testing.T) {
	filler := strings.Repeat("x", 3000)
	p := &bounce.Prompt{Text: filler + "\n@@wallbounce tier=premium"}
	if applied := bounce.ApplyDirectives(p); applied != nil {
		t.Fatalf("directive past scan window applied: %v", applied)
	}
	if p.TaskTier != "" {
		t.Fatalf("tier = %q", p.TaskTier)
	}
}
