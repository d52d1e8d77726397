package bounce_test

import (
	"fmt"
	"testing"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

func TestErrorKindValidation(t *testing.T) {
	valid := []bounce.ErrorKind{
		bounce.KindInvalidRequest,
		bounce.KindMissingPrompt,
		bounce.KindInvalidTaskType,
		bounce.KindInvalidMode,
		bounce.KindInvalidDepth,
	}
	for _, k := range valid {
		if !k.Validation() {
			t.Errorf("%s should be a validation kind", k)
		}
	}
	server := []bounce.ErrorKind{
		bounce.KindNoProvidersAvailable,
		bounce.KindProviderError,
		bounce.KindDeadlineExceeded,
		bounce.KindOverloaded,
		bounce.KindAllProvidersFailed,
	}
	for _, k := range server {
		if k.Validation() {
			t.Errorf("%s should not be a validation kind", k)
		}
	}
}

func TestErrorKindMetricLabel(t *testing.T) {
	if got := bounce.KindDeadlineExceeded.MetricLabel(); got != "deadline" {
		t.Fatalf("deadline label = %q", got)
	}
	if got := bounce.KindProviderError.MetricLabel(); got != "provider" {
		t.Fatalf("provider label = %q", got)
	}
	if got := bounce.KindOverloaded.MetricLabel(); got != "overloaded" {
		t.Fatalf("overloaded label = %q", got)
	}
}

func TestErrfAndKindOf(t *testing.T) {
	err := bounce.Errf(bounce.KindNoValidVotes, "no usable votes from %d providers", 3)
	if err.Error() != "no usable votes from 3 providers" {
		t.Fatalf("message = %q", err.Error())
	}
	if bounce.KindOf(err) != bounce.KindNoValidVotes {
		t.Fatalf("kind = %s", bounce.KindOf(err))
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := bounce.Errf(bounce.KindProviderError, "backend 503")
	wrapped := fmt.Errorf("round 2: %w", inner)
	if bounce.KindOf(wrapped) != bounce.KindProviderError {
		t.Fatalf("wrapped kind = %s", bounce.KindOf(wrapped))
	}
	if !bounce.IsKind(wrapped, bounce.KindProviderError) {
		t.Fatal("IsKind should see through wrapping")
	}
}

func TestKindOfForeignError(t *testing.T) {
	if k := bounce.KindOf(fmt.Errorf("plain error")); k != "" {
		t.Fatalf("kind = %q, want empty", k)
	}
	if bounce.IsKind(nil, bounce.KindProviderError) {
		t.Fatal("nil error should not match any kind")
	}
}
