package providers

import (
	"math"
	"strings"
	"testing"
)

func TestEstimateConfidenceSolidAnswer(t *testing.T) {
	content := "Raise the connection pool ceiling to 200 and add a circuit breaker in front of the replica."
	if got := EstimateConfidence(content); got != 0.8 {
		t.Fatalf("solid answer confidence = %v, want 0.8", got)
	}
}

func TestEstimateConfidenceShortAnswer(t *testing.T) {
	if got := EstimateConfidence("restart it"); math.Abs(got-0.7) > 1e-9 {
		t.Fatalf("short answer confidence = %v, want 0.7", got)
	}
}

func TestEstimateConfidenceEmpty(t *testing.T) {
	// Empty counts twice: empty and short.
	if got := EstimateConfidence("   "); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("empty confidence = %v, want 0.6", got)
	}
}

func TestEstimateConfidenceRefusal(t *testing.T) {
	content := "I cannot help with that request, the operation is outside my capabilities entirely."
	if got := EstimateConfidence(content); math.Abs(got-0.7) > 1e-9 {
		t.Fatalf("refusal confidence = %v, want 0.7", got)
	}
}

func TestEstimateConfidenceDisclaimerOnly(t *testing.T) {
	content := "As an AI, I would suggest you consult a professional."
	// Short and disclaimer-only: two signals.
	if got := EstimateConfidence(content); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("disclaimer confidence = %v, want 0.6", got)
	}
}

func TestEstimateConfidenceDisclaimerWithSubstance(t *testing.T) {
	content := "As an AI, I would note that " + strings.Repeat("the failover sequence matters here. ", 6)
	// Long enough that the disclaimer phrase alone does not count.
	if got := EstimateConfidence(content); got != 0.8 {
		t.Fatalf("disclaimer-with-substance confidence = %v, want 0.8", got)
	}
}

func TestClampConfidenceBounds(t *testing.T) {
	if got := ClampConfidence(-1); got != 0.10 {
		t.Fatalf("floor = %v, want 0.10", got)
	}
	if got := ClampConfidence(2); got != 0.95 {
		t.Fatalf("ceiling = %v, want 0.95", got)
	}
	if got := ClampConfidence(0.5); got != 0.5 {
		t.Fatalf("in-range = %v, want 0.5", got)
	}
}

func TestClamp01(t *testing.T) {
	if got := Clamp01(-0.5); got != 0 {
		t.Fatalf("floor = %v, want 0", got)
	}
	if got := Clamp01(1.5); got != 1 {
		t.Fatalf("ceiling = %v, want 1", got)
	}
}
