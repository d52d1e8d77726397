package circuitbreaker

import (
	"testing"
	"time"
)

func TestProviderSetIsolation(t *testing.T) {
	ps := NewProviderSet(WithThreshold(2), WithCooldown(time.Minute))

	ps.RecordResult("gpt-5", false)
	ps.RecordResult("gpt-5", false)

	if ps.Allow("gpt-5") {
		t.Error("expected gpt-5 breaker open after 2 failures")
	}
	if !ps.Allow("claude-opus") {
		t.Error("expected untouched provider to remain closed")
	}
}

func TestProviderSetRecovery(t *testing.T) {
	ps := NewProviderSet(WithThreshold(1), WithCooldown(5*time.Millisecond))

	ps.RecordResult("gpt-5", false)
	if ps.Allow("gpt-5") {
		t.Fatal("expected open breaker")
	}

	time.Sleep(10 * time.Millisecond)

	// Cooldown elapsed: one probe allowed.
	if !ps.Allow("gpt-5") {
		t.Fatal("expected half-open probe after cooldown")
	}
	ps.RecordResult("gpt-5", true)
	if !ps.Allow("gpt-5") {
		t.Error("expected closed breaker after successful probe")
	}
}

func TestProviderSetStates(t *testing.T) {
	ps := NewProviderSet(WithThreshold(1), WithCooldown(time.Minute))
	ps.RecordResult("a", true)
	ps.RecordResult("b", false)

	states := ps.States()
	if states["a"] != "closed" {
		t.Errorf("expected a closed, got %s", states["a"])
	}
	if states["b"] != "open" {
		t.Errorf("expected b open, got %s", states["b"])
	}
}
