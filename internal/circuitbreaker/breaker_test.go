package circuitbreaker

import (
	"testing"
	"time"
)

func TestClosedBreakerAdmitsCalls(t *testing.T) {
	b := New()
	if !b.Allow() {
		t.Fatal("a healthy provider's breaker should admit calls")
	}
	if b.CurrentState() != Closed {
		t.Fatalf("state = %s, want closed", b.CurrentState())
	}
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(WithThreshold(3))

	// Two failed invocations are not yet a pattern.
	b.RecordFailure()
	b.RecordFailure()
	if b.CurrentState() != Closed {
		t.Fatalf("state after 2 failures = %s, want closed", b.CurrentState())
	}
	if !b.Allow() {
		t.Fatal("breaker should still admit calls below the threshold")
	}

	// The third consecutive failure trips it.
	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Fatalf("state after 3 failures = %s, want open", b.CurrentState())
	}
}

func TestOpenBreakerShedsCalls(t *testing.T) {
	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(10*time.Second))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Fatalf("state = %s, want open", b.CurrentState())
	}
	// A tripped provider is skipped during vote collection rather than
	// invoked and waited on.
	if b.Allow() {
		t.Fatal("open breaker must shed calls")
	}
}

func TestCooldownAdmitsOneTrialCall(t *testing.T) {
	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(10*time.Second))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()

	now = now.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatal("cooldown elapsed, one trial call should be admitted")
	}
	if b.CurrentState() != HalfOpen {
		t.Fatalf("state = %s, want half-open", b.CurrentState())
	}

	// Only one trial at a time; the rest of the round skips this provider.
	if b.Allow() {
		t.Fatal("second call during the trial must be shed")
	}
}

func TestTrialSuccessCloses(t *testing.T) {
	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(5*time.Second))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()

	now = now.Add(6 * time.Second)
	if !b.Allow() {
		t.Fatal("trial call should be admitted")
	}
	if b.CurrentState() != HalfOpen {
		t.Fatalf("state = %s, want half-open", b.CurrentState())
	}

	// The provider answered; resume sending it votes.
	b.RecordSuccess()
	if b.CurrentState() != Closed {
		t.Fatalf("state after trial success = %s, want closed", b.CurrentState())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should admit calls")
	}
}

func TestTrialFailureReopens(t *testing.T) {
	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(5*time.Second))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()

	now = now.Add(6 * time.Second)
	b.Allow() // trial call

	// The backend is still down; back to shedding for a full cooldown.
	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Fatalf("state after trial failure = %s, want open", b.CurrentState())
	}
	if b.Allow() {
		t.Fatal("reopened breaker must shed immediately")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := New(WithThreshold(3))

	b.RecordFailure()
	b.RecordFailure()

	// A good vote in between breaks the streak.
	b.RecordSuccess()

	b.RecordFailure()
	b.RecordFailure()
	if b.CurrentState() != Closed {
		t.Fatalf("state = %s, want closed after streak reset", b.CurrentState())
	}
	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Fatalf("state = %s, want open after a fresh streak of 3", b.CurrentState())
	}
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []struct{ from, to State }
	cb := func(from, to State) {
		transitions = append(transitions, struct{ from, to State }{from, to})
	}

	now := time.Now()
	b := New(WithThreshold(1), WithCooldown(5*time.Second), WithOnStateChange(cb))
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure() // closed -> open
	now = now.Add(6 * time.Second)
	b.Allow()         // open -> half-open
	b.RecordSuccess() // half-open -> closed

	want := []struct{ from, to State }{
		{Closed, Open},
		{Open, HalfOpen},
		{HalfOpen, Closed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %d, want %d", len(transitions), len(want))
	}
	for i, tr := range transitions {
		if tr != want[i] {
			t.Errorf("transition %d = %s->%s, want %s->%s", i, tr.from, tr.to, want[i].from, want[i].to)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestOptionsIgnoreNonPositiveValues(t *testing.T) {
	for _, n := range []int{0, -1} {
		if b := New(WithThreshold(n)); b.failureThreshold != defaultThreshold {
			t.Fatalf("WithThreshold(%d): threshold = %d, want default %d", n, b.failureThreshold, defaultThreshold)
		}
	}
	for _, d := range []time.Duration{0, -time.Second} {
		if b := New(WithCooldown(d)); b.cooldown != defaultCooldown {
			t.Fatalf("WithCooldown(%v): cooldown = %v, want default %v", d, b.cooldown, defaultCooldown)
		}
	}
}
