package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.reg == nil {
		t.Fatal("expected non-nil prometheus registry")
	}
	if r.RequestsTotal == nil {
		t.Fatal("expected non-nil RequestsTotal counter")
	}
	if r.VotesTotal == nil {
		t.Fatal("expected non-nil VotesTotal counter")
	}
	if r.ProviderLatency == nil {
		t.Fatal("expected non-nil ProviderLatency histogram")
	}
}

func TestHandlerNonNil(t *testing.T) {
	r := New()
	h := r.Handler()
	if h == nil {
		t.Fatal("expected non-nil http.Handler from Handler()")
	}
}

func TestMetricsCanBeCollected(t *testing.T) {
	r := New()

	r.IncRequest("premium", "parallel", "200")
	r.IncVote("gpt-5", "openai", "premium")
	r.ObserveProviderLatency("gpt-5", "openai", 150.0)
	r.ObserveRequest("premium", 1800, 0.84, 0.04)

	// Gather metrics from the registry; this exercises the full collection path.
	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one metric family after recording values")
	}

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	want := []string{
		"wallbounce_requests_total",
		"wallbounce_votes_total",
		"wallbounce_provider_latency_ms",
		"wallbounce_request_latency_ms",
		"wallbounce_consensus_confidence",
		"wallbounce_request_cost_usd",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected metric %q in gathered metrics", name)
		}
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry

	// Every write helper must tolerate a nil receiver.
	r.IncRequest("basic", "parallel", "200")
	r.IncVote("gpt-5", "openai", "basic")
	r.IncError("provider_error")
	r.IncApproval("auto_approved")
	r.IncToolExecution("restart-service", "success")
	r.IncCancelled()
	r.IncRateLimited()
	r.ObserveProviderLatency("gpt-5", "openai", 100)
	r.ObserveRequest("basic", 500, 0.7, 0.01)
	r.AddActiveRequests(1)
	r.SetPendingApprovals(2)
}

func TestMultipleRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.IncRequest("basic", "parallel", "200")

	// r2 should have zero metrics gathered (no observations made).
	mfs, err := r2.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil && m.GetCounter().GetValue() > 0 {
				t.Error("r2 should not have any non-zero counters")
			}
		}
	}
	_ = r1
}

func TestRegisteredMetricDescriptions(t *testing.T) {
	r := New()

	// Describe should emit descriptors for all registered metrics.
	ch := make(chan *prometheus.Desc, 10)
	go func() {
		r.RequestsTotal.Describe(ch)
		r.VotesTotal.Describe(ch)
		r.ErrorsTotal.Describe(ch)
		close(ch)
	}()

	count := 0
	for range ch {
		count++
	}
	if count != 3 {
		t.Errorf("expected 3 metric descriptors, got %d", count)
	}
}
