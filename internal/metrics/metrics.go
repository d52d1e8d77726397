package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every wallbounce metric family. All methods are nil-safe so
// components can run without an observability surface in tests.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	VotesTotal          *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	ApprovalsTotal      *prometheus.CounterVec
	ToolExecutionsTotal *prometheus.CounterVec
	CancelledTotal      prometheus.Counter
	RateLimitedTotal    prometheus.Counter

	ProviderLatency     *prometheus.HistogramVec
	RequestLatency      *prometheus.HistogramVec
	ConsensusConfidence *prometheus.HistogramVec
	RequestCostUSD      *prometheus.HistogramVec

	ActiveRequests   prometheus.Gauge
	PendingApprovals prometheus.Gauge
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_requests_total",
			Help: "Analyze requests by tier, mode, and outcome",
		}, []string{"tier", "mode", "status"}),
		VotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_votes_total",
			Help: "Provider votes collected",
		}, []string{"provider", "vendor", "tier"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_errors_total",
			Help: "Errors by machine kind",
		}, []string{"kind"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_approvals_total",
			Help: "Approval state transitions by resulting state",
		}, []string{"state"}),
		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallbounce_tool_executions_total",
			Help: "Tool executions by tool and outcome",
		}, []string{"tool", "status"}),
		CancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallbounce_cancelled_total",
			Help: "Provider results discarded after caller cancellation",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallbounce_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallbounce_provider_latency_ms",
			Help:    "Per-provider invoke latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"provider", "vendor"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallbounce_request_latency_ms",
			Help:    "End-to-end analyze latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 14),
		}, []string{"tier"}),
		ConsensusConfidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallbounce_consensus_confidence",
			Help:    "Consensus confidence distribution",
			Buckets: prometheus.LinearBuckets(0.05, 0.05, 19),
		}, []string{"tier"}),
		RequestCostUSD: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallbounce_request_cost_usd",
			Help:    "Estimated USD cost per request",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"tier"}),
		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallbounce_active_requests",
			Help: "Analyze requests currently admitted",
		}),
		PendingApprovals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallbounce_pending_approvals",
			Help: "Approval requests awaiting a decision",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.VotesTotal, m.ErrorsTotal, m.ApprovalsTotal,
		m.ToolExecutionsTotal, m.CancelledTotal, m.RateLimitedTotal,
		m.ProviderLatency, m.RequestLatency, m.ConsensusConfidence,
		m.RequestCostUSD, m.ActiveRequests, m.PendingApprovals,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Write-only helpers used by the engine, approval manager, and tool runner.
// Each tolerates a nil receiver.

func (m *Registry) IncRequest(tier, mode, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(tier, mode, status).Inc()
}

func (m *Registry) IncVote(provider, vendor, tier string) {
	if m == nil {
		return
	}
	m.VotesTotal.WithLabelValues(provider, vendor, tier).Inc()
}

func (m *Registry) IncError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Registry) IncApproval(state string) {
	if m == nil {
		return
	}
	m.ApprovalsTotal.WithLabelValues(state).Inc()
}

func (m *Registry) IncToolExecution(tool, status string) {
	if m == nil {
		return
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

func (m *Registry) IncCancelled() {
	if m == nil {
		return
	}
	m.CancelledTotal.Inc()
}

func (m *Registry) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

func (m *Registry) ObserveProviderLatency(provider, vendor string, ms float64) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider, vendor).Observe(ms)
}

func (m *Registry) ObserveRequest(tier string, latencyMs, confidence, costUSD float64) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(tier).Observe(latencyMs)
	m.ConsensusConfidence.WithLabelValues(tier).Observe(confidence)
	m.RequestCostUSD.WithLabelValues(tier).Observe(costUSD)
}

func (m *Registry) AddActiveRequests(delta float64) {
	if m == nil {
		return
	}
	m.ActiveRequests.Add(delta)
}

func (m *Registry) SetPendingApprovals(n float64) {
	if m == nil {
		return
	}
	m.PendingApprovals.Set(n)
}
