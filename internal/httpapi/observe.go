package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/stats"
	"github.com/jordanhubbard/wallbounce/internal/store"
	"github.com/jordanhubbard/wallbounce/internal/tsdb"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>", "code": "<kind>", "timestamp": ...}
func jsonError(w http.ResponseWriter, msg string, kind bounce.ErrorKind, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":     msg,
		"code":      string(kind),
		"timestamp": bounce.Timestamp(time.Now()),
	})
}

// statusForKind maps a stable error tag to its HTTP status: 400 for the
// validation kinds, 409 overloaded, 504 deadline, 500 everything else.
func statusForKind(kind bounce.ErrorKind) int {
	if kind.Validation() {
		return http.StatusBadRequest
	}
	switch kind {
	case bounce.KindOverloaded:
		return http.StatusConflict
	case bounce.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeRequestError translates an orchestrator error into the wire format.
// Errors without a machine tag are reported as provider_error with 500.
func writeRequestError(w http.ResponseWriter, err error) {
	kind := bounce.KindOf(err)
	if kind == "" {
		kind = bounce.KindProviderError
	}
	jsonError(w, err.Error(), kind, statusForKind(kind))
}

// observeParams captures the fields required to log a completed analyze
// request across the Store, Stats, and TSDB subsystems. The engine itself
// owns the Prometheus and event bus paths.
type observeParams struct {
	Ctx context.Context

	RequestID  string
	SessionID  string
	Tier       string
	Mode       string
	StatusCode int
	ErrorKind  string

	// Nil on failed requests.
	Consensus *bounce.Consensus
}

// recordObservability persists one finished analyze request to every
// configured sink. All nil-safe: each subsystem is skipped when the
// corresponding dependency is missing.
func recordObservability(d Dependencies, p observeParams) {
	now := time.Now().UTC()

	if d.Store != nil {
		entry := store.AnalysisLog{
			Timestamp:  now,
			RequestID:  p.RequestID,
			SessionID:  p.SessionID,
			Tier:       p.Tier,
			Mode:       p.Mode,
			StatusCode: p.StatusCode,
			ErrorKind:  p.ErrorKind,
		}
		if c := p.Consensus; c != nil {
			entry.Confidence = c.Confidence
			entry.QualityBand = c.QualityBand
			entry.ProvidersUsed = strings.Join(c.ProvidersUsed, ",")
			entry.TierEscalated = c.TierEscalated
			entry.Verified = c.WallBounceVerified
			entry.TotalCostUSD = c.TotalCostUSD
			entry.TotalLatencyMs = c.TotalLatencyMs
		}
		warnOnErr("log_analysis", d.Store.LogAnalysis(p.Ctx, entry))

		if c := p.Consensus; c != nil {
			for _, v := range c.AllVotes {
				warnOnErr("log_vote", d.Store.LogVote(p.Ctx, store.VoteLog{
					Timestamp:      now,
					RequestID:      p.RequestID,
					Provider:       v.Provider,
					Vendor:         v.Vendor,
					Model:          v.Model,
					Confidence:     v.Confidence,
					AgreementScore: v.AgreementScore,
					CostUSD:        v.CostUSD,
					LatencyMs:      v.LatencyMs,
					ErrorKind:      string(v.Error),
				}))
			}
		}
	}

	if c := p.Consensus; c != nil {
		if d.Stats != nil {
			for _, v := range c.AllVotes {
				d.Stats.Record(stats.Snapshot{
					Timestamp:  now,
					Provider:   v.Provider,
					Vendor:     v.Vendor,
					LatencyMs:  float64(v.LatencyMs),
					CostUSD:    v.CostUSD,
					Confidence: v.Confidence,
					Agreement:  v.AgreementScore,
					Success:    !v.Failed(),
				})
			}
		}

		if d.TSDB != nil {
			d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: tsdb.MetricConsensusConfidence, Value: c.Confidence})
			d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: tsdb.MetricConsensusLatencyMs, Value: float64(c.TotalLatencyMs)})
			d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: tsdb.MetricConsensusCostUSD, Value: c.TotalCostUSD})
			for _, v := range c.AllVotes {
				if v.Failed() {
					continue
				}
				d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: tsdb.MetricVoteLatencyMs, Provider: v.Provider, Vendor: v.Vendor, Value: float64(v.LatencyMs)})
				d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: tsdb.MetricVoteCostUSD, Provider: v.Provider, Vendor: v.Vendor, Value: v.CostUSD})
				d.TSDB.Write(tsdb.Point{Timestamp: now, Metric: tsdb.MetricVoteConfidence, Provider: v.Provider, Vendor: v.Vendor, Value: v.Confidence})
			}
		}
	}
}

func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("observability write failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

