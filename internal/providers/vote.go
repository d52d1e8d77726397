package providers

import (
	"context"
	"errors"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
)

// VoteParams is everything an adapter knows after one backend round-trip.
// FinishVote is the single join point that turns it into a Vote, so every
// transport computes cost, confidence, metrics, and trace entries the same
// way.
type VoteParams struct {
	Desc        bounce.ProviderDescriptor
	Start       time.Time
	PromptText  string
	Content     string
	BackendConf *float64
	InTokens    int
	OutTokens   int
	Err         error
	Opts        bounce.InvokeOptions
	Metrics     *metrics.Registry
}

// FinishVote assembles the Vote for one invoke attempt. Failures yield an
// error vote with confidence zero; they never propagate as errors.
func FinishVote(ctx context.Context, p VoteParams) bounce.Vote {
	latency := time.Since(p.Start)
	v := bounce.Vote{
		Provider:  p.Desc.Name,
		Vendor:    p.Desc.Vendor,
		Model:     p.Desc.Model,
		LatencyMs: latency.Milliseconds(),
	}

	if p.Err != nil {
		// Caller cancellation discards the result upstream; it touches only
		// the cancelled counter.
		if errors.Is(p.Err, context.Canceled) || ctx.Err() == context.Canceled {
			v.Error = bounce.KindDeadlineExceeded
			v.ErrorDetail = "cancelled: " + p.Err.Error()
			p.Metrics.IncCancelled()
			p.Opts.Trace.Add(bounce.ActorProvider, "vote_cancelled", map[string]any{
				"provider": v.Provider,
				"model":    v.Model,
			})
			return v
		}

		kind, detail := classifyInvokeError(ctx, p.Err)
		v.Error = kind
		v.ErrorDetail = detail

		p.Metrics.IncVote(v.Provider, v.Vendor, string(p.Opts.Tier))
		p.Metrics.IncError(kind.MetricLabel())
		p.Metrics.ObserveProviderLatency(v.Provider, v.Vendor, float64(v.LatencyMs))
		p.Opts.Trace.Add(bounce.ActorProvider, "vote_error", map[string]any{
			"provider":   v.Provider,
			"model":      v.Model,
			"error":      string(kind),
			"detail":     detail,
			"latency_ms": v.LatencyMs,
		})
		return v
	}

	v.Content = StripThink(p.Content)
	v.InputTokens = p.InTokens
	if v.InputTokens == 0 {
		v.InputTokens = bounce.EstimateTokens(p.PromptText)
	}
	v.OutputTokens = p.OutTokens
	if v.OutputTokens == 0 {
		v.OutputTokens = bounce.EstimateTokens(v.Content)
	}
	v.CostUSD = costUSD(p.Desc, v.InputTokens, v.OutputTokens)

	if p.BackendConf != nil {
		v.Confidence = Clamp01(*p.BackendConf)
		v.Reasoning = "confidence reported by backend"
	} else {
		v.Confidence = EstimateConfidence(v.Content)
		v.Reasoning = "confidence estimated from answer shape"
	}

	p.Metrics.IncVote(v.Provider, v.Vendor, string(p.Opts.Tier))
	p.Metrics.ObserveProviderLatency(v.Provider, v.Vendor, float64(v.LatencyMs))
	p.Opts.Trace.Add(bounce.ActorProvider, "vote", map[string]any{
		"provider":   v.Provider,
		"model":      v.Model,
		"confidence": v.Confidence,
		"latency_ms": v.LatencyMs,
		"cost_usd":   v.CostUSD,
	})
	return v
}

// classifyInvokeError maps a transport failure onto a vote error kind.
// Deadlines blame the clock; everything else is the provider's fault.
func classifyInvokeError(ctx context.Context, err error) (bounce.ErrorKind, string) {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return bounce.KindDeadlineExceeded, err.Error()
	}
	var se *StatusError
	if errors.As(err, &se) {
		return bounce.KindProviderError, se.Error()
	}
	return bounce.KindProviderError, err.Error()
}

func costUSD(d bounce.ProviderDescriptor, inTokens, outTokens int) float64 {
	return float64(inTokens)*d.CostPerInputToken + float64(outTokens)*d.CostPerOutputToken
}
