package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/events"
	"github.com/jordanhubbard/wallbounce/internal/health"
	"github.com/jordanhubbard/wallbounce/internal/stats"
	"github.com/jordanhubbard/wallbounce/internal/store"
	"github.com/jordanhubbard/wallbounce/internal/tsdb"
)

// ProviderResolver is the slice of the registry the activities need.
type ProviderResolver interface {
	ProvidersFor(tier bounce.TaskTier, minCount int) ([]bounce.ProviderDescriptor, error)
}

// ConsensusBuilder mirrors the engine-side contract.
type ConsensusBuilder interface {
	Build(votes []bounce.Vote, tier bounce.TaskTier, mode bounce.Mode) (*bounce.Consensus, error)
}

// InvokerSource resolves a registered adapter by descriptor name.
type InvokerSource interface {
	Invoker(name string) (bounce.Invoker, bool)
}

// Activities holds dependencies for Temporal activity implementations.
type Activities struct {
	Providers ProviderResolver
	Invokers  InvokerSource
	Consensus ConsensusBuilder
	Store     store.Store
	Health    *health.Tracker
	EventBus  *events.Bus
	Stats     *stats.Collector
	TSDB      *tsdb.Store
}

// ResolveProviders selects the round's providers from the registry.
func (a *Activities) ResolveProviders(ctx context.Context, input ResolveInput) ([]bounce.ProviderDescriptor, error) {
	descs, err := a.Providers.ProvidersFor(input.Tier, input.MinProviders)
	if err != nil {
		return nil, fmt.Errorf("resolve providers: %w", err)
	}
	return descs, nil
}

// InvokeProvider calls a single adapter and records health. Failures come
// back inside the vote, never as an activity error, so the workflow's vote
// accounting matches the in-process engine.
func (a *Activities) InvokeProvider(ctx context.Context, input InvokeInput) (bounce.Vote, error) {
	inv, ok := a.Invokers.Invoker(input.Provider.Name)
	if !ok {
		return bounce.Vote{
			Provider: input.Provider.Name, Vendor: input.Provider.Vendor, Model: input.Provider.Model,
			Error: bounce.KindNoProvidersAvailable, ErrorDetail: "no adapter registered",
		}, nil
	}

	activity.RecordHeartbeat(ctx, "invoking "+input.Provider.Name)
	vote := inv.Invoke(ctx, input.Text, bounce.InvokeOptions{Tier: input.Tier})

	if a.Health != nil {
		if vote.Failed() {
			a.Health.RecordError(vote.Provider, vote.ErrorDetail)
		} else {
			a.Health.RecordSuccess(vote.Provider, float64(vote.LatencyMs))
		}
	}
	if a.EventBus != nil {
		a.EventBus.Publish(events.Event{
			Type: events.EventVoteRecorded, Provider: vote.Provider, Vendor: vote.Vendor,
			Model: vote.Model, Confidence: vote.Confidence,
			LatencyMs: float64(vote.LatencyMs), CostUSD: vote.CostUSD,
			ErrorKind: string(vote.Error),
		})
	}
	return vote, nil
}

// BuildConsensus aggregates the round's votes.
func (a *Activities) BuildConsensus(ctx context.Context, input ConsensusInput) (*bounce.Consensus, error) {
	return a.Consensus.Build(input.Votes, input.Tier, input.Mode)
}

// RecordAnalysis persists the finished request to the store, stats, and tsdb
// sinks. Write failures are returned so Temporal retries the recording.
func (a *Activities) RecordAnalysis(ctx context.Context, input RecordInput) error {
	now := time.Now().UTC()

	if a.Store != nil {
		entry := store.AnalysisLog{
			Timestamp: now,
			RequestID: input.RequestID,
			SessionID: input.SessionID,
			Tier:      input.Tier,
			Mode:      input.Mode,
			ErrorKind: input.ErrorKind,
		}
		if c := input.Consensus; c != nil {
			entry.Confidence = c.Confidence
			entry.QualityBand = c.QualityBand
			entry.TierEscalated = c.TierEscalated
			entry.Verified = c.WallBounceVerified
			entry.TotalCostUSD = c.TotalCostUSD
			entry.TotalLatencyMs = c.TotalLatencyMs
		}
		if err := a.Store.LogAnalysis(ctx, entry); err != nil {
			return fmt.Errorf("log analysis: %w", err)
		}
		if c := input.Consensus; c != nil {
			for _, v := range c.AllVotes {
				if err := a.Store.LogVote(ctx, store.VoteLog{
					Timestamp: now, RequestID: input.RequestID,
					Provider: v.Provider, Vendor: v.Vendor, Model: v.Model,
					Confidence: v.Confidence, AgreementScore: v.AgreementScore,
					CostUSD: v.CostUSD, LatencyMs: v.LatencyMs,
					ErrorKind: string(v.Error),
				}); err != nil {
					return fmt.Errorf("log vote: %w", err)
				}
			}
		}
	}

	if c := input.Consensus; c != nil {
		if a.Stats != nil {
			for _, v := range c.AllVotes {
				a.Stats.Record(stats.Snapshot{
					Timestamp: now, Provider: v.Provider, Vendor: v.Vendor,
					LatencyMs: float64(v.LatencyMs), CostUSD: v.CostUSD,
					Confidence: v.Confidence, Agreement: v.AgreementScore,
					Success: !v.Failed(),
				})
			}
		}
		if a.TSDB != nil {
			a.TSDB.Write(tsdb.Point{Timestamp: now, Metric: tsdb.MetricConsensusConfidence, Value: c.Confidence})
			a.TSDB.Write(tsdb.Point{Timestamp: now, Metric: tsdb.MetricConsensusCostUSD, Value: c.TotalCostUSD})
		}
	}
	return nil
}
