package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

const (
	// AnalyzeWorkflowName is the registered workflow type for the durable
	// analyze path.
	AnalyzeWorkflowName = "AnalyzeWorkflow"

	activityTimeout = 150 * time.Second
	digestByteCap   = 8192
)

// AnalyzeWorkflow mirrors Engine.Analyze as a durable workflow: resolve the
// round's providers, fan the prompt out (or chain it sequentially), build a
// consensus, escalate at most once, and record the result. Provider failures
// ride inside votes, so only infrastructure errors fail activities.
func AnalyzeWorkflow(ctx workflow.Context, input AnalyzeInput) (AnalyzeOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // Adapters degrade to error votes on their own.
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	p := input.Prompt
	bounce.ApplyDirectives(&p)
	p.Normalize()
	if err := p.Validate(); err != nil {
		return AnalyzeOutput{}, err
	}

	defaults := bounce.DefaultTierDefaults()
	if p.MinProviders <= 0 {
		p.MinProviders = defaults[p.TaskTier].MinProviders
	}
	if p.ConfidenceThreshold == 0 {
		p.ConfidenceThreshold = defaults[p.TaskTier].ConfidenceThreshold
	}

	start := workflow.Now(ctx)

	cons, err := runRound(ctx, p, p.TaskTier, p.MinProviders)

	if shouldEscalate(p, cons, err) {
		next := p.TaskTier.Next()
		cons2, err2 := runRound(ctx, p, next, p.MinProviders+1)
		if betterRound(cons, err, cons2, err2) {
			cons, err = cons2, err2
		}
		if cons != nil {
			cons.TierEscalated = true
		}
	}

	record := RecordInput{
		RequestID: input.RequestID,
		SessionID: p.SessionID,
		Tier:      string(p.TaskTier),
		Mode:      string(p.Mode),
		Consensus: cons,
	}
	if err != nil {
		record.ErrorKind = string(bounce.KindOf(err))
	}
	_ = workflow.ExecuteActivity(ctx, (*Activities).RecordAnalysis, record).Get(ctx, nil)

	if err != nil {
		return AnalyzeOutput{}, err
	}
	cons.TotalLatencyMs = workflow.Now(ctx).Sub(start).Milliseconds()
	return AnalyzeOutput{Consensus: cons}, nil
}

// runRound resolves providers for the tier and collects one round of votes.
func runRound(ctx workflow.Context, p bounce.Prompt, tier bounce.TaskTier, minCount int) (*bounce.Consensus, error) {
	var descs []bounce.ProviderDescriptor
	if err := workflow.ExecuteActivity(ctx, (*Activities).ResolveProviders, ResolveInput{
		Tier: tier, MinProviders: minCount,
	}).Get(ctx, &descs); err != nil {
		return nil, bounce.Errf(bounce.KindNoProvidersAvailable, "resolve providers: %v", err)
	}
	if len(descs) == 0 {
		return nil, bounce.Errf(bounce.KindNoProvidersAvailable, "registry returned no providers for tier %s", tier)
	}
	if p.MaxProviders > 0 && len(descs) > p.MaxProviders {
		descs = descs[:p.MaxProviders]
	}

	var votes []bounce.Vote
	if p.Mode == bounce.ModeSequential {
		votes = collectSequential(ctx, p, tier, descs)
	} else {
		votes = collectParallel(ctx, p, tier, descs)
	}

	var cons *bounce.Consensus
	if err := workflow.ExecuteActivity(ctx, (*Activities).BuildConsensus, ConsensusInput{
		Votes: votes, Tier: tier, Mode: p.Mode,
	}).Get(ctx, &cons); err != nil {
		return nil, bounce.Errf(bounce.KindNoValidVotes, "%v", err)
	}
	return cons, nil
}

// collectParallel fans out one InvokeProvider activity per descriptor and
// joins the futures in selection order.
func collectParallel(ctx workflow.Context, p bounce.Prompt, tier bounce.TaskTier, descs []bounce.ProviderDescriptor) []bounce.Vote {
	futures := make([]workflow.Future, len(descs))
	for i, d := range descs {
		futures[i] = workflow.ExecuteActivity(ctx, (*Activities).InvokeProvider, InvokeInput{
			Provider: d, Text: p.Text, Tier: tier,
		})
	}

	votes := make([]bounce.Vote, 0, len(descs))
	for i, f := range futures {
		var vote bounce.Vote
		if err := f.Get(ctx, &vote); err != nil {
			vote = bounce.Vote{
				Provider: descs[i].Name, Vendor: descs[i].Vendor, Model: descs[i].Model,
				Error: bounce.KindProviderError, ErrorDetail: err.Error(),
			}
		}
		votes = append(votes, vote)
	}
	return votes
}

// collectSequential chains exactly depth calls, feeding each step the prompt
// plus a digest of the votes so far. Providers are revisited round-robin.
func collectSequential(ctx workflow.Context, p bounce.Prompt, tier bounce.TaskTier, descs []bounce.ProviderDescriptor) []bounce.Vote {
	depth := p.Depth
	if depth < bounce.MinDepth {
		depth = bounce.DefaultDepth
	}

	votes := make([]bounce.Vote, 0, depth)
	for step := 0; step < depth; step++ {
		d := descs[step%len(descs)]
		text := p.Text
		if digest := bounce.Digest(votes, digestByteCap); digest != "" {
			text = p.Text + "\n\n" + digest
		}

		var vote bounce.Vote
		if err := workflow.ExecuteActivity(ctx, (*Activities).InvokeProvider, InvokeInput{
			Provider: d, Text: text, Tier: tier,
		}).Get(ctx, &vote); err != nil {
			vote = bounce.Vote{
				Provider: d.Name, Vendor: d.Vendor, Model: d.Model,
				Error: bounce.KindProviderError, ErrorDetail: err.Error(),
			}
		}
		votes = append(votes, vote)
	}
	return votes
}

func shouldEscalate(p bounce.Prompt, cons *bounce.Consensus, err error) bool {
	if p.TaskTier == bounce.TierCritical {
		return false
	}
	if err != nil {
		return bounce.IsKind(err, bounce.KindNoValidVotes)
	}
	return cons != nil && cons.Confidence < p.ConfidenceThreshold
}

// betterRound reports whether the escalated round's outcome should replace
// the first round's.
func betterRound(c1 *bounce.Consensus, e1 error, c2 *bounce.Consensus, e2 error) bool {
	if e2 != nil {
		return false
	}
	if e1 != nil {
		return true
	}
	return c2 != nil && c1 != nil && c2.Confidence > c1.Confidence
}
