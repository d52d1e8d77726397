// Package bounce is the wall-bounce orchestrator: it resolves a provider
// subset for the request tier, drives the adapters in parallel or sequential
// mode, routes tool invocations through approval and execution, hands the
// collected votes to the consensus builder, and escalates the tier once when
// confidence falls short.
package bounce

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/events"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
)

// ProviderSource is the registry seen from the engine: an ordered provider
// subset per (tier, minCount). Defined here to avoid an import cycle with the
// registry package.
type ProviderSource interface {
	ProvidersFor(tier TaskTier, minCount int) ([]ProviderDescriptor, error)
}

// ConsensusBuilder scores one round of votes into a consensus record.
type ConsensusBuilder interface {
	Build(votes []Vote, tier TaskTier, mode Mode) (*Consensus, error)
}

// ToolSource filters the tool catalog for a request's budget and clearance.
type ToolSource interface {
	ToolsFor(tc ToolContext) []ToolDescriptor
}

// ApprovalGate grades and files one approval request, reporting whether
// execution may proceed immediately.
type ApprovalGate interface {
	Clear(tool ToolDescriptor, operation string, params map[string]any, requester string) (id string, approved bool, risk string, err error)
}

// ToolRunner executes one approved tool invocation. Failures ride inside the
// outcome, never as errors.
type ToolRunner interface {
	Execute(ctx context.Context, tool ToolDescriptor, operation string, params map[string]any, approvalID string) ToolOutcome
}

// HealthChecker observes per-provider vote outcomes. Defined here to avoid an
// import cycle with the health package.
type HealthChecker interface {
	RecordSuccess(provider string, latencyMs float64)
	RecordError(provider string, errMsg string)
}

// BreakerGate short-circuits providers that keep failing. An open breaker
// yields an immediate error vote without touching the backend.
type BreakerGate interface {
	Allow(provider string) bool
	RecordResult(provider string, success bool)
}

// Admission and context defaults.
const (
	DefaultMaxConcurrent = 64
	DefaultAdmitWait     = 2 * time.Second
)

// EngineConfig carries the orchestration knobs resolved from the environment.
type EngineConfig struct {
	// TierDefaults supplies min_providers, confidence_threshold, and the
	// round deadline per tier. Nil falls back to the built-ins.
	TierDefaults map[TaskTier]TierDefaults

	// MaxConcurrent bounds concurrently admitted Analyze calls (default 64).
	MaxConcurrent int

	// AdmitWait is how long an excess caller queues before overloaded
	// (default 2s).
	AdmitWait time.Duration

	// DeadlineCap, when positive, caps every round deadline regardless of
	// tier (DEFAULT_DEADLINE_MS).
	DeadlineCap time.Duration

	// ContextByteCap bounds prompt-context additions (default 8192).
	ContextByteCap int
}

// Engine drives the wall-bounce flow. Construct with NewEngine, register the
// adapters, then call Analyze per request.
type Engine struct {
	cfg       EngineConfig
	providers ProviderSource
	consensus ConsensusBuilder

	mu       sync.RWMutex
	invokers map[string]Invoker // provider name -> adapter

	tools      ToolSource
	approvals  ApprovalGate
	toolRunner ToolRunner
	health     HealthChecker
	breakers   BreakerGate

	metrics *metrics.Registry
	bus     *events.Bus
	logger  *slog.Logger

	sem     chan struct{}
	nowFunc func() time.Time
}

// NewEngine builds the orchestrator around a provider source and a consensus
// builder. Everything else is optional and attached with the Set* methods.
func NewEngine(cfg EngineConfig, providers ProviderSource, consensus ConsensusBuilder) *Engine {
	if cfg.TierDefaults == nil {
		cfg.TierDefaults = DefaultTierDefaults()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.AdmitWait <= 0 {
		cfg.AdmitWait = DefaultAdmitWait
	}
	if cfg.ContextByteCap <= 0 {
		cfg.ContextByteCap = DefaultContextByteCap
	}
	return &Engine{
		cfg:       cfg,
		providers: providers,
		consensus: consensus,
		invokers:  make(map[string]Invoker),
		logger:    slog.Default(),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		nowFunc:   time.Now,
	}
}

// RegisterInvoker binds an adapter to its descriptor name.
func (e *Engine) RegisterInvoker(inv Invoker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invokers[inv.Descriptor().Name] = inv
}

// Invoker returns the adapter registered under the given descriptor name.
func (e *Engine) Invoker(name string) (Invoker, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inv, ok := e.invokers[name]
	return inv, ok
}

// InvokerNames returns the registered adapter names, sorted.
func (e *Engine) InvokerNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.invokers))
	for n := range e.invokers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetToolPath attaches the tool config manager, the approval gate, and the
// execution runner. All three are required for the tool path to run.
func (e *Engine) SetToolPath(tools ToolSource, approvals ApprovalGate, runner ToolRunner) {
	e.tools = tools
	e.approvals = approvals
	e.toolRunner = runner
}

// SetHealthChecker attaches per-provider health tracking.
func (e *Engine) SetHealthChecker(h HealthChecker) { e.health = h }

// SetBreakers attaches the per-provider circuit breakers.
func (e *Engine) SetBreakers(b BreakerGate) { e.breakers = b }

// SetMetrics attaches the write-only metrics surface.
func (e *Engine) SetMetrics(m *metrics.Registry) { e.metrics = m }

// SetBus attaches the event bus.
func (e *Engine) SetBus(b *events.Bus) { e.bus = b }

// SetLogger overrides the default logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.logger = l
	}
}

// TierDefaultsFor returns the resolved knobs for one tier.
func (e *Engine) TierDefaultsFor(tier TaskTier) TierDefaults {
	if d, ok := e.cfg.TierDefaults[tier]; ok {
		return d
	}
	return DefaultTierDefaults()[tier]
}

// Analyze runs the full wall-bounce flow for one prompt and returns the
// consensus. Provider and tool failures never abort the request; it fails
// only on validation, empty registry, cancellation, overload, or a round
// with no valid votes and no escalation left.
func (e *Engine) Analyze(ctx context.Context, p Prompt) (*Consensus, error) {
	start := e.nowFunc()

	ApplyDirectives(&p)
	p.Normalize()
	if err := p.Validate(); err != nil {
		e.metrics.IncRequest(string(p.TaskTier), string(p.Mode), "invalid")
		e.metrics.IncError(KindOf(err).MetricLabel())
		return nil, err
	}

	defaults := e.TierDefaultsFor(p.TaskTier)
	if p.MinProviders <= 0 {
		p.MinProviders = defaults.MinProviders
	}
	if p.ConfidenceThreshold == 0 {
		p.ConfidenceThreshold = defaults.ConfidenceThreshold
	}

	if err := e.admit(ctx); err != nil {
		e.metrics.IncRequest(string(p.TaskTier), string(p.Mode), "overloaded")
		e.metrics.IncError(KindOf(err).MetricLabel())
		return nil, err
	}
	defer e.release()

	trace := NewFlowTrace()
	trace.Add(ActorOrchestrator, "analyze_started", map[string]any{
		"tier": string(p.TaskTier), "mode": string(p.Mode),
		"min_providers": p.MinProviders, "threshold": p.ConfidenceThreshold,
	})
	e.bus.Publish(events.Event{
		Type: events.EventAnalyzeStarted, SessionID: p.SessionID,
		Tier: string(p.TaskTier), Mode: string(p.Mode),
	})

	if p.Tools != nil && len(p.Tools.Invocations) > 0 {
		e.runToolPath(ctx, &p, trace)
	}

	cons, deadlineHit, err := e.runRound(ctx, p, p.TaskTier, p.MinProviders, trace)

	if e.shouldEscalate(p, cons, err, deadlineHit) {
		next := p.TaskTier.Next()
		trace.Add(ActorOrchestrator, "tier_escalated", map[string]any{
			"from": string(p.TaskTier), "to": string(next),
		})
		e.bus.Publish(events.Event{
			Type: events.EventTierEscalated, SessionID: p.SessionID,
			FromTier: string(p.TaskTier), ToTier: string(next),
		})

		cons2, _, err2 := e.runRound(ctx, p, next, p.MinProviders+1, trace)
		cons, err = betterRound(cons, err, cons2, err2)
		if cons != nil {
			cons.TierEscalated = true
		}
	}

	if err != nil {
		err = roundFailure(err)
		trace.Add(ActorOrchestrator, "analyze_failed", map[string]any{"error": string(KindOf(err))})
		e.metrics.IncRequest(string(p.TaskTier), string(p.Mode), "error")
		e.metrics.IncError(KindOf(err).MetricLabel())
		e.bus.Publish(events.Event{
			Type: events.EventAnalyzeFailed, SessionID: p.SessionID,
			Tier: string(p.TaskTier), Mode: string(p.Mode),
			ErrorKind: string(KindOf(err)), ErrorMsg: err.Error(),
		})
		return nil, err
	}

	cons.TotalLatencyMs = time.Since(start).Milliseconds()
	trace.Add(ActorOrchestrator, "consensus_reached", map[string]any{
		"confidence": cons.Confidence, "quality": cons.QualityBand,
		"providers": cons.ProvidersUsed, "escalated": cons.TierEscalated,
	})
	cons.Flow = trace.Entries()

	e.metrics.IncRequest(string(p.TaskTier), string(p.Mode), "ok")
	e.metrics.ObserveRequest(string(p.TaskTier), float64(cons.TotalLatencyMs), cons.Confidence, cons.TotalCostUSD)
	e.bus.Publish(events.Event{
		Type: events.EventConsensusReached, SessionID: p.SessionID,
		Tier: string(cons.Tier), Mode: string(p.Mode),
		Confidence: cons.Confidence, CostUSD: cons.TotalCostUSD,
		LatencyMs: float64(cons.TotalLatencyMs),
	})
	return cons, nil
}

// admit takes an execution slot or fails with overloaded after a short wait.
func (e *Engine) admit(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
	default:
		timer := time.NewTimer(e.cfg.AdmitWait)
		defer timer.Stop()
		select {
		case e.sem <- struct{}{}:
		case <-timer.C:
			return Errf(KindOverloaded, "engine at capacity (%d concurrent requests)", e.cfg.MaxConcurrent)
		case <-ctx.Done():
			return Errf(KindDeadlineExceeded, "cancelled while queued: %v", ctx.Err())
		}
	}
	e.metrics.AddActiveRequests(1)
	return nil
}

func (e *Engine) release() {
	<-e.sem
	e.metrics.AddActiveRequests(-1)
}

// shouldEscalate applies the single-escalation rule: never at critical, and
// only when the round's confidence missed the threshold or the round produced
// no valid votes for reasons other than deadline exhaustion.
func (e *Engine) shouldEscalate(p Prompt, cons *Consensus, err error, deadlineHit bool) bool {
	if p.TaskTier == TierCritical {
		return false
	}
	if err != nil {
		return IsKind(err, KindNoValidVotes) && !deadlineHit
	}
	return cons.Confidence < p.ConfidenceThreshold
}

// betterRound picks the round to surface after an escalation: any successful
// round beats a failed one, and between two successes the higher confidence
// wins, with the escalated round taking ties.
func betterRound(c1 *Consensus, e1 error, c2 *Consensus, e2 error) (*Consensus, error) {
	switch {
	case e1 != nil && e2 != nil:
		return nil, roundFailure(e1)
	case e1 != nil:
		return c2, nil
	case e2 != nil:
		return c1, nil
	case c2.Confidence >= c1.Confidence:
		return c2, nil
	default:
		return c1, nil
	}
}

// roundFailure maps a terminal round error onto the request-level kind.
func roundFailure(err error) error {
	if IsKind(err, KindNoValidVotes) {
		return Errf(KindAllProvidersFailed, "all providers failed: %v", err)
	}
	return err
}

// runRound resolves providers for one tier, collects the votes in the
// request's mode, and builds a consensus. deadlineHit reports whether the
// round deadline (not individual provider trouble) explains an empty result.
func (e *Engine) runRound(ctx context.Context, p Prompt, tier TaskTier, minCount int, trace *FlowTrace) (*Consensus, bool, error) {
	if ctx.Err() != nil {
		return nil, false, Errf(KindDeadlineExceeded, "request cancelled: %v", ctx.Err())
	}

	descs, err := e.providers.ProvidersFor(tier, minCount)
	if err != nil {
		return nil, false, err
	}
	if len(descs) == 0 {
		return nil, false, Errf(KindNoProvidersAvailable, "no providers registered for tier %s", tier)
	}
	if p.Mode == ModeParallel && p.MaxProviders > 0 && len(descs) > p.MaxProviders {
		descs = descs[:p.MaxProviders]
	}

	deadline := time.Duration(e.TierDefaultsFor(tier).DeadlineMs) * time.Millisecond
	if e.cfg.DeadlineCap > 0 && e.cfg.DeadlineCap < deadline {
		deadline = e.cfg.DeadlineCap
	}
	roundCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	trace.Add(ActorOrchestrator, "round_started", map[string]any{
		"tier": string(tier), "providers": descriptorNames(descs), "deadline_ms": deadline.Milliseconds(),
	})

	var votes []Vote
	if p.Mode == ModeSequential {
		votes = e.collectSequential(roundCtx, p, tier, descs, trace)
	} else {
		votes = e.collectParallel(roundCtx, p, tier, descs, trace)
	}

	for _, v := range votes {
		if e.health != nil {
			if v.Failed() {
				e.health.RecordError(v.Provider, string(v.Error))
			} else {
				e.health.RecordSuccess(v.Provider, float64(v.LatencyMs))
			}
		}
		if e.breakers != nil {
			e.breakers.RecordResult(v.Provider, !v.Failed())
		}
		e.bus.Publish(events.Event{
			Type: events.EventVoteRecorded, SessionID: p.SessionID,
			Tier: string(tier), Provider: v.Provider, Vendor: v.Vendor, Model: v.Model,
			Confidence: v.Confidence, LatencyMs: float64(v.LatencyMs),
			CostUSD: v.CostUSD, ErrorKind: string(v.Error),
		})
	}

	if ctx.Err() == context.Canceled {
		return nil, false, Errf(KindDeadlineExceeded, "request cancelled")
	}

	cons, err := e.consensus.Build(votes, tier, p.Mode)
	if err != nil {
		deadlineHit := roundCtx.Err() == context.DeadlineExceeded || allDeadline(votes)
		if deadlineHit {
			err = Errf(KindAllProvidersFailed, "all %d providers exceeded the %s deadline", len(votes), tier)
		}
		return nil, deadlineHit, err
	}
	return cons, false, nil
}

// collectParallel fans out one worker per provider with a shared round
// deadline and joins on the results channel. Votes are re-ordered to the
// registry's selection order so consensus input is deterministic; the flow
// trace keeps true completion order.
func (e *Engine) collectParallel(ctx context.Context, p Prompt, tier TaskTier, descs []ProviderDescriptor, trace *FlowTrace) []Vote {
	results := make(chan Vote, len(descs))
	var wg sync.WaitGroup
	for _, d := range descs {
		wg.Add(1)
		go func(d ProviderDescriptor) {
			defer wg.Done()
			results <- e.invokeOne(ctx, d, p.Text, tier, trace)
		}(d)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	votes := make([]Vote, 0, len(descs))
	for v := range results {
		votes = append(votes, v)
	}

	order := make(map[string]int, len(descs))
	for i, d := range descs {
		order[d.Name] = i
	}
	sort.SliceStable(votes, func(i, j int) bool {
		return order[votes[i].Provider] < order[votes[j].Provider]
	})
	return votes
}

// collectSequential performs exactly depth calls on the request's worker,
// revisiting providers round-robin when fewer distinct ones exist. Each step
// sees the original prompt plus a digest of the votes so far.
func (e *Engine) collectSequential(ctx context.Context, p Prompt, tier TaskTier, descs []ProviderDescriptor, trace *FlowTrace) []Vote {
	depth := p.Depth
	if depth < MinDepth {
		depth = MinDepth
	}
	votes := make([]Vote, 0, depth)
	for step := 0; step < depth; step++ {
		d := descs[step%len(descs)]
		input := p.Text
		if digest := Digest(votes, e.cfg.ContextByteCap); digest != "" {
			input = p.Text + "\n\n" + digest
		}
		trace.Add(ActorOrchestrator, "sequential_step", map[string]any{
			"step": step + 1, "depth": depth, "provider": d.Name,
		})
		votes = append(votes, e.invokeOne(ctx, d, input, tier, trace))
	}
	return votes
}

// invokeOne calls a single adapter with the per-call deadline (the smaller of
// the round remainder and the provider's configured timeout). A missing
// adapter or an open breaker yields an immediate error vote.
func (e *Engine) invokeOne(ctx context.Context, d ProviderDescriptor, text string, tier TaskTier, trace *FlowTrace) Vote {
	e.mu.RLock()
	inv, ok := e.invokers[d.Name]
	e.mu.RUnlock()
	if !ok {
		e.metrics.IncError(KindProviderError.MetricLabel())
		trace.Add(ActorProvider, "vote_error", map[string]any{"provider": d.Name, "error": "no adapter registered"})
		return errorVote(d, KindProviderError, "no adapter registered for provider")
	}
	if !e.breakerAllow(d.Name) {
		e.metrics.IncError(KindProviderError.MetricLabel())
		trace.Add(ActorProvider, "vote_error", map[string]any{"provider": d.Name, "error": "circuit open"})
		return errorVote(d, KindProviderError, "circuit breaker open")
	}

	callCtx := ctx
	if d.TimeoutMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(d.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	return inv.Invoke(callCtx, text, InvokeOptions{Tier: tier, Trace: trace})
}

func (e *Engine) breakerAllow(provider string) bool {
	if e.breakers == nil {
		return true
	}
	return e.breakers.Allow(provider)
}

// runToolPath filters the catalog, clears each proposed invocation through
// approval, executes the cleared ones serially, and folds successful outputs
// into the prompt context under the byte cap.
func (e *Engine) runToolPath(ctx context.Context, p *Prompt, trace *FlowTrace) {
	if e.tools == nil || e.approvals == nil || e.toolRunner == nil {
		trace.Add(ActorOrchestrator, "tool_path_unavailable", nil)
		return
	}

	tr := p.Tools
	allowed := e.tools.ToolsFor(ToolContext{
		TaskTier:      p.TaskTier,
		BudgetTier:    tr.BudgetTier,
		SecurityTier:  tr.SecurityTier,
		BudgetUsed:    tr.BudgetUsed,
		BudgetLimit:   tr.BudgetLimit,
		ExpectedCalls: tr.ExpectedCalls,
	})
	byLabel := make(map[string]ToolDescriptor, len(allowed))
	for _, d := range allowed {
		byLabel[d.Label] = d
	}

	requester := p.UserID
	if requester == "" {
		requester = "orchestrator"
	}

	var parts []string
	for _, inv := range tr.Invocations {
		desc, ok := byLabel[inv.Tool]
		if !ok {
			trace.Add(ActorTool, "tool_filtered", map[string]any{"tool": inv.Tool, "operation": inv.Operation})
			continue
		}

		id, cleared, risk, err := e.approvals.Clear(desc, inv.Operation, inv.Parameters, requester)
		trace.Add(ActorApproval, "approval_filed", map[string]any{
			"tool": desc.Label, "operation": inv.Operation, "risk": risk,
			"approval_id": id, "cleared": cleared,
		})
		if err != nil || !cleared {
			detail := "awaiting approval"
			if err != nil {
				detail = err.Error()
			}
			trace.Add(ActorTool, "tool_skipped", map[string]any{
				"tool": desc.Label, "operation": inv.Operation, "reason": detail,
			})
			continue
		}

		out := e.toolRunner.Execute(ctx, desc, inv.Operation, inv.Parameters, id)
		trace.Add(ActorTool, "tool_executed", map[string]any{
			"tool": out.ToolLabel, "operation": out.Operation,
			"success": out.Success, "latency_ms": out.LatencyMs, "error": string(out.Error),
		})
		if out.Success && out.Output != "" {
			parts = append(parts, fmt.Sprintf("[%s %s]\n%s", out.ToolLabel, out.Operation, out.Output))
		}
	}

	if len(parts) == 0 {
		return
	}
	parts = TruncateOldestFirst(parts, e.cfg.ContextByteCap)
	p.Text = p.Text + "\n\nTool results:\n" + strings.Join(parts, "\n")
}

// errorVote builds the engine-side failure vote for providers that were never
// invoked.
func errorVote(d ProviderDescriptor, kind ErrorKind, detail string) Vote {
	return Vote{
		Provider:    d.Name,
		Vendor:      d.Vendor,
		Model:       d.Model,
		Error:       kind,
		ErrorDetail: detail,
	}
}

func descriptorNames(descs []ProviderDescriptor) []string {
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

func allDeadline(votes []Vote) bool {
	if len(votes) == 0 {
		return false
	}
	for _, v := range votes {
		if v.Error != KindDeadlineExceeded {
			return false
		}
	}
	return true
}
