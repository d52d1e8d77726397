package bounce

import (
	"strings"
	"time"
)

// TaskTier labels request criticality. It drives provider selection order,
// per-round deadlines, and the confidence threshold that triggers escalation.
type TaskTier string

const (
	TierBasic    TaskTier = "basic"
	TierPremium  TaskTier = "premium"
	TierCritical TaskTier = "critical"
)

// Valid reports whether t is one of the three known tiers.
func (t TaskTier) Valid() bool {
	switch t {
	case TierBasic, TierPremium, TierCritical:
		return true
	}
	return false
}

// Next returns the tier one step up. Critical is the ceiling and returns
// itself.
func (t TaskTier) Next() TaskTier {
	switch t {
	case TierBasic:
		return TierPremium
	case TierPremium:
		return TierCritical
	default:
		return TierCritical
	}
}

// Mode selects how the orchestrator drives the providers.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

func (m Mode) Valid() bool {
	return m == ModeParallel || m == ModeSequential
}

// Sequential depth bounds. Depth is only meaningful in sequential mode.
const (
	MinDepth     = 3
	MaxDepth     = 5
	DefaultDepth = 3
)

// Prompt is one analysis request. It is immutable once Analyze begins;
// Normalize applies defaults and Validate rejects malformed fields before
// any provider is touched.
type Prompt struct {
	Text                string          `json:"text"`
	TaskTier            TaskTier        `json:"task_tier"`
	Mode                Mode            `json:"mode"`
	Depth               int             `json:"depth,omitempty"`
	MinProviders        int             `json:"min_providers,omitempty"`
	MaxProviders        int             `json:"max_providers,omitempty"`
	ConfidenceThreshold float64         `json:"confidence_threshold,omitempty"`
	SessionID           string          `json:"session_id,omitempty"`
	UserID              string          `json:"user_id,omitempty"`
	Tools               *ToolRequest    `json:"tools,omitempty"`
}

// Normalize fills defaults in place: basic tier, parallel mode, depth 3 for
// sequential requests, and a confidence threshold capped at 1.
func (p *Prompt) Normalize() {
	p.Text = strings.TrimSpace(p.Text)
	if p.TaskTier == "" {
		p.TaskTier = TierBasic
	}
	if p.Mode == "" {
		p.Mode = ModeParallel
	}
	if p.Mode == ModeSequential && p.Depth == 0 {
		p.Depth = DefaultDepth
	}
	if p.ConfidenceThreshold > 1 {
		p.ConfidenceThreshold = 1
	}
	if p.ConfidenceThreshold < 0 {
		p.ConfidenceThreshold = 0
	}
}

// Validate checks the normalized prompt. Violations short-circuit the
// request before any provider call.
func (p *Prompt) Validate() error {
	if p.Text == "" {
		return Errf(KindMissingPrompt, "prompt text is required")
	}
	if !p.TaskTier.Valid() {
		return Errf(KindInvalidTaskType, "unknown task_type %q", string(p.TaskTier))
	}
	if !p.Mode.Valid() {
		return Errf(KindInvalidMode, "unknown mode %q", string(p.Mode))
	}
	if p.Mode == ModeSequential && (p.Depth < MinDepth || p.Depth > MaxDepth) {
		return Errf(KindInvalidDepth, "depth %d outside [%d..%d]", p.Depth, MinDepth, MaxDepth)
	}
	return nil
}

// Transport identifies how an adapter reaches its backend.
type Transport string

const (
	TransportCLI Transport = "cli"
	TransportMCP Transport = "mcp"
	TransportSDK Transport = "sdk-direct"
)

func (t Transport) Valid() bool {
	switch t {
	case TransportCLI, TransportMCP, TransportSDK:
		return true
	}
	return false
}

// ProviderDescriptor declares one routable LLM backend. For a fixed
// (vendor, model) pair exactly one transport may exist across the registry.
type ProviderDescriptor struct {
	Name               string     `json:"name"`
	Vendor             string     `json:"vendor"`
	Model              string     `json:"model"`
	Transport          Transport  `json:"transport"`
	CostPerInputToken  float64    `json:"cost_per_input_token"`
	CostPerOutputToken float64    `json:"cost_per_output_token"`
	SupportedTiers     []TaskTier `json:"supported_tiers"`
	TimeoutMs          int        `json:"timeout_ms,omitempty"`
}

// SupportsTier reports whether the descriptor serves the given tier.
func (d ProviderDescriptor) SupportsTier(t TaskTier) bool {
	for _, s := range d.SupportedTiers {
		if s == t {
			return true
		}
	}
	return false
}

// CostScore is the selection-policy cost proxy: combined per-token price.
func (d ProviderDescriptor) CostScore() float64 {
	return d.CostPerInputToken + d.CostPerOutputToken
}

// Vote is one provider's answer to one prompt. Adapters always return a
// Vote; failures ride inside it with Error set and Confidence forced to 0.
// AgreementScore is filled post-hoc during consensus.
type Vote struct {
	Provider       string    `json:"provider"`
	Vendor         string    `json:"vendor"`
	Model          string    `json:"model"`
	Content        string    `json:"content,omitempty"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning,omitempty"`
	CostUSD        float64   `json:"cost_usd"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	LatencyMs      int64     `json:"latency_ms"`
	AgreementScore float64   `json:"agreement_score"`
	Error          ErrorKind `json:"error,omitempty"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
}

// Failed reports whether the vote carries an error instead of an answer.
func (v Vote) Failed() bool { return v.Error != "" }

// Quality bands reported on a consensus. Informational only.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Consensus is the single aggregated answer for one request.
type Consensus struct {
	Content            string       `json:"content"`
	Confidence         float64      `json:"confidence"`
	Reasoning          string       `json:"reasoning"`
	ContributingVotes  []Vote       `json:"contributing_votes"`
	AllVotes           []Vote       `json:"all_votes"`
	TierEscalated      bool         `json:"tier_escalated"`
	ProvidersUsed      []string     `json:"providers_used"`
	TotalCostUSD       float64      `json:"total_cost_usd"`
	TotalLatencyMs     int64        `json:"total_latency_ms"`
	WallBounceVerified bool         `json:"wall_bounce_verified"`
	QualityBand        string       `json:"quality_band"`
	Tier               TaskTier     `json:"tier"`
	Mode               Mode         `json:"mode"`
	Flow               []TraceEntry `json:"flow,omitempty"`
}

// TierDefaults are the per-tier knobs resolved when a request leaves them
// unset.
type TierDefaults struct {
	MinProviders        int     `json:"min_providers"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	DeadlineMs          int     `json:"deadline_ms"`
}

// DefaultTierDefaults returns the built-in per-tier parameters:
// min_providers 2/3/4, thresholds 0.7/0.8/0.9, round deadlines 30/60/120s.
func DefaultTierDefaults() map[TaskTier]TierDefaults {
	return map[TaskTier]TierDefaults{
		TierBasic:    {MinProviders: 2, ConfidenceThreshold: 0.7, DeadlineMs: 30_000},
		TierPremium:  {MinProviders: 3, ConfidenceThreshold: 0.8, DeadlineMs: 60_000},
		TierCritical: {MinProviders: 4, ConfidenceThreshold: 0.9, DeadlineMs: 120_000},
	}
}

// Tool cost tiers, cheapest first.
const (
	CostTierFree     = "free"
	CostTierStandard = "standard"
	CostTierPremium  = "premium"
)

// Tool security tiers, most public first.
const (
	SecurityPublic    = "public"
	SecurityInternal  = "internal"
	SecuritySensitive = "sensitive"
	SecurityCritical  = "critical"
)

// Tool approval policies.
const (
	PolicyNever       = "never"
	PolicyConditional = "conditional"
	PolicyAlways      = "always"
)

// ToolDescriptor declares one external tool the orchestrator may execute on
// behalf of a request, after cost filtering and approval.
type ToolDescriptor struct {
	Label             string   `json:"label"`
	TransportURL      string   `json:"transport_url"`
	AuthToken         string   `json:"-"`
	CostTier          string   `json:"cost_tier"`
	SecurityTier      string   `json:"security_tier"`
	AllowedOperations []string `json:"allowed_operations"`
	ApprovalPolicy    string   `json:"approval_policy"`
}

// AllowsOperation reports whether op is in the descriptor's allow list.
func (d ToolDescriptor) AllowsOperation(op string) bool {
	for _, o := range d.AllowedOperations {
		if o == op {
			return true
		}
	}
	return false
}

// ToolContext is the request-scoped budget/security envelope handed to the
// tool config manager.
type ToolContext struct {
	TaskTier      TaskTier       `json:"task_tier"`
	BudgetTier    string         `json:"budget_tier"`
	SecurityTier  string         `json:"security_tier"`
	BudgetUsed    float64        `json:"budget_used"`
	BudgetLimit   float64        `json:"budget_limit"`
	ExpectedCalls map[string]int `json:"expected_calls,omitempty"`
}

// ToolInvocation is one tool call proposed by the caller alongside the
// prompt.
type ToolInvocation struct {
	Tool       string         `json:"tool"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolRequest carries the caller's toolset reference: the budget envelope
// plus the invocations to route through approval and execution.
type ToolRequest struct {
	BudgetTier    string           `json:"budget_tier,omitempty"`
	SecurityTier  string           `json:"security_tier,omitempty"`
	BudgetUsed    float64          `json:"budget_used,omitempty"`
	BudgetLimit   float64          `json:"budget_limit,omitempty"`
	ExpectedCalls map[string]int   `json:"expected_calls,omitempty"`
	Invocations   []ToolInvocation `json:"invocations,omitempty"`
}

// ToolOutcome records one tool execution attempt, successful or not. Tool
// failures never abort the request.
type ToolOutcome struct {
	RequestID  string    `json:"request_id,omitempty"`
	ApprovalID string    `json:"approval_id,omitempty"`
	ToolLabel  string    `json:"tool_label"`
	Operation  string    `json:"operation"`
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
	CostUSD    float64   `json:"cost_usd"`
	LatencyMs  int64     `json:"latency_ms"`
	Error      ErrorKind `json:"error,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// EstimateTokens approximates token usage for backends that do not report
// it. Roughly 4 characters per token for English text.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// Timestamp is the canonical wire format for times in responses and logs.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
