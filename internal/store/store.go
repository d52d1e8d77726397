package store

import (
	"context"
	"time"
)

// Store defines the persistence surface for wallbounce. The engine runs fine
// without it; a file DSN makes the analysis, vote, approval, and tool logs
// durable across restarts.
type Store interface {
	// Analysis log (one row per analyze request)
	LogAnalysis(ctx context.Context, entry AnalysisLog) error
	ListAnalysisLogs(ctx context.Context, limit int, offset int) ([]AnalysisLog, error)

	// Vote log (one row per provider vote)
	LogVote(ctx context.Context, entry VoteLog) error
	ListVoteLogs(ctx context.Context, limit int, offset int) ([]VoteLog, error)

	// Approval requests plus the durable mirror of the audit trail
	SaveApproval(ctx context.Context, rec ApprovalRecord) error
	ListApprovals(ctx context.Context, limit int, offset int) ([]ApprovalRecord, error)
	LogApprovalTransition(ctx context.Context, tr ApprovalTransition) error
	ListApprovalTransitions(ctx context.Context, limit int, offset int) ([]ApprovalTransition, error)

	// Tool execution outcomes
	LogToolExecution(ctx context.Context, entry ToolExecutionLog) error
	ListToolExecutions(ctx context.Context, limit int, offset int) ([]ToolExecutionLog, error)

	// Admin mutation audit
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// Vault persistence
	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt []byte, data map[string]string, err error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// AnalysisLog captures one completed (or failed) analyze request.
type AnalysisLog struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Tier           string    `json:"tier"`
	Mode           string    `json:"mode"`
	Confidence     float64   `json:"confidence"`
	QualityBand    string    `json:"quality_band,omitempty"`
	ProvidersUsed  string    `json:"providers_used,omitempty"` // comma-separated
	TierEscalated  bool      `json:"tier_escalated"`
	Verified       bool      `json:"wall_bounce_verified"`
	TotalCostUSD   float64   `json:"total_cost_usd"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
	StatusCode     int       `json:"status_code"`
	ErrorKind      string    `json:"error_kind,omitempty"`
}

// VoteLog captures one provider vote inside an analyze request.
type VoteLog struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
	Provider       string    `json:"provider"`
	Vendor         string    `json:"vendor"`
	Model          string    `json:"model"`
	Confidence     float64   `json:"confidence"`
	AgreementScore float64   `json:"agreement_score"`
	CostUSD        float64   `json:"cost_usd"`
	LatencyMs      int64     `json:"latency_ms"`
	ErrorKind      string    `json:"error_kind,omitempty"`
}

// ApprovalRecord is the persisted form of an approval request.
type ApprovalRecord struct {
	ID         string     `json:"id"`
	ToolLabel  string     `json:"tool_label"`
	Operation  string     `json:"operation"`
	Parameters string     `json:"parameters,omitempty"` // JSON object
	Risk       string     `json:"risk"`
	Requester  string     `json:"requester"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Decider    string     `json:"decider,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// ApprovalTransition is one durable audit-trail entry for an approval.
type ApprovalTransition struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	At        time.Time `json:"at"`
	Decider   string    `json:"decider,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// ToolExecutionLog captures one tool execution attempt.
type ToolExecutionLog struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	ApprovalID string    `json:"approval_id,omitempty"`
	ToolLabel  string    `json:"tool_label"`
	Operation  string    `json:"operation"`
	Success    bool      `json:"success"`
	CostUSD    float64   `json:"cost_usd"`
	LatencyMs  int64     `json:"latency_ms"`
	ErrorKind  string    `json:"error_kind,omitempty"`
}

// AuditEntry captures an admin mutation for the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`               // e.g. "vault.unlock", "admin_token.rotate"
	Resource  string    `json:"resource"`             // e.g. tool label, approval id
	Detail    string    `json:"detail,omitempty"`     // optional JSON with change details
	RequestID string    `json:"request_id,omitempty"` // correlates to HTTP request ID
}
