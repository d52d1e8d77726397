package temporal

import (
	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

// AnalyzeInput starts one durable analyze request.
type AnalyzeInput struct {
	Prompt    bounce.Prompt `json:"prompt"`
	RequestID string        `json:"request_id,omitempty"`
}

// AnalyzeOutput is the workflow result.
type AnalyzeOutput struct {
	Consensus *bounce.Consensus `json:"consensus"`
}

// ResolveInput asks the registry for a round's providers.
type ResolveInput struct {
	Tier         bounce.TaskTier `json:"tier"`
	MinProviders int             `json:"min_providers"`
}

// InvokeInput is one provider call.
type InvokeInput struct {
	Provider bounce.ProviderDescriptor `json:"provider"`
	Text     string                    `json:"text"`
	Tier     bounce.TaskTier           `json:"tier"`
}

// ConsensusInput aggregates one round's votes.
type ConsensusInput struct {
	Votes []bounce.Vote   `json:"votes"`
	Tier  bounce.TaskTier `json:"tier"`
	Mode  bounce.Mode     `json:"mode"`
}

// RecordInput persists the finished request to the observability sinks.
type RecordInput struct {
	RequestID string            `json:"request_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Tier      string            `json:"tier"`
	Mode      string            `json:"mode"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Consensus *bounce.Consensus `json:"consensus,omitempty"`
}
