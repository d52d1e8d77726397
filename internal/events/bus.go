package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventAnalyzeStarted    EventType = "analyze_started"
	EventVoteRecorded      EventType = "vote_recorded"
	EventConsensusReached  EventType = "consensus_reached"
	EventTierEscalated     EventType = "tier_escalated"
	EventAnalyzeFailed     EventType = "analyze_failed"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalDecided   EventType = "approval_decided"
	EventApprovalExpired   EventType = "approval_expired"
	EventToolExecuted      EventType = "tool_executed"
	EventHealthChange      EventType = "health_change"
	EventVaultChanged      EventType = "vault_changed"
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
)

// Event is a single wall-bounce lifecycle event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Request fields (populated for analyze/vote/consensus events).
	RequestID  string  `json:"request_id,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	Tier       string  `json:"tier,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	Provider   string  `json:"provider,omitempty"`
	Vendor     string  `json:"vendor,omitempty"`
	Model      string  `json:"model,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	LatencyMs  float64 `json:"latency_ms,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	ErrorMsg   string  `json:"error_msg,omitempty"`
	Reason     string  `json:"reason,omitempty"`

	// Escalation fields.
	FromTier string `json:"from_tier,omitempty"`
	ToTier   string `json:"to_tier,omitempty"`

	// Approval and tool fields.
	ApprovalID string `json:"approval_id,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Risk       string `json:"risk,omitempty"`
	State      string `json:"state,omitempty"`
	Decider    string `json:"decider,omitempty"`

	// Health fields (populated for health_change events).
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`

	// Workflow fields (populated for workflow events).
	WorkflowID   string `json:"workflow_id,omitempty"`
	WorkflowType string `json:"workflow_type,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus for wall-bounce events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking). A nil bus
// drops everything, so components can publish unconditionally.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
