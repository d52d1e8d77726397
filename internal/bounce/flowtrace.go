package bounce

import (
	"sync"
	"time"
)

// TraceActor identifies which subsystem emitted a trace entry.
type TraceActor string

const (
	ActorOrchestrator TraceActor = "orchestrator"
	ActorProvider     TraceActor = "provider"
	ActorTool         TraceActor = "tool"
	ActorApproval     TraceActor = "approval"
)

// TraceEntry is one debugging event inside a request. StepIndex is a
// per-request monotonic counter used to tie-break identical timestamps.
type TraceEntry struct {
	StepIndex int            `json:"step_index"`
	Actor     TraceActor     `json:"actor"`
	Event     string         `json:"event"`
	At        time.Time      `json:"at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// FlowTrace is the per-request, append-only event sequence. It is safe for
// concurrent appends from parallel provider workers and is never consulted
// for control decisions.
type FlowTrace struct {
	mu      sync.Mutex
	entries []TraceEntry
	next    int
	nowFunc func() time.Time
}

// NewFlowTrace returns an empty trace.
func NewFlowTrace() *FlowTrace {
	return &FlowTrace{nowFunc: time.Now}
}

// Add appends one entry, assigning the next step index.
func (t *FlowTrace) Add(actor TraceActor, event string, payload map[string]any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TraceEntry{
		StepIndex: t.next,
		Actor:     actor,
		Event:     event,
		At:        t.nowFunc().UTC(),
		Payload:   payload,
	})
	t.next++
}

// Entries returns a copy of the trace in append order.
func (t *FlowTrace) Entries() []TraceEntry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of recorded entries.
func (t *FlowTrace) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
