// Package approval is the risk gate in front of tool execution. Every tool
// invocation gets an ApprovalRequest; low-risk operations on never-approve
// tools clear automatically, everything else waits for a human decision or
// expires. The append-only audit trail is the sole authority behind Stats.
package approval

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/events"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
)

// Risk grades an operation's blast radius.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// State is the approval lifecycle. pending moves to exactly one terminal
// state and never back.
type State string

const (
	StatePending          State = "pending"
	StateAutoApproved     State = "auto_approved"
	StateManuallyApproved State = "manually_approved"
	StateRejected         State = "rejected"
	StateExpired          State = "expired"
)

// Approving reports whether the state permits tool execution.
func (s State) Approving() bool {
	return s == StateAutoApproved || s == StateManuallyApproved
}

var (
	ErrNotFound       = errors.New("approval request not found")
	ErrExpired        = errors.New("approval request expired")
	ErrAlreadyDecided = errors.New("approval request already decided")
)

// DefaultTTL bounds how long a request stays actionable, measured absolutely
// from created_at.
const DefaultTTL = 30 * time.Minute

// Request is one approval record.
type Request struct {
	ID         string         `json:"id"`
	ToolLabel  string         `json:"tool_label"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Risk       Risk           `json:"risk"`
	Requester  string         `json:"requester"`
	State      State          `json:"state"`
	CreatedAt  time.Time      `json:"created_at"`
	DecidedAt  *time.Time     `json:"decided_at,omitempty"`
	Decider    string         `json:"decider,omitempty"`
	Notes      string         `json:"notes,omitempty"`
}

// Transition is one audit trail entry.
type Transition struct {
	RequestID string    `json:"request_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	At        time.Time `json:"at"`
	Decider   string    `json:"decider,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// Snapshot is the stats view derived purely from the audit trail.
type Snapshot struct {
	Total            int `json:"total"`
	Pending          int `json:"pending"`
	AutoApproved     int `json:"auto_approved"`
	ManuallyApproved int `json:"manually_approved"`
	Rejected         int `json:"rejected"`
	Expired          int `json:"expired"`
}

// Predicate decides conditional-policy requests. It runs under the manager
// lock and must not call back into the manager.
type Predicate func(req Request) bool

// Recorder mirrors approval activity into durable storage. Implementations
// must tolerate being called from the manager's critical section.
type Recorder interface {
	RecordApproval(req Request) error
	RecordTransition(tr Transition) error
}

// Manager owns the approval state machine. A single mutex serializes all
// transitions (single-writer discipline).
type Manager struct {
	mu        sync.Mutex
	ttl       time.Duration
	requests  map[string]*Request
	trail     []Transition
	pending   int
	predicate Predicate
	recorder  Recorder
	metrics   *metrics.Registry
	bus       *events.Bus
	logger    *slog.Logger
	nowFunc   func() time.Time

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the default 30 minute expiry.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithPredicate installs the conditional-policy decision function.
func WithPredicate(p Predicate) Option {
	return func(m *Manager) {
		m.predicate = p
	}
}

// WithRecorder mirrors requests and transitions into durable storage.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithMetrics attaches the write-only metrics surface.
func WithMetrics(mr *metrics.Registry) Option {
	return func(m *Manager) {
		m.metrics = mr
	}
}

// WithBus publishes approval events.
func WithBus(b *events.Bus) Option {
	return func(m *Manager) {
		m.bus = b
	}
}

// WithNowFunc injects a clock for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// NewManager builds the manager and starts the expiry sweeper. Call Close to
// stop it.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		ttl:      DefaultTTL,
		requests: make(map[string]*Request),
		logger:   slog.Default(),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	go m.sweepLoop()
	return m
}

// Close stops the expiry sweeper.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
	})
}

// TTL returns the configured expiry window.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Request files an approval request and applies the auto-approval rule:
// low risk on a never-approve tool clears immediately, conditional policy
// consults the predicate (low risk only), everything else stays pending.
func (m *Manager) Request(tool bounce.ToolDescriptor, operation string, params map[string]any, risk Risk, requester string) (*Request, error) {
	if !tool.AllowsOperation(operation) {
		return nil, bounce.Errf(bounce.KindNotApproved, "tool %s does not allow operation %q", tool.Label, operation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc().UTC()
	req := &Request{
		ID:         uuid.NewString(),
		ToolLabel:  tool.Label,
		Operation:  operation,
		Parameters: params,
		Risk:       risk,
		Requester:  requester,
		State:      StatePending,
		CreatedAt:  now,
	}
	m.requests[req.ID] = req
	m.record(Transition{RequestID: req.ID, From: "", To: StatePending, At: now})
	m.pending++
	m.publishLocked(events.Event{
		Type:       events.EventApprovalRequested,
		ApprovalID: req.ID,
		Tool:       req.ToolLabel,
		Operation:  req.Operation,
		Risk:       string(req.Risk),
		State:      string(StatePending),
	})

	switch {
	case risk != RiskLow:
		// medium and above always waits for a human.
	case tool.ApprovalPolicy == bounce.PolicyNever:
		m.transitionLocked(req, StateAutoApproved, "system", "low risk, policy never")
	case tool.ApprovalPolicy == bounce.PolicyConditional:
		if m.predicate != nil && m.predicate(*req) {
			m.transitionLocked(req, StateAutoApproved, "system", "predicate accepted")
		}
	}

	if m.recorder != nil {
		if err := m.recorder.RecordApproval(*req); err != nil {
			m.logger.Warn("approval record failed", slog.String("id", req.ID), slog.String("error", err.Error()))
		}
	}
	m.syncGaugeLocked()

	out := *req
	return &out, nil
}

// Process resolves a pending request. approve=true moves it to
// manually_approved, false to rejected. Expired or already-decided requests
// are rejected with sentinel errors.
func (m *Manager) Process(id string, approve bool, decider, notes string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	m.expireLocked(req)
	if req.State == StateExpired {
		return false, ErrExpired
	}
	if req.State != StatePending {
		return false, ErrAlreadyDecided
	}

	to := StateRejected
	if approve {
		to = StateManuallyApproved
	}
	m.transitionLocked(req, to, decider, notes)
	m.syncGaugeLocked()
	return req.State.Approving(), nil
}

// Authorize checks that an approval permits executing (toolLabel, operation)
// right now: terminal approving state, matching tool and operation, inside
// the TTL window.
func (m *Manager) Authorize(id, toolLabel, operation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return bounce.Errf(bounce.KindNotApproved, "approval %s not found", id)
	}
	m.expireLocked(req)
	if !req.State.Approving() {
		return bounce.Errf(bounce.KindNotApproved, "approval %s is %s", id, req.State)
	}
	if req.ToolLabel != toolLabel || req.Operation != operation {
		return bounce.Errf(bounce.KindNotApproved, "approval %s covers %s/%s, not %s/%s",
			id, req.ToolLabel, req.Operation, toolLabel, operation)
	}
	if m.nowFunc().Sub(req.CreatedAt) > m.ttl {
		return bounce.Errf(bounce.KindNotApproved, "approval %s expired", id)
	}
	return nil
}

// Clear grades and files an approval for one tool invocation in a single
// call. It reports whether execution may proceed immediately.
func (m *Manager) Clear(tool bounce.ToolDescriptor, operation string, params map[string]any, requester string) (string, bool, string, error) {
	risk := m.GradeRisk(tool, operation)
	req, err := m.Request(tool, operation, params, risk, requester)
	if err != nil {
		return "", false, string(risk), err
	}
	return req.ID, req.State.Approving(), string(risk), nil
}

// Get returns a copy of one request.
func (m *Manager) Get(id string) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return Request{}, false
	}
	m.expireLocked(req)
	return *req, true
}

// List returns copies of all requests, newest first. A non-empty state
// filters the result.
func (m *Manager) List(state State) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, 0, len(m.requests))
	for _, req := range m.requests {
		m.expireLocked(req)
		if state != "" && req.State != state {
			continue
		}
		out = append(out, *req)
	}
	sortRequests(out)
	return out
}

// Trail returns a copy of the audit trail in append order.
func (m *Manager) Trail() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.trail))
	copy(out, m.trail)
	return out
}

// Stats derives the snapshot from the audit trail alone.
func (m *Manager) Stats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, req := range m.requests {
		m.expireLocked(req)
	}

	var s Snapshot
	for _, tr := range m.trail {
		switch tr.To {
		case StatePending:
			s.Total++
			s.Pending++
		case StateAutoApproved:
			s.AutoApproved++
		case StateManuallyApproved:
			s.ManuallyApproved++
		case StateRejected:
			s.Rejected++
		case StateExpired:
			s.Expired++
		}
		if tr.From == StatePending && tr.To != StatePending {
			s.Pending--
		}
	}
	return s
}

// transitionLocked moves req out of pending. Caller holds m.mu and has
// verified req.State == StatePending.
func (m *Manager) transitionLocked(req *Request, to State, decider, notes string) {
	now := m.nowFunc().UTC()
	from := req.State
	req.State = to
	req.Decider = decider
	req.Notes = notes
	req.DecidedAt = &now
	m.pending--

	m.record(Transition{RequestID: req.ID, From: from, To: to, At: now, Decider: decider, Notes: notes})

	eventType := events.EventApprovalDecided
	if to == StateExpired {
		eventType = events.EventApprovalExpired
	}
	m.publishLocked(events.Event{
		Type:       eventType,
		ApprovalID: req.ID,
		Tool:       req.ToolLabel,
		Operation:  req.Operation,
		Risk:       string(req.Risk),
		State:      string(to),
		Decider:    decider,
	})
	if m.recorder != nil {
		if err := m.recorder.RecordApproval(*req); err != nil {
			m.logger.Warn("approval record failed", slog.String("id", req.ID), slog.String("error", err.Error()))
		}
	}
}

// record appends to the trail, mirrors to storage, and counts the resulting
// state.
func (m *Manager) record(tr Transition) {
	m.trail = append(m.trail, tr)
	m.metrics.IncApproval(string(tr.To))
	if m.recorder != nil {
		if err := m.recorder.RecordTransition(tr); err != nil {
			m.logger.Warn("transition record failed", slog.String("id", tr.RequestID), slog.String("error", err.Error()))
		}
	}
}

// expireLocked lazily expires an overdue pending request. Caller holds m.mu.
func (m *Manager) expireLocked(req *Request) {
	if req.State != StatePending {
		return
	}
	if m.nowFunc().Sub(req.CreatedAt) > m.ttl {
		m.transitionLocked(req, StateExpired, "system", "ttl exceeded")
		m.syncGaugeLocked()
	}
}

func (m *Manager) publishLocked(e events.Event) {
	m.bus.Publish(e)
}

func (m *Manager) syncGaugeLocked() {
	m.metrics.SetPendingApprovals(float64(m.pending))
}

// sweepLoop expires overdue pending requests in the background. Lazy expiry
// on access covers the gaps between sweeps.
func (m *Manager) sweepLoop() {
	defer close(m.doneCh)

	interval := m.ttl / 10
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		m.expireLocked(req)
	}
}

func sortRequests(reqs []Request) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
}
