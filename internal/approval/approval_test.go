package approval_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/approval"
	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

func tool(policy, security string, ops ...string) bounce.ToolDescriptor {
	if len(ops) == 0 {
		ops = []string{"search", "send_message"}
	}
	return bounce.ToolDescriptor{
		Label:             "chat-relay",
		TransportURL:      "https://tools.internal/chat",
		CostTier:          "free",
		SecurityTier:      security,
		AllowedOperations: ops,
		ApprovalPolicy:    policy,
	}
}

// fakeClock lets tests move time forward under the manager's nowFunc.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T, opts ...approval.Option) *approval.Manager {
	t.Helper()
	m := approval.NewManager(opts...)
	t.Cleanup(m.Close)
	return m
}

func TestAutoApproveLowRiskNeverPolicy(t *testing.T) {
	m := newManager(t)
	req, err := m.Request(tool(bounce.PolicyNever, bounce.SecurityPublic), "search", nil, approval.RiskLow, "engine")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.State != approval.StateAutoApproved {
		t.Fatalf("state = %s, want auto_approved", req.State)
	}
	if req.Decider != "system" {
		t.Fatalf("decider = %q, want system", req.Decider)
	}
}

func TestMediumRiskStaysPendingEvenOnNeverPolicy(t *testing.T) {
	m := newManager(t)
	req, err := m.Request(tool(bounce.PolicyNever, bounce.SecurityPublic), "search", nil, approval.RiskMedium, "engine")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.State != approval.StatePending {
		t.Fatalf("state = %s, want pending", req.State)
	}
}

func TestConditionalPolicyConsultsPredicate(t *testing.T) {
	accept := newManager(t, approval.WithPredicate(func(approval.Request) bool { return true }))
	req, err := accept.Request(tool(bounce.PolicyConditional, bounce.SecurityPublic), "search", nil, approval.RiskLow, "engine")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.State != approval.StateAutoApproved {
		t.Fatalf("accepting predicate: state = %s, want auto_approved", req.State)
	}

	reject := newManager(t, approval.WithPredicate(func(approval.Request) bool { return false }))
	req, err = reject.Request(tool(bounce.PolicyConditional, bounce.SecurityPublic), "search", nil, approval.RiskLow, "engine")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.State != approval.StatePending {
		t.Fatalf("rejecting predicate: state = %s, want pending", req.State)
	}
}

func TestRequestRejectsDisallowedOperation(t *testing.T) {
	m := newManager(t)
	_, err := m.Request(tool(bounce.PolicyNever, bounce.SecurityPublic), "delete_channel", nil, approval.RiskLow, "engine")
	if err == nil {
		t.Fatal("want error for operation outside allow list")
	}
	if bounce.KindOf(err) != bounce.KindNotApproved {
		t.Fatalf("kind = %s, want not_approved", bounce.KindOf(err))
	}
}

func TestProcessApproveAndReject(t *testing.T) {
	m := newManager(t)
	td := tool(bounce.PolicyAlways, bounce.SecurityInternal)

	req, err := m.Request(td, "send_message", nil, approval.RiskMedium, "engine")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	ok, err := m.Process(req.ID, true, "alice", "looks safe")
	if err != nil || !ok {
		t.Fatalf("Process approve: ok=%v err=%v", ok, err)
	}
	got, _ := m.Get(req.ID)
	if got.State != approval.StateManuallyApproved || got.Decider != "alice" {
		t.Fatalf("after approve: %+v", got)
	}

	// A second decision on the same request fails.
	if _, err := m.Process(req.ID, false, "bob", ""); !errors.Is(err, approval.ErrAlreadyDecided) {
		t.Fatalf("second decision err = %v, want ErrAlreadyDecided", err)
	}

	rej, err := m.Request(td, "send_message", nil, approval.RiskMedium, "engine")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	ok, err = m.Process(rej.ID, false, "alice", "too broad")
	if err != nil {
		t.Fatalf("Process reject: %v", err)
	}
	if ok {
		t.Fatal("rejected request must not approve execution")
	}
}

func TestProcessUnknownID(t *testing.T) {
	m := newManager(t)
	if _, err := m.Process("nope", true, "alice", ""); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExpiryIsLazyAndTerminal(t *testing.T) {
	clock := newFakeClock()
	m := newManager(t, approval.WithTTL(time.Minute), approval.WithNowFunc(clock.Now))
	td := tool(bounce.PolicyAlways, bounce.SecurityInternal)

	req, err := m.Request(td, "send_message", nil, approval.RiskMedium, "engine")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	clock.Advance(2 * time.Minute)

	if _, err := m.Process(req.ID, true, "alice", ""); !errors.Is(err, approval.ErrExpired) {
		t.Fatalf("decision after TTL err = %v, want ErrExpired", err)
	}
	got, _ := m.Get(req.ID)
	if got.State != approval.StateExpired {
		t.Fatalf("state = %s, want expired", got.State)
	}
}

func TestAuthorize(t *testing.T) {
	clock := newFakeClock()
	m := newManager(t, approval.WithTTL(time.Minute), approval.WithNowFunc(clock.Now))
	td := tool(bounce.PolicyNever, bounce.SecurityPublic)

	req, err := m.Request(td, "search", nil, approval.RiskLow, "engine")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := m.Authorize(req.ID, td.Label, "search"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	// Wrong operation or tool.
	if err := m.Authorize(req.ID, td.Label, "send_message"); err == nil {
		t.Fatal("want error for mismatched operation")
	}
	if err := m.Authorize(req.ID, "other-tool", "search"); err == nil {
		t.Fatal("want error for mismatched tool")
	}
	if err := m.Authorize("missing", td.Label, "search"); err == nil {
		t.Fatal("want error for unknown approval")
	}

	// The TTL window applies to approved requests too.
	clock.Advance(2 * time.Minute)
	if err := m.Authorize(req.ID, td.Label, "search"); err == nil {
		t.Fatal("want error for expired approval window")
	}
}

func TestClearGradesAndFiles(t *testing.T) {
	m := newManager(t)
	td := tool(bounce.PolicyNever, bounce.SecurityPublic)

	id, proceed, risk, err := m.Clear(td, "search", nil, "engine")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !proceed {
		t.Fatal("low-risk never-policy search should clear immediately")
	}
	if risk != string(approval.RiskLow) {
		t.Fatalf("risk = %s, want low", risk)
	}
	if _, ok := m.Get(id); !ok {
		t.Fatal("Clear must file a retrievable request")
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	clock := newFakeClock()
	m := newManager(t, approval.WithNowFunc(clock.Now))
	td := tool(bounce.PolicyAlways, bounce.SecurityInternal)

	first, _ := m.Request(td, "send_message", nil, approval.RiskMedium, "engine")
	clock.Advance(time.Second)
	second, _ := m.Request(td, "send_message", nil, approval.RiskMedium, "engine")
	_, _ = m.Process(first.ID, false, "alice", "")

	pending := m.List(approval.StatePending)
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("pending filter returned %+v", pending)
	}

	all := m.List("")
	if len(all) != 2 {
		t.Fatalf("List len = %d, want 2", len(all))
	}
	if all[0].ID != second.ID {
		t.Fatal("List must order newest first")
	}
}

func TestStatsDerivedFromTrail(t *testing.T) {
	m := newManager(t)
	neverTool := tool(bounce.PolicyNever, bounce.SecurityPublic)
	alwaysTool := tool(bounce.PolicyAlways, bounce.SecurityInternal)

	_, _ = m.Request(neverTool, "search", nil, approval.RiskLow, "engine") // auto approved
	pend, _ := m.Request(alwaysTool, "send_message", nil, approval.RiskMedium, "engine")
	_, _ = m.Process(pend.ID, false, "alice", "")
	_, _ = m.Request(alwaysTool, "send_message", nil, approval.RiskMedium, "engine") // stays pending

	s := m.Stats()
	if s.Total != 3 {
		t.Fatalf("Total = %d, want 3", s.Total)
	}
	if s.AutoApproved != 1 || s.Rejected != 1 || s.Pending != 1 {
		t.Fatalf("snapshot = %+v", s)
	}

	trail := m.Trail()
	// 3 pending entries plus 2 terminal transitions.
	if len(trail) != 5 {
		t.Fatalf("trail len = %d, want 5", len(trail))
	}
}

func TestGradeRisk(t *testing.T) {
	m := newManager(t)
	cases := []struct {
		security string
		op       string
		want     approval.Risk
	}{
		{bounce.SecurityPublic, "search", approval.RiskLow},
		{bounce.SecurityPublic, "get_status", approval.RiskLow},
		{bounce.SecurityPublic, "send_message", approval.RiskMedium},
		{bounce.SecurityInternal, "list_channels", approval.RiskLow},
		{bounce.SecurityInternal, "delete_channel", approval.RiskHigh},
		{bounce.SecuritySensitive, "read_record", approval.RiskMedium},
		{bounce.SecuritySensitive, "rotate_keys", approval.RiskCritical},
		{"unknown", "anything", approval.RiskCritical},
	}
	for _, tc := range cases {
		td := tool(bounce.PolicyAlways, tc.security, tc.op)
		if got := m.GradeRisk(td, tc.op); got != tc.want {
			t.Errorf("GradeRisk(%s, %s) = %s, want %s", tc.security, tc.op, got, tc.want)
		}
	}
}
