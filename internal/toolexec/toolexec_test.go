package toolexec_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jordanhubbard/wallbounce/internal/approval"
	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/toolexec"
)

// captureRecorder collects recorded outcomes.
type captureRecorder struct {
	mu   sync.Mutex
	outs []bounce.ToolOutcome
}

func (c *captureRecorder) RecordToolExecution(out bounce.ToolOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outs = append(c.outs, out)
	return nil
}

func (c *captureRecorder) last() (bounce.ToolOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outs) == 0 {
		return bounce.ToolOutcome{}, false
	}
	return c.outs[len(c.outs)-1], true
}

func newApprovals(t *testing.T) *approval.Manager {
	t.Helper()
	m := approval.NewManager()
	t.Cleanup(m.Close)
	return m
}

func execTool(url string) bounce.ToolDescriptor {
	return bounce.ToolDescriptor{
		Label:             "runbook-search",
		TransportURL:      url,
		CostTier:          bounce.CostTierStandard,
		SecurityTier:      bounce.SecurityInternal,
		AllowedOperations: []string{"search"},
		ApprovalPolicy:    bounce.PolicyNever,
		AuthToken:         "tool-secret",
	}
}

func TestExecuteSuccess(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_, _ = w.Write([]byte(`{"results":["runbook-42"]}`))
	}))
	defer backend.Close()

	approvals := newApprovals(t)
	tool := execTool(backend.URL)
	id, proceed, _, err := approvals.Clear(tool, "search", map[string]any{"q": "disk full"}, "engine")
	if err != nil || !proceed {
		t.Fatalf("Clear: proceed=%v err=%v", proceed, err)
	}

	rec := &captureRecorder{}
	svc := toolexec.New(approvals, toolexec.WithRecorder(rec))

	out := svc.Execute(context.Background(), tool, "search", map[string]any{"q": "disk full"}, id)
	if !out.Success {
		t.Fatalf("Execute failed: %+v", out)
	}
	if out.Output == "" || out.Error != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if gotAuth != "Bearer tool-secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotPayload["operation"] != "search" {
		t.Fatalf("payload = %+v", gotPayload)
	}
	if last, ok := rec.last(); !ok || !last.Success {
		t.Fatalf("recorder outcome = %+v ok=%v", last, ok)
	}
}

func TestExecuteUnapprovedFailsFast(t *testing.T) {
	called := false
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer backend.Close()

	approvals := newApprovals(t)
	tool := execTool(backend.URL)
	svc := toolexec.New(approvals)

	out := svc.Execute(context.Background(), tool, "search", nil, "no-such-approval")
	if out.Success {
		t.Fatal("unapproved execution must not succeed")
	}
	if out.Error != bounce.KindNotApproved {
		t.Fatalf("error kind = %s, want not_approved", out.Error)
	}
	if called {
		t.Fatal("backend must not be contacted without authorization")
	}
}

func TestExecuteApprovalMismatch(t *testing.T) {
	approvals := newApprovals(t)
	tool := execTool("http://unused.invalid")
	id, _, _, err := approvals.Clear(tool, "search", nil, "engine")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	svc := toolexec.New(approvals)

	other := tool
	other.Label = "different-tool"
	out := svc.Execute(context.Background(), other, "search", nil, id)
	if out.Error != bounce.KindNotApproved {
		t.Fatalf("mismatched tool error = %s, want not_approved", out.Error)
	}
}

func TestExecuteBackendErrorRidesInOutcome(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()

	approvals := newApprovals(t)
	tool := execTool(backend.URL)
	id, _, _, err := approvals.Clear(tool, "search", nil, "engine")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}

	rec := &captureRecorder{}
	svc := toolexec.New(approvals, toolexec.WithRecorder(rec))

	out := svc.Execute(context.Background(), tool, "search", nil, id)
	if out.Success {
		t.Fatal("backend 500 must fail the outcome")
	}
	if out.Error != bounce.KindProviderError {
		t.Fatalf("error kind = %s, want provider_error", out.Error)
	}
	if last, ok := rec.last(); !ok || last.Success {
		t.Fatalf("recorder outcome = %+v ok=%v", last, ok)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer backend.Close()

	approvals := newApprovals(t)
	tool := execTool(backend.URL)
	id, _, _, err := approvals.Clear(tool, "search", nil, "engine")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	svc := toolexec.New(approvals)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := svc.Execute(ctx, tool, "search", nil, id)
	if out.Success {
		t.Fatal("cancelled context must fail the outcome")
	}
	if out.Error != bounce.KindDeadlineExceeded {
		t.Fatalf("error kind = %s, want deadline_exceeded", out.Error)
	}
}
