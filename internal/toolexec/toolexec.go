// Package toolexec runs approved tool invocations against their backends.
// Execution is fail-fast on approval state and never returns an error:
// backend failures ride inside the ToolOutcome.
package toolexec

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/approval"
	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/events"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
	"github.com/jordanhubbard/wallbounce/internal/providers"
	"github.com/jordanhubbard/wallbounce/internal/tools"
)

const (
	statusSuccess     = "success"
	statusFailed      = "failed"
	statusNotApproved = "not_approved"
)

// Recorder mirrors tool outcomes into durable storage.
type Recorder interface {
	RecordToolExecution(out bounce.ToolOutcome) error
}

// Service executes tools over HTTP. It implements the orchestrator's
// ToolRunner contract.
type Service struct {
	approvals *approval.Manager
	client    *http.Client
	recorder  Recorder
	metrics   *metrics.Registry
	bus       *events.Bus
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient overrides the backend client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.client = c
	}
}

// WithRecorder mirrors outcomes into durable storage.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithMetrics attaches the write-only metrics surface.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBus publishes tool execution events.
func WithBus(b *events.Bus) Option {
	return func(s *Service) {
		s.bus = b
	}
}

// New builds the service around the approval manager that guards it.
func New(approvals *approval.Manager, opts ...Option) *Service {
	s := &Service{
		approvals: approvals,
		client:    providers.NewHTTPClient(60 * time.Second),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Execute runs one approved tool invocation. The referenced approval must be
// in a terminal approving state, unexpired, and must match the tool and
// operation; violations fail fast with not_approved. Backend failures come
// back as failed outcomes, never as errors.
func (s *Service) Execute(ctx context.Context, tool bounce.ToolDescriptor, operation string, params map[string]any, approvalID string) bounce.ToolOutcome {
	start := time.Now()
	out := bounce.ToolOutcome{
		RequestID:  providers.GetRequestID(ctx),
		ApprovalID: approvalID,
		ToolLabel:  tool.Label,
		Operation:  operation,
	}

	if err := s.approvals.Authorize(approvalID, tool.Label, operation); err != nil {
		out.Error = bounce.KindNotApproved
		out.Detail = err.Error()
		out.LatencyMs = time.Since(start).Milliseconds()
		s.finish(out, statusNotApproved)
		return out
	}

	payload := map[string]any{
		"operation":  operation,
		"parameters": params,
	}
	headers := map[string]string{}
	if tool.AuthToken != "" {
		headers["Authorization"] = "Bearer " + tool.AuthToken
	}

	body, err := providers.DoRequest(ctx, s.client, tool.TransportURL, payload, headers)
	out.LatencyMs = time.Since(start).Milliseconds()
	out.CostUSD = tools.EstimateCost(tool, nil)

	if err != nil {
		out.Error = classifyBackendError(ctx, err)
		out.Detail = err.Error()
		s.finish(out, statusFailed)
		return out
	}

	out.Success = true
	out.Output = string(body)
	s.finish(out, statusSuccess)
	return out
}

func (s *Service) finish(out bounce.ToolOutcome, status string) {
	s.metrics.IncToolExecution(out.ToolLabel, status)
	s.bus.Publish(events.Event{
		Type:       events.EventToolExecuted,
		ApprovalID: out.ApprovalID,
		RequestID:  out.RequestID,
		Tool:       out.ToolLabel,
		Operation:  out.Operation,
		State:      status,
		LatencyMs:  float64(out.LatencyMs),
		CostUSD:    out.CostUSD,
		ErrorKind:  string(out.Error),
	})
	if s.recorder != nil {
		if err := s.recorder.RecordToolExecution(out); err != nil {
			s.logger.Warn("tool outcome record failed",
				slog.String("tool", out.ToolLabel), slog.String("error", err.Error()))
		}
	}
}

func classifyBackendError(ctx context.Context, err error) bounce.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return bounce.KindDeadlineExceeded
	}
	return bounce.KindProviderError
}
