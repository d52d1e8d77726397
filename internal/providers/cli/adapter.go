// Package cli invokes an LLM backend through a subprocess: the prompt is
// written to stdin and a JSON completion is read from stdout. Vendor CLIs
// (gemini, codex, claude) and local wrappers all speak this shape.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
	"github.com/jordanhubbard/wallbounce/internal/providers"
)

const stderrTailBytes = 512

// Adapter runs one command per invoke. It implements bounce.Invoker.
type Adapter struct {
	desc    bounce.ProviderDescriptor
	command string
	args    []string
	env     []string
	metrics *metrics.Registry
}

// New creates a CLI adapter for the given descriptor and command line.
func New(desc bounce.ProviderDescriptor, command string, args []string, opts ...Option) *Adapter {
	a := &Adapter{
		desc:    desc,
		command: command,
		args:    args,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithEnv appends KEY=VALUE pairs to the subprocess environment.
func WithEnv(env ...string) Option {
	return func(a *Adapter) {
		a.env = append(a.env, env...)
	}
}

// WithMetrics attaches the write-only metrics surface.
func WithMetrics(m *metrics.Registry) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func (a *Adapter) Descriptor() bounce.ProviderDescriptor { return a.desc }

// completion is the JSON shape expected on stdout. Content may arrive under
// several keys; bare non-JSON output is treated as the content itself.
type completion struct {
	Content    string   `json:"content"`
	Text       string   `json:"text"`
	Response   string   `json:"response"`
	Confidence *float64 `json:"confidence"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c completion) content() string {
	switch {
	case c.Content != "":
		return c.Content
	case c.Text != "":
		return c.Text
	default:
		return c.Response
	}
}

// Invoke runs the command with the prompt on stdin. The context carries the
// per-call deadline; CommandContext kills the subprocess when it fires.
// Failures become error votes; Invoke never returns an error.
func (a *Adapter) Invoke(ctx context.Context, text string, opts bounce.InvokeOptions) bounce.Vote {
	start := time.Now()
	ctx, span := otel.Tracer("wallbounce.providers").Start(ctx, "provider.exec")
	span.SetAttributes(
		attribute.String("exec.command", a.command),
		attribute.String("provider.name", a.desc.Name),
	)
	defer span.End()

	cmd := exec.CommandContext(ctx, a.command, a.args...)
	cmd.Stdin = strings.NewReader(text)
	if len(a.env) > 0 {
		cmd.Env = append(cmd.Environ(), a.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%s: %w: %s", a.command, err, stderrTail(stderr.Bytes()))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "exec failed")
		return providers.FinishVote(ctx, providers.VoteParams{
			Desc: a.desc, Start: start, PromptText: text,
			Err: err, Opts: opts, Metrics: a.metrics,
		})
	}
	span.SetStatus(codes.Ok, "")

	var c completion
	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 || raw[0] != '{' {
		// Not the JSON shape; the CLI printed the answer directly.
		c = completion{Content: string(raw)}
	} else if err := json.Unmarshal(raw, &c); err != nil {
		c = completion{Content: string(raw)}
	}

	return providers.FinishVote(ctx, providers.VoteParams{
		Desc: a.desc, Start: start, PromptText: text,
		Content: c.content(), BackendConf: c.Confidence,
		InTokens: c.Usage.InputTokens, OutTokens: c.Usage.OutputTokens,
		Opts: opts, Metrics: a.metrics,
	})
}

func stderrTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}
