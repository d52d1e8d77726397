package anthropic

import (
	"context"
	"net/http"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
	"github.com/jordanhubbard/wallbounce/internal/providers"
)

const (
	// DefaultBaseURL is the hosted Anthropic endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Adapter invokes an Anthropic messages backend. It implements
// bounce.Invoker.
type Adapter struct {
	desc    bounce.ProviderDescriptor
	apiKey  string
	baseURL string
	client  *http.Client
	metrics *metrics.Registry
}

// New creates an Anthropic adapter for the given descriptor.
func New(desc bounce.ProviderDescriptor, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		desc:    desc,
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  providers.NewHTTPClient(2 * time.Minute),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API endpoint, e.g. for a proxy.
func WithBaseURL(url string) Option {
	return func(a *Adapter) {
		if url != "" {
			a.baseURL = url
		}
	}
}

// WithTimeout sets the HTTP client backstop timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.client.Timeout = d
	}
}

// WithMetrics attaches the write-only metrics surface.
func WithMetrics(m *metrics.Registry) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func (a *Adapter) Descriptor() bounce.ProviderDescriptor { return a.desc }

// ID returns the provider name for health probing.
func (a *Adapter) ID() string { return a.desc.Name }

// HealthEndpoint returns a URL for health probing. A GET to the messages
// endpoint returns 405 (Method Not Allowed) which proves reachability.
func (a *Adapter) HealthEndpoint() string {
	return a.baseURL + "/v1/messages"
}

func (a *Adapter) authHeaders() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": apiVersion,
	}
}

// Invoke sends the prompt as a single user message and turns the reply into
// a Vote. Failures become error votes; Invoke never returns an error.
func (a *Adapter) Invoke(ctx context.Context, text string, opts bounce.InvokeOptions) bounce.Vote {
	start := time.Now()
	payload := map[string]any{
		"model":      a.desc.Model,
		"max_tokens": defaultMaxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": text},
		},
	}

	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, a.authHeaders())
	if err != nil {
		return providers.FinishVote(ctx, providers.VoteParams{
			Desc: a.desc, Start: start, PromptText: text,
			Err: err, Opts: opts, Metrics: a.metrics,
		})
	}

	content := providers.ExtractText(body)
	in, out := providers.ExtractUsage(body)
	return providers.FinishVote(ctx, providers.VoteParams{
		Desc: a.desc, Start: start, PromptText: text,
		Content: content, InTokens: in, OutTokens: out,
		Opts: opts, Metrics: a.metrics,
	})
}
