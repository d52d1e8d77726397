package openai

import (
	"context"
	"net/http"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
	"github.com/jordanhubbard/wallbounce/internal/providers"
)

// DefaultBaseURL is the hosted OpenAI endpoint. Self-hosted OpenAI-compatible
// backends (vLLM, llamafile, gateways) are reached by overriding BaseURL.
const DefaultBaseURL = "https://api.openai.com"

// Adapter invokes an OpenAI-wire chat completion backend. It implements
// bounce.Invoker.
type Adapter struct {
	desc    bounce.ProviderDescriptor
	apiKey  string
	baseURL string
	client  *http.Client
	metrics *metrics.Registry
}

// New creates an OpenAI-wire adapter for the given descriptor.
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

// WithBaseURL points the adapter at a self-hosted OpenAI-compatible endpoint.
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

// HealthEndpoint returns a URL for health probing.
func (a *Adapter) HealthEndpoint() string {
	return a.baseURL + "/v1/models"
}

// Invoke sends the prompt as a single user message and turns the completion
// into a Vote. Failures become error votes; Invoke never returns an error.
func (a *Adapter) Invoke(ctx context.Context, text string, opts bounce.InvokeOptions) bounce.Vote {
	start := time.Now()
	payload := map[string]any{
		"model": a.desc.Model,
		"messages": []map[string]string{
			{"role": "user", "content": text},
		},
	}

	headers := map[string]string{}
	if a.apiKey != "" {
		headers["Authorization"] = "Bearer " + a.apiKey
	}

	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, headers)
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
