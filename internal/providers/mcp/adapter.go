// Package mcp invokes an LLM backend exposed as a JSON-RPC 2.0 sampling
// server over a persistent HTTP connection (Model Context Protocol wire
// shape).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
	"github.com/jordanhubbard/wallbounce/internal/providers"
)

const (
	jsonrpcVersion   = "2.0"
	samplingMethod   = "sampling/createMessage"
	defaultMaxTokens = 4096
)

// Adapter speaks JSON-RPC to one MCP endpoint. The shared keep-alive client
// holds the connection open across invokes. It implements bounce.Invoker.
type Adapter struct {
	desc     bounce.ProviderDescriptor
	endpoint string
	token    string
	client   *http.Client
	nextID   atomic.Int64
	metrics  *metrics.Registry
}

// New creates an MCP adapter for the given descriptor and endpoint URL.
func New(desc bounce.ProviderDescriptor, endpoint string, opts ...Option) *Adapter {
	a := &Adapter{
		desc:     desc,
		endpoint: endpoint,
		client:   providers.NewHTTPClient(2 * time.Minute),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithToken sets a bearer token for the RPC endpoint.
func WithToken(token string) Option {
	return func(a *Adapter) {
		a.token = token
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

// HealthEndpoint returns the RPC endpoint for reachability probing.
func (a *Adapter) HealthEndpoint() string { return a.endpoint }

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type samplingResult struct {
	Content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stopReason"`
}

// Invoke sends one sampling/createMessage call and turns the result into a
// Vote. Failures become error votes; Invoke never returns an error.
func (a *Adapter) Invoke(ctx context.Context, text string, opts bounce.InvokeOptions) bounce.Vote {
	start := time.Now()
	payload := map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      a.nextID.Add(1),
		"method":  samplingMethod,
		"params": map[string]any{
			"messages": []map[string]any{
				{"role": "user", "content": map[string]string{"type": "text", "text": text}},
			},
			"maxTokens": defaultMaxTokens,
			"modelPreferences": map[string]any{
				"hints": []map[string]string{{"name": a.desc.Model}},
			},
		},
	}

	headers := map[string]string{}
	if a.token != "" {
		headers["Authorization"] = "Bearer " + a.token
	}

	body, err := providers.DoRequest(ctx, a.client, a.endpoint, payload, headers)
	if err == nil {
		var env rpcEnvelope
		if uerr := json.Unmarshal(body, &env); uerr != nil {
			err = fmt.Errorf("malformed rpc response: %w", uerr)
		} else if env.Error != nil {
			err = env.Error
		} else {
			var res samplingResult
			if uerr := json.Unmarshal(env.Result, &res); uerr != nil {
				err = fmt.Errorf("malformed sampling result: %w", uerr)
			} else {
				return providers.FinishVote(ctx, providers.VoteParams{
					Desc: a.desc, Start: start, PromptText: text,
					Content: res.Content.Text,
					Opts:    opts, Metrics: a.metrics,
				})
			}
		}
	}

	return providers.FinishVote(ctx, providers.VoteParams{
		Desc: a.desc, Start: start, PromptText: text,
		Err: err, Opts: opts, Metrics: a.metrics,
	})
}
