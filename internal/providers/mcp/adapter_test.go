package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

func mcpDesc() bounce.ProviderDescriptor {
	return bounce.ProviderDescriptor{
		Name: "local-sampler", Vendor: "selfhosted", Model: "qwen-72b",
		Transport:         bounce.TransportMCP,
		CostPerInputToken: 0, CostPerOutputToken: 0,
		SupportedTiers: []bounce.TaskTier{bounce.TierBasic},
	}
}

func TestInvokeSampling(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{
			"jsonrpc": "2.0", "id": 1,
			"result": {"content": {"type": "text", "text": "shard the hot partition"}, "model": "qwen-72b", "stopReason": "endTurn"}
		}`))
	}))
	defer srv.Close()

	a := New(mcpDesc(), srv.URL, WithToken("rpc-secret"))
	v := a.Invoke(context.Background(), "how do we fix the hot partition", bounce.InvokeOptions{Tier: bounce.TierBasic})

	if v.Error != "" {
		t.Fatalf("unexpected error vote: %+v", v)
	}
	if v.Content != "shard the hot partition" {
		t.Fatalf("content = %q", v.Content)
	}
	if gotAuth != "Bearer rpc-secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq["jsonrpc"] != "2.0" || gotReq["method"] != "sampling/createMessage" {
		t.Fatalf("rpc request = %+v", gotReq)
	}
	params, _ := gotReq["params"].(map[string]any)
	if params["maxTokens"] != float64(4096) {
		t.Fatalf("params = %+v", params)
	}
}

func TestInvokeRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"model not loaded"}}`))
	}))
	defer srv.Close()

	a := New(mcpDesc(), srv.URL)
	v := a.Invoke(context.Background(), "x", bounce.InvokeOptions{})
	if v.Error != bounce.KindProviderError {
		t.Fatalf("error kind = %s, want provider_error", v.Error)
	}
	if v.ErrorDetail == "" {
		t.Fatal("rpc error should carry detail")
	}
}

func TestInvokeMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	a := New(mcpDesc(), srv.URL)
	v := a.Invoke(context.Background(), "x", bounce.InvokeOptions{})
	if v.Error != bounce.KindProviderError {
		t.Fatalf("error kind = %s, want provider_error", v.Error)
	}
}

func TestInvokeHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := New(mcpDesc(), srv.URL)
	v := a.Invoke(context.Background(), "x", bounce.InvokeOptions{})
	if v.Error != bounce.KindProviderError {
		t.Fatalf("error kind = %s, want provider_error", v.Error)
	}
}

func TestInvokeIDsIncrement(t *testing.T) {
	var ids []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		ids = append(ids, req["id"].(float64))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":{"type":"text","text":"ok"}}}`))
	}))
	defer srv.Close()

	a := New(mcpDesc(), srv.URL)
	_ = a.Invoke(context.Background(), "one", bounce.InvokeOptions{})
	_ = a.Invoke(context.Background(), "two", bounce.InvokeOptions{})
	if len(ids) != 2 || ids[1] != ids[0]+1 {
		t.Fatalf("rpc ids = %v, want incrementing", ids)
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := New(mcpDesc(), "http://mcp.internal:9900/rpc")
	if a.HealthEndpoint() != "http://mcp.internal:9900/rpc" {
		t.Fatalf("HealthEndpoint = %q", a.HealthEndpoint())
	}
}
