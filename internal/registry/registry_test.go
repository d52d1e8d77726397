package registry_test

import (
	"testing"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/registry"
)

func desc(name, vendor, model string, transport bounce.Transport, cost float64, tiers ...bounce.TaskTier) bounce.ProviderDescriptor {
	if len(tiers) == 0 {
		tiers = []bounce.TaskTier{bounce.TierBasic, bounce.TierPremium, bounce.TierCritical}
	}
	return bounce.ProviderDescriptor{
		Name: name, Vendor: vendor, Model: model,
		Transport:         transport,
		CostPerInputToken: cost, CostPerOutputToken: cost,
		SupportedTiers: tiers,
	}
}

func TestNewRejectsConflictingTransports(t *testing.T) {
	_, err := registry.New([]bounce.ProviderDescriptor{
		desc("a", "openai", "gpt-5", bounce.TransportSDK, 1),
		desc("b", "openai", "gpt-5", bounce.TransportCLI, 1),
	})
	if err == nil {
		t.Fatal("want error for two transports on one (vendor, model)")
	}
	if bounce.KindOf(err) != bounce.KindConfigError {
		t.Fatalf("kind = %s, want config_error", bounce.KindOf(err))
	}
}

func TestNewAllowsSameModelSameTransport(t *testing.T) {
	// Two names can front the same (vendor, model) as long as the transport
	// matches.
	r, err := registry.New([]bounce.ProviderDescriptor{
		desc("a", "openai", "gpt-5", bounce.TransportSDK, 1),
		desc("b", "openai", "gpt-5", bounce.TransportSDK, 1),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
}

func TestNewRejectsDuplicateName(t *testing.T) {
	_, err := registry.New([]bounce.ProviderDescriptor{
		desc("a", "openai", "gpt-5", bounce.TransportSDK, 1),
		desc("a", "anthropic", "claude-opus-4-1", bounce.TransportSDK, 1),
	})
	if err == nil {
		t.Fatal("want error for duplicate provider name")
	}
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	d := desc("a", "openai", "gpt-5", bounce.Transport("carrier-pigeon"), 1)
	if _, err := registry.New([]bounce.ProviderDescriptor{d}); err == nil {
		t.Fatal("want error for unknown transport")
	}
}

func TestNewRejectsMissingFields(t *testing.T) {
	d := desc("", "openai", "gpt-5", bounce.TransportSDK, 1)
	if _, err := registry.New([]bounce.ProviderDescriptor{d}); err == nil {
		t.Fatal("want error for missing name")
	}
}

func TestProvidersForBasicPrefersCheapest(t *testing.T) {
	r, err := registry.New([]bounce.ProviderDescriptor{
		desc("pricey", "openai", "gpt-5", bounce.TransportSDK, 10),
		desc("cheap", "google", "gemini-2.5-flash", bounce.TransportCLI, 1),
		desc("mid", "anthropic", "claude-sonnet-4", bounce.TransportSDK, 5),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := r.ProvidersFor(bounce.TierBasic, 2)
	if err != nil {
		t.Fatalf("ProvidersFor: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("got %d providers, want at least 2", len(got))
	}
	if got[0].Name != "cheap" {
		t.Fatalf("basic tier ranked %q first, want cheap", got[0].Name)
	}
}

func TestProvidersForCriticalPrefersPriciest(t *testing.T) {
	r, err := registry.New([]bounce.ProviderDescriptor{
		desc("pricey", "openai", "gpt-5", bounce.TransportSDK, 10),
		desc("cheap", "google", "gemini-2.5-flash", bounce.TransportCLI, 1),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := r.ProvidersFor(bounce.TierCritical, 1)
	if err != nil {
		t.Fatalf("ProvidersFor: %v", err)
	}
	if got[0].Name != "pricey" {
		t.Fatalf("critical tier ranked %q first, want pricey", got[0].Name)
	}
}

func TestProvidersForDedupesVendors(t *testing.T) {
	r, err := registry.New([]bounce.ProviderDescriptor{
		desc("a1", "openai", "gpt-5", bounce.TransportSDK, 1),
		desc("a2", "openai", "gpt-5-codex", bounce.TransportSDK, 2),
		desc("b", "anthropic", "claude-opus-4-1", bounce.TransportSDK, 3),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := r.ProvidersFor(bounce.TierBasic, 2)
	if err != nil {
		t.Fatalf("ProvidersFor: %v", err)
	}
	vendors := map[string]int{}
	for _, d := range got {
		vendors[d.Vendor]++
	}
	if vendors["openai"] != 1 {
		t.Fatalf("openai appears %d times after dedupe, want 1", vendors["openai"])
	}
}

func TestProvidersForRefillsWhenDiversityTooThin(t *testing.T) {
	r, err := registry.New([]bounce.ProviderDescriptor{
		desc("a1", "openai", "gpt-5", bounce.TransportSDK, 1),
		desc("a2", "openai", "gpt-5-codex", bounce.TransportSDK, 2),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := r.ProvidersFor(bounce.TierBasic, 2)
	if err != nil {
		t.Fatalf("ProvidersFor: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d providers, want vendor duplicates refilled to 2", len(got))
	}
}

func TestProvidersForFiltersByTier(t *testing.T) {
	r, err := registry.New([]bounce.ProviderDescriptor{
		desc("basic-only", "google", "gemini-2.5-flash", bounce.TransportCLI, 1, bounce.TierBasic),
		desc("critical-only", "openai", "gpt-5", bounce.TransportSDK, 10, bounce.TierCritical),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := r.ProvidersFor(bounce.TierCritical, 1)
	if err != nil {
		t.Fatalf("ProvidersFor: %v", err)
	}
	if len(got) != 1 || got[0].Name != "critical-only" {
		t.Fatalf("tier filter returned %+v", got)
	}
}

func TestProvidersForNoCandidates(t *testing.T) {
	r, err := registry.New([]bounce.ProviderDescriptor{
		desc("basic-only", "google", "gemini-2.5-flash", bounce.TransportCLI, 1, bounce.TierBasic),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := r.ProvidersFor(bounce.TierCritical, 1)
	if err != nil {
		t.Fatalf("ProvidersFor: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty set, got %+v", got)
	}
}

func TestGetAndAll(t *testing.T) {
	r, err := registry.New([]bounce.ProviderDescriptor{
		desc("a", "openai", "gpt-5", bounce.TransportSDK, 1),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatal("Get(a) not found")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get(missing) unexpectedly found")
	}
	all := r.All()
	all[0].Name = "mutated"
	if d, _ := r.Get("a"); d.Name != "a" {
		t.Fatal("All must return a copy")
	}
}
