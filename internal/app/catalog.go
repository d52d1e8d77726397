package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

// ProviderSpec pairs a routable descriptor with the transport wiring needed
// to build its adapter. Secrets stay in the environment: the entry names the
// variable, never the value.
type ProviderSpec struct {
	bounce.ProviderDescriptor

	// sdk-direct transport.
	BaseURL   string `json:"base_url,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"`

	// cli transport.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// mcp transport.
	Endpoint     string `json:"endpoint,omitempty"`
	AuthTokenEnv string `json:"auth_token_env,omitempty"`
}

// builtinCatalog is the default provider set. PROVIDERS_ENABLED filters it by
// name; WALLBOUNCE_PROVIDERS_CONFIG layers extra or replacement entries on
// top. One transport per (vendor, model) pair, which the registry enforces
// again at construction.
func builtinCatalog() []ProviderSpec {
	return []ProviderSpec{
		{
			ProviderDescriptor: bounce.ProviderDescriptor{
				Name: "gpt-5", Vendor: "openai", Model: "gpt-5",
				Transport:         bounce.TransportSDK,
				CostPerInputToken: 0.00000125, CostPerOutputToken: 0.00001,
				SupportedTiers: []bounce.TaskTier{bounce.TierBasic, bounce.TierPremium, bounce.TierCritical},
			},
			APIKeyEnv: "WALLBOUNCE_OPENAI_API_KEY",
		},
		{
			ProviderDescriptor: bounce.ProviderDescriptor{
				Name: "gpt-5-codex", Vendor: "openai", Model: "gpt-5-codex",
				Transport:         bounce.TransportSDK,
				CostPerInputToken: 0.00000125, CostPerOutputToken: 0.00001,
				SupportedTiers: []bounce.TaskTier{bounce.TierPremium, bounce.TierCritical},
			},
			APIKeyEnv: "WALLBOUNCE_OPENAI_API_KEY",
		},
		{
			ProviderDescriptor: bounce.ProviderDescriptor{
				Name: "claude-opus", Vendor: "anthropic", Model: "claude-opus-4-1",
				Transport:         bounce.TransportSDK,
				CostPerInputToken: 0.000015, CostPerOutputToken: 0.000075,
				SupportedTiers: []bounce.TaskTier{bounce.TierPremium, bounce.TierCritical},
			},
			APIKeyEnv: "WALLBOUNCE_ANTHROPIC_API_KEY",
		},
		{
			ProviderDescriptor: bounce.ProviderDescriptor{
				Name: "claude-sonnet", Vendor: "anthropic", Model: "claude-sonnet-4",
				Transport:         bounce.TransportSDK,
				CostPerInputToken: 0.000003, CostPerOutputToken: 0.000015,
				SupportedTiers: []bounce.TaskTier{bounce.TierBasic, bounce.TierPremium, bounce.TierCritical},
			},
			APIKeyEnv: "WALLBOUNCE_ANTHROPIC_API_KEY",
		},
		{
			ProviderDescriptor: bounce.ProviderDescriptor{
				Name: "gemini-2.5-pro", Vendor: "google", Model: "gemini-2.5-pro",
				Transport:         bounce.TransportCLI,
				CostPerInputToken: 0.00000125, CostPerOutputToken: 0.00001,
				SupportedTiers: []bounce.TaskTier{bounce.TierBasic, bounce.TierPremium, bounce.TierCritical},
			},
			Command: "gemini",
			Args:    []string{"--model", "gemini-2.5-pro", "--output-format", "json"},
		},
		{
			ProviderDescriptor: bounce.ProviderDescriptor{
				Name: "gemini-2.5-flash", Vendor: "google", Model: "gemini-2.5-flash",
				Transport:         bounce.TransportCLI,
				CostPerInputToken: 0.0000003, CostPerOutputToken: 0.0000025,
				SupportedTiers: []bounce.TaskTier{bounce.TierBasic},
			},
			Command: "gemini",
			Args:    []string{"--model", "gemini-2.5-flash", "--output-format", "json"},
		},
	}
}

// loadProviderSpecs resolves the effective provider set: built-in catalog,
// overlaid by WALLBOUNCE_PROVIDERS_CONFIG entries (matched by name), then
// filtered by PROVIDERS_ENABLED.
func loadProviderSpecs(cfg Config) ([]ProviderSpec, error) {
	specs := builtinCatalog()

	if cfg.ProvidersConfig != "" {
		var extra []ProviderSpec
		if err := json.Unmarshal([]byte(cfg.ProvidersConfig), &extra); err != nil {
			return nil, fmt.Errorf("WALLBOUNCE_PROVIDERS_CONFIG: invalid JSON: %w", err)
		}
		byName := make(map[string]int, len(specs))
		for i, s := range specs {
			byName[s.Name] = i
		}
		for _, e := range extra {
			if e.Name == "" || e.Vendor == "" || e.Model == "" {
				return nil, fmt.Errorf("WALLBOUNCE_PROVIDERS_CONFIG: entry missing name/vendor/model")
			}
			if !e.Transport.Valid() {
				return nil, fmt.Errorf("WALLBOUNCE_PROVIDERS_CONFIG: provider %q: unknown transport %q", e.Name, e.Transport)
			}
			if i, ok := byName[e.Name]; ok {
				specs[i] = e
			} else {
				byName[e.Name] = len(specs)
				specs = append(specs, e)
			}
		}
	}

	if len(cfg.ProvidersEnabled) > 0 {
		enabled := make(map[string]bool, len(cfg.ProvidersEnabled))
		for _, name := range cfg.ProvidersEnabled {
			enabled[name] = true
		}
		filtered := specs[:0]
		for _, s := range specs {
			if enabled[s.Name] {
				filtered = append(filtered, s)
				delete(enabled, s.Name)
			}
		}
		for name := range enabled {
			return nil, fmt.Errorf("PROVIDERS_ENABLED names unknown provider %q", name)
		}
		specs = filtered
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}
	return specs, nil
}

// toolSpec is the wire form of WALLBOUNCE_TOOLS_CONFIG entries.
type toolSpec struct {
	Label             string   `json:"label"`
	TransportURL      string   `json:"transport_url"`
	AuthTokenEnv      string   `json:"auth_token_env,omitempty"`
	CostTier          string   `json:"cost_tier"`
	SecurityTier      string   `json:"security_tier"`
	AllowedOperations []string `json:"allowed_operations"`
	ApprovalPolicy    string   `json:"approval_policy"`
}

// loadToolDescriptors parses WALLBOUNCE_TOOLS_CONFIG. Auth tokens are pulled
// from the named environment variable; sealed-vault tokens are resolved later
// by the tool config manager.
func loadToolDescriptors(cfg Config) ([]bounce.ToolDescriptor, error) {
	if cfg.ToolsConfig == "" {
		return nil, nil
	}
	var specs []toolSpec
	if err := json.Unmarshal([]byte(cfg.ToolsConfig), &specs); err != nil {
		return nil, fmt.Errorf("WALLBOUNCE_TOOLS_CONFIG: invalid JSON: %w", err)
	}
	out := make([]bounce.ToolDescriptor, 0, len(specs))
	for _, s := range specs {
		if s.Label == "" || s.TransportURL == "" {
			return nil, fmt.Errorf("WALLBOUNCE_TOOLS_CONFIG: entry missing label/transport_url")
		}
		d := bounce.ToolDescriptor{
			Label:             s.Label,
			TransportURL:      s.TransportURL,
			CostTier:          s.CostTier,
			SecurityTier:      s.SecurityTier,
			AllowedOperations: s.AllowedOperations,
			ApprovalPolicy:    s.ApprovalPolicy,
		}
		if s.AuthTokenEnv != "" {
			d.AuthToken = os.Getenv(s.AuthTokenEnv)
		}
		out = append(out, d)
	}
	return out, nil
}
