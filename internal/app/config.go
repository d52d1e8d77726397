package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

// Config is the full runtime configuration, resolved from the environment.
// Ambient settings use the WALLBOUNCE_ prefix; the core orchestration knobs
// (PROVIDERS_ENABLED, TASK_TIER_DEFAULTS_*, APPROVAL_TTL_SECONDS,
// DEFAULT_DEADLINE_MS, MAX_CONCURRENT_REQUESTS, METRICS_BIND) keep their
// unprefixed names.
type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	VaultEnabled bool

	// Security & hardening.
	AdminToken     string   // required for /admin/v1 access in production
	ApproverTokens []string // "name:token" pairs for manual approval decisions
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// Core orchestration knobs (exact env names, no prefix).
	ProvidersEnabled      []string // PROVIDERS_ENABLED; empty = all catalog entries
	TierDefaults          map[bounce.TaskTier]bounce.TierDefaults
	ApprovalTTLSeconds    int   // APPROVAL_TTL_SECONDS
	DefaultDeadlineMs     int   // DEFAULT_DEADLINE_MS; 0 = per-tier deadlines only
	MaxConcurrentRequests int   // MAX_CONCURRENT_REQUESTS
	MetricsBind           string // METRICS_BIND; empty = mount /metrics on main router

	// Extra provider/tool descriptors layered over the built-in catalog.
	ProvidersConfig string // WALLBOUNCE_PROVIDERS_CONFIG: JSON array
	ToolsConfig     string // WALLBOUNCE_TOOLS_CONFIG: JSON array

	ProviderTimeoutSecs int

	// OpenTelemetry.
	OTELEnabled  bool
	OTELEndpoint string

	// Temporal workflow engine.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:   getEnv("WALLBOUNCE_LISTEN_ADDR", ":8080"),
		LogLevel:     getEnv("WALLBOUNCE_LOG_LEVEL", "info"),
		DBDSN:        getEnv("WALLBOUNCE_DB_DSN", "file:/data/wallbounce.sqlite"),
		VaultEnabled: getEnvBool("WALLBOUNCE_VAULT_ENABLED", true),

		AdminToken:     getEnv("WALLBOUNCE_ADMIN_TOKEN", ""),
		ApproverTokens: getEnvStringSlice("WALLBOUNCE_APPROVER_TOKENS", nil),
		CORSOrigins:    getEnvStringSlice("WALLBOUNCE_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("WALLBOUNCE_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("WALLBOUNCE_RATE_LIMIT_BURST", 120),

		ProvidersEnabled:      getEnvStringSlice("PROVIDERS_ENABLED", nil),
		ApprovalTTLSeconds:    getEnvInt("APPROVAL_TTL_SECONDS", 1800),
		DefaultDeadlineMs:     getEnvInt("DEFAULT_DEADLINE_MS", 0),
		MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", 64),
		MetricsBind:           getEnv("METRICS_BIND", ""),

		ProvidersConfig: getEnv("WALLBOUNCE_PROVIDERS_CONFIG", ""),
		ToolsConfig:     getEnv("WALLBOUNCE_TOOLS_CONFIG", ""),

		ProviderTimeoutSecs: getEnvInt("WALLBOUNCE_PROVIDER_TIMEOUT_SECS", 120),

		OTELEnabled:  getEnvBool("WALLBOUNCE_OTEL_ENABLED", false),
		OTELEndpoint: getEnv("WALLBOUNCE_OTEL_ENDPOINT", "localhost:4318"),

		TemporalEnabled:   getEnvBool("WALLBOUNCE_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("WALLBOUNCE_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("WALLBOUNCE_TEMPORAL_NAMESPACE", "wallbounce"),
		TemporalTaskQueue: getEnv("WALLBOUNCE_TEMPORAL_TASK_QUEUE", "wallbounce-tasks"),
	}

	tiers, err := loadTierDefaults()
	if err != nil {
		return Config{}, err
	}
	cfg.TierDefaults = tiers

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("WALLBOUNCE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("WALLBOUNCE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("WALLBOUNCE_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.ApprovalTTLSeconds <= 0 {
		return fmt.Errorf("APPROVAL_TTL_SECONDS must be > 0, got %d", c.ApprovalTTLSeconds)
	}
	if c.DefaultDeadlineMs < 0 {
		return fmt.Errorf("DEFAULT_DEADLINE_MS must be >= 0, got %d", c.DefaultDeadlineMs)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be > 0, got %d", c.MaxConcurrentRequests)
	}
	for _, pair := range c.ApproverTokens {
		if !strings.Contains(pair, ":") {
			return fmt.Errorf("WALLBOUNCE_APPROVER_TOKENS entry %q: want name:token", pair)
		}
	}
	return nil
}

// loadTierDefaults starts from the built-in per-tier parameters and overlays
// the TASK_TIER_DEFAULTS_* JSON objects where set.
func loadTierDefaults() (map[bounce.TaskTier]bounce.TierDefaults, error) {
	tiers := bounce.DefaultTierDefaults()
	for tier, envKey := range map[bounce.TaskTier]string{
		bounce.TierBasic:    "TASK_TIER_DEFAULTS_BASIC",
		bounce.TierPremium:  "TASK_TIER_DEFAULTS_PREMIUM",
		bounce.TierCritical: "TASK_TIER_DEFAULTS_CRITICAL",
	} {
		raw := os.Getenv(envKey)
		if raw == "" {
			continue
		}
		td := tiers[tier]
		if err := json.Unmarshal([]byte(raw), &td); err != nil {
			return nil, fmt.Errorf("%s: invalid JSON: %w", envKey, err)
		}
		if td.MinProviders <= 0 {
			return nil, fmt.Errorf("%s: min_providers must be > 0", envKey)
		}
		if td.ConfidenceThreshold <= 0 || td.ConfidenceThreshold > 1 {
			return nil, fmt.Errorf("%s: confidence_threshold must be in (0,1]", envKey)
		}
		if td.DeadlineMs <= 0 {
			return nil, fmt.Errorf("%s: deadline_ms must be > 0", envKey)
		}
		tiers[tier] = td
	}
	return tiers, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
