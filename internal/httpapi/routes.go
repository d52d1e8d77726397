package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/client"

	"github.com/jordanhubbard/wallbounce/internal/approval"
	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/events"
	"github.com/jordanhubbard/wallbounce/internal/health"
	"github.com/jordanhubbard/wallbounce/internal/metrics"
	"github.com/jordanhubbard/wallbounce/internal/registry"
	"github.com/jordanhubbard/wallbounce/internal/stats"
	"github.com/jordanhubbard/wallbounce/internal/store"
	"github.com/jordanhubbard/wallbounce/internal/tools"
	"github.com/jordanhubbard/wallbounce/internal/tsdb"
	"github.com/jordanhubbard/wallbounce/internal/vault"
)

// Dependencies carries everything the HTTP layer needs. Optional subsystems
// are nil when not configured; every handler tolerates that.
type Dependencies struct {
	Engine    *bounce.Engine
	Registry  *registry.Registry
	Tools     *tools.Manager
	Approvals *approval.Manager
	Vault     *vault.Vault
	Metrics   *metrics.Registry
	Store     store.Store
	Health    *health.Tracker
	EventBus  *events.Bus
	Stats     *stats.Collector
	TSDB      *tsdb.Store
	Logger    *slog.Logger

	AdminToken *AdminTokenHolder
	Approvers  *ApproverTokens

	// Temporal workflow client (nil when Temporal is disabled).
	TemporalClient    client.Client
	TemporalTaskQueue string

	// MountMetrics controls whether /metrics is served on this router. False
	// when METRICS_BIND runs a separate listener.
	MountMetrics bool
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// MountRoutes attaches all wallbounce endpoints to the router. Middleware
// (request id, logging, CORS, rate limiting, idempotency) is layered by the
// caller.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Verify the engine can actually reach providers.
		providerCount := d.Registry.Len()
		invokerCount := len(d.Engine.InvokerNames())
		status := "ok"
		code := http.StatusOK
		if providerCount == 0 || invokerCount == 0 {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"providers": providerCount,
			"invokers":  invokerCount,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", AnalyzeHandler(d))
		r.Get("/providers", ProvidersListHandler(d))
		r.Get("/tools", ToolsListHandler(d))

		r.Get("/approvals", ApprovalsListHandler(d))
		r.Get("/approvals/{id}", ApprovalGetHandler(d))
		r.Post("/approvals/{id}/decision", ApprovalDecisionHandler(d))

		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}

		r.Post("/workflows/analyze", WorkflowAnalyzeHandler(d))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(adminAuth(d))

		r.Get("/health", HealthStatsHandler(d))
		r.Get("/stats", StatsHandler(d))
		r.Get("/logs", AnalysisLogsHandler(d))
		r.Get("/votes", VoteLogsHandler(d))
		r.Get("/audit", AuditLogsHandler(d))
		r.Get("/approvals/trail", ApprovalTrailHandler(d))
		r.Get("/config", ConfigViewHandler(d))

		r.Post("/vault/unlock", VaultUnlockHandler(d))
		r.Post("/vault/lock", VaultLockHandler(d))
		r.Get("/vault/status", VaultStatusHandler(d))

		r.Get("/loglevel", LogLevelGetHandler())
		r.Put("/loglevel", LogLevelSetHandler(d))

		r.Post("/admin-token/rotate", AdminTokenRotateHandler(d))

		r.Get("/tsdb/query", TSDBQueryHandler(d.TSDB))
		r.Get("/tsdb/metrics", TSDBMetricsHandler(d.TSDB))
		r.Post("/tsdb/prune", TSDBPruneHandler(d.TSDB))
		r.Put("/tsdb/retention", TSDBRetentionHandler(d.TSDB))

		r.Get("/workflows", WorkflowsListHandler(d))
		r.Get("/workflows/{id}", WorkflowDescribeHandler(d))
		r.Get("/workflows/{id}/history", WorkflowHistoryHandler(d))
	})

	if d.MountMetrics && d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

// adminAuth guards /admin/v1 with the bearer admin token. Requests without a
// holder configured are rejected outright.
func adminAuth(d Dependencies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d.AdminToken == nil {
				jsonError(w, "admin API disabled", bounce.KindConfigError, http.StatusForbidden)
				return
			}
			token := bearerToken(r)
			if token == "" || !d.AdminToken.ConstantTimeEqual(token) {
				jsonError(w, "invalid admin token", bounce.KindConfigError, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
