package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/logging"
	"github.com/jordanhubbard/wallbounce/internal/store"
)

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// audit records an admin mutation in the durable audit trail.
func audit(d Dependencies, r *http.Request, action, resource, detail string) {
	if d.Store == nil {
		return
	}
	warnOnErr("log_audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Resource:  resource,
		Detail:    detail,
		RequestID: middleware.GetReqID(r.Context()),
	}))
}

// HealthStatsHandler handles GET /admin/v1/health: per-provider tracker
// state.
func HealthStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if d.Health == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"providers": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"providers": d.Health.AllStats(),
		})
	}
}

// StatsHandler handles GET /admin/v1/stats?by=vendor|provider|global.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Stats == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"stats": map[string]any{}})
			return
		}
		switch r.URL.Query().Get("by") {
		case "vendor":
			_ = json.NewEncoder(w).Encode(map[string]any{"stats": d.Stats.SummaryByVendor()})
		case "global":
			_ = json.NewEncoder(w).Encode(map[string]any{"stats": d.Stats.Global()})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"stats": d.Stats.Summary()})
		}
	}
}

// AnalysisLogsHandler handles GET /admin/v1/logs?limit=&offset=.
func AnalysisLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"logs": []any{}, "total": 0})
			return
		}
		logs, err := d.Store.ListAnalysisLogs(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
		if err != nil {
			jsonError(w, "store error: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"logs": logs, "total": len(logs)})
	}
}

// VoteLogsHandler handles GET /admin/v1/votes?limit=&offset=.
func VoteLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"votes": []any{}, "total": 0})
			return
		}
		votes, err := d.Store.ListVoteLogs(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
		if err != nil {
			jsonError(w, "store error: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"votes": votes, "total": len(votes)})
	}
}

// AuditLogsHandler handles GET /admin/v1/audit?limit=&offset=.
func AuditLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"audit": []any{}, "total": 0})
			return
		}
		entries, err := d.Store.ListAuditLogs(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
		if err != nil {
			jsonError(w, "store error: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"audit": entries, "total": len(entries)})
	}
}

// ConfigViewHandler handles GET /admin/v1/config: the effective runtime
// configuration with secrets omitted.
func ConfigViewHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		tiers := map[string]bounce.TierDefaults{}
		for _, t := range []bounce.TaskTier{bounce.TierBasic, bounce.TierPremium, bounce.TierCritical} {
			tiers[string(t)] = d.Engine.TierDefaultsFor(t)
		}
		view := map[string]any{
			"providers":     d.Registry.All(),
			"tier_defaults": tiers,
			"invokers":      d.Engine.InvokerNames(),
		}
		if d.Tools != nil {
			view["tools"] = d.Tools.Labels()
		}
		if d.Approvals != nil {
			view["approval_ttl_seconds"] = int(d.Approvals.TTL().Seconds())
		}
		if d.Vault != nil {
			view["vault_locked"] = d.Vault.IsLocked()
		}
		_ = json.NewEncoder(w).Encode(view)
	}
}

// VaultUnlockHandler handles POST /admin/v1/vault/unlock. The sealed blob,
// when present in the store, is restored before the key is derived so the
// persisted salt wins over a fresh one.
func VaultUnlockHandler(d Dependencies) http.HandlerFunc {
	type unlockRequest struct {
		Master string `json:"master"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Vault == nil {
			jsonError(w, "vault not configured", bounce.KindConfigError, http.StatusNotImplemented)
			return
		}
		var req unlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Master == "" {
			jsonError(w, "master password required", bounce.KindConfigError, http.StatusBadRequest)
			return
		}

		var persisted map[string]string
		if d.Store != nil {
			salt, data, err := d.Store.LoadVaultBlob(r.Context())
			if err != nil {
				jsonError(w, "load vault blob: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
				return
			}
			if len(salt) > 0 {
				d.Vault.SetSalt(salt)
				persisted = data
			}
		}

		if err := d.Vault.Unlock([]byte(req.Master)); err != nil {
			jsonError(w, "unlock failed: "+err.Error(), bounce.KindConfigError, http.StatusUnauthorized)
			return
		}
		if persisted != nil {
			if err := d.Vault.Import(persisted); err != nil {
				d.Vault.Lock()
				jsonError(w, "restore vault data: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
				return
			}
			// A wrong password only shows up when a restored value fails to
			// decrypt.
			for key := range persisted {
				if _, err := d.Vault.Get(key); err != nil {
					d.Vault.Lock()
					jsonError(w, "wrong master password", bounce.KindConfigError, http.StatusUnauthorized)
					return
				}
				break
			}
		}

		if d.Store != nil {
			warnOnErr("save_vault_blob", d.Store.SaveVaultBlob(r.Context(), d.Vault.Salt(), d.Vault.Export()))
		}
		audit(d, r, "vault.unlock", "", "")
		_ = json.NewEncoder(w).Encode(map[string]any{"locked": false})
	}
}

// VaultLockHandler handles POST /admin/v1/vault/lock. The encrypted contents
// are persisted before the key is discarded.
func VaultLockHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Vault == nil {
			jsonError(w, "vault not configured", bounce.KindConfigError, http.StatusNotImplemented)
			return
		}
		if d.Store != nil && d.Vault.Unlocked() {
			warnOnErr("save_vault_blob", d.Store.SaveVaultBlob(r.Context(), d.Vault.Salt(), d.Vault.Export()))
		}
		d.Vault.Lock()
		audit(d, r, "vault.lock", "", "")
		_ = json.NewEncoder(w).Encode(map[string]any{"locked": true})
	}
}

// VaultStatusHandler handles GET /admin/v1/vault/status.
func VaultStatusHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if d.Vault == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"configured": false})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"configured": true,
			"locked":     d.Vault.IsLocked(),
		})
	}
}

// LogLevelGetHandler handles GET /admin/v1/loglevel.
func LogLevelGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"level": logging.Level()})
	}
}

// LogLevelSetHandler handles PUT /admin/v1/loglevel with body {"level":"debug"}.
func LogLevelSetHandler(d Dependencies) http.HandlerFunc {
	type levelRequest struct {
		Level string `json:"level"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req levelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON body", bounce.KindInvalidRequest, http.StatusBadRequest)
			return
		}
		switch req.Level {
		case "debug", "info", "warn", "error":
		default:
			jsonError(w, "level must be one of debug, info, warn, error", bounce.KindConfigError, http.StatusBadRequest)
			return
		}
		logging.SetLevel(req.Level)
		audit(d, r, "loglevel.set", req.Level, "")
		_ = json.NewEncoder(w).Encode(map[string]any{"level": req.Level})
	}
}

// AdminTokenRotateHandler handles POST /admin/v1/admin-token/rotate. The new
// token is returned once; callers must store it.
func AdminTokenRotateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		newToken, err := d.AdminToken.Rotate(d.logger())
		if err != nil {
			jsonError(w, "rotate failed: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
			return
		}
		audit(d, r, "admin_token.rotate", "", "")
		_ = json.NewEncoder(w).Encode(map[string]any{"token": newToken})
	}
}
