package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/wallbounce/internal/approval"
	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

// ApprovalsListHandler handles GET /v1/approvals?state=pending. Without a
// state filter it returns every live request plus the aggregate stats.
func ApprovalsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Approvals == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"approvals": []any{}, "total": 0})
			return
		}
		state := approval.State(r.URL.Query().Get("state"))
		list := d.Approvals.List(state)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"approvals": list,
			"total":     len(list),
			"stats":     d.Approvals.Stats(),
		})
	}
}

// ApprovalGetHandler handles GET /v1/approvals/{id}.
func ApprovalGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Approvals == nil {
			jsonError(w, "approvals not configured", bounce.KindConfigError, http.StatusNotFound)
			return
		}
		id := chi.URLParam(r, "id")
		req, ok := d.Approvals.Get(id)
		if !ok {
			jsonError(w, "approval request not found", bounce.KindNotApproved, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(req)
	}
}

// ApprovalDecisionHandler handles POST /v1/approvals/{id}/decision. The
// caller authenticates with a bearer approver token; the matching approver
// name is recorded as the decider.
func ApprovalDecisionHandler(d Dependencies) http.HandlerFunc {
	type decisionRequest struct {
		Approve bool   `json:"approve"`
		Notes   string `json:"notes,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Approvals == nil {
			jsonError(w, "approvals not configured", bounce.KindConfigError, http.StatusNotFound)
			return
		}

		decider, ok := d.Approvers.Verify(bearerToken(r))
		if !ok {
			jsonError(w, "invalid approver token", bounce.KindNotApproved, http.StatusUnauthorized)
			return
		}

		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON body", bounce.KindInvalidRequest, http.StatusBadRequest)
			return
		}

		id := chi.URLParam(r, "id")
		approved, err := d.Approvals.Process(id, req.Approve, decider, req.Notes)
		if err != nil {
			switch {
			case errors.Is(err, approval.ErrNotFound):
				jsonError(w, err.Error(), bounce.KindNotApproved, http.StatusNotFound)
			case errors.Is(err, approval.ErrExpired):
				jsonError(w, err.Error(), bounce.KindNotApproved, http.StatusGone)
			case errors.Is(err, approval.ErrAlreadyDecided):
				jsonError(w, err.Error(), bounce.KindNotApproved, http.StatusConflict)
			default:
				jsonError(w, err.Error(), bounce.KindNotApproved, http.StatusInternalServerError)
			}
			return
		}

		record, _ := d.Approvals.Get(id)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       id,
			"approved": approved,
			"state":    record.State,
			"decider":  decider,
		})
	}
}

// ApprovalTrailHandler handles GET /admin/v1/approvals/trail: the in-memory
// audit trail, falling back to the durable mirror when a store is configured
// and the query asks for persisted history.
func ApprovalTrailHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("source") == "store" && d.Store != nil {
			limit := queryInt(r, "limit", 100)
			offset := queryInt(r, "offset", 0)
			trail, err := d.Store.ListApprovalTransitions(r.Context(), limit, offset)
			if err != nil {
				jsonError(w, "store error: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"trail": trail, "total": len(trail)})
			return
		}
		if d.Approvals == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"trail": []any{}, "total": 0})
			return
		}
		trail := d.Approvals.Trail()
		_ = json.NewEncoder(w).Encode(map[string]any{"trail": trail, "total": len(trail)})
	}
}
