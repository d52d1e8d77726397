package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

// analyzeRequest is the wire form of POST /v1/analyze.
type analyzeRequest struct {
	Prompt              string              `json:"prompt"`
	TaskType            string              `json:"task_type,omitempty"`
	Mode                string              `json:"mode,omitempty"`
	Depth               int                 `json:"depth,omitempty"`
	MinProviders        int                 `json:"min_providers,omitempty"`
	MaxProviders        int                 `json:"max_providers,omitempty"`
	ConfidenceThreshold float64             `json:"confidence_threshold,omitempty"`
	SessionID           string              `json:"session_id,omitempty"`
	UserID              string              `json:"user_id,omitempty"`
	Tools               *bounce.ToolRequest `json:"tools,omitempty"`
}

// llmVote is the per-provider entry inside wall_bounce_analysis.
type llmVote struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Confidence     float64 `json:"confidence"`
	AgreementScore float64 `json:"agreement_score"`
	Error          string  `json:"error,omitempty"`
}

type wallBounceAnalysis struct {
	ProvidersUsed    []string  `json:"providers_used"`
	LLMVotes         []llmVote `json:"llm_votes"`
	TotalCost        float64   `json:"total_cost"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	TierEscalated    bool      `json:"tier_escalated"`
}

type analyzeResponse struct {
	Response           string              `json:"response"`
	Confidence         float64             `json:"confidence"`
	Reasoning          string              `json:"reasoning"`
	SessionID          string              `json:"session_id"`
	TaskType           string              `json:"task_type"`
	WallBounceAnalysis wallBounceAnalysis  `json:"wall_bounce_analysis"`
	FlowDetails        []bounce.TraceEntry `json:"flow_details,omitempty"`
	Timestamp          string              `json:"timestamp"`
}

// AnalyzeHandler handles POST /v1/analyze: the wall-bounce consensus
// endpoint. Validation failures map to 400, overload to 409, round deadline
// exhaustion to 504, everything else to 500.
func AnalyzeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON body", bounce.KindInvalidRequest, http.StatusBadRequest)
			return
		}

		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}
		requestID := middleware.GetReqID(r.Context())

		prompt := bounce.Prompt{
			Text:                req.Prompt,
			TaskTier:            bounce.TaskTier(req.TaskType),
			Mode:                bounce.Mode(req.Mode),
			Depth:               req.Depth,
			MinProviders:        req.MinProviders,
			MaxProviders:        req.MaxProviders,
			ConfidenceThreshold: req.ConfidenceThreshold,
			SessionID:           req.SessionID,
			UserID:              req.UserID,
			Tools:               req.Tools,
		}

		cons, err := d.Engine.Analyze(r.Context(), prompt)
		if err != nil {
			kind := bounce.KindOf(err)
			recordObservability(d, observeParams{
				Ctx:        r.Context(),
				RequestID:  requestID,
				SessionID:  req.SessionID,
				Tier:       string(prompt.TaskTier),
				Mode:       string(prompt.Mode),
				StatusCode: statusForKind(kind),
				ErrorKind:  string(kind),
			})
			writeRequestError(w, err)
			return
		}

		recordObservability(d, observeParams{
			Ctx:        r.Context(),
			RequestID:  requestID,
			SessionID:  req.SessionID,
			Tier:       string(cons.Tier),
			Mode:       string(cons.Mode),
			StatusCode: http.StatusOK,
			Consensus:  cons,
		})

		votes := make([]llmVote, 0, len(cons.AllVotes))
		for _, v := range cons.AllVotes {
			votes = append(votes, llmVote{
				Provider:       v.Provider,
				Model:          v.Model,
				Confidence:     v.Confidence,
				AgreementScore: v.AgreementScore,
				Error:          string(v.Error),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(analyzeResponse{
			Response:   cons.Content,
			Confidence: cons.Confidence,
			Reasoning:  cons.Reasoning,
			SessionID:  req.SessionID,
			TaskType:   string(cons.Tier),
			WallBounceAnalysis: wallBounceAnalysis{
				ProvidersUsed:    cons.ProvidersUsed,
				LLMVotes:         votes,
				TotalCost:        cons.TotalCostUSD,
				ProcessingTimeMs: cons.TotalLatencyMs,
				TierEscalated:    cons.TierEscalated,
			},
			FlowDetails: cons.Flow,
			Timestamp:   bounce.Timestamp(time.Now()),
		})
	}
}

// ProvidersListHandler handles GET /v1/providers: the registry's descriptors
// enriched with live health state when the tracker is configured.
func ProvidersListHandler(d Dependencies) http.HandlerFunc {
	type providerView struct {
		bounce.ProviderDescriptor
		HealthState string `json:"health_state,omitempty"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		descs := d.Registry.All()
		out := make([]providerView, 0, len(descs))
		for _, desc := range descs {
			pv := providerView{ProviderDescriptor: desc}
			if d.Health != nil {
				if st := d.Health.GetStats(desc.Name); st != nil {
					pv.HealthState = string(st.State)
				}
			}
			out = append(out, pv)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"providers": out,
			"total":     len(out),
		})
	}
}

// ToolsListHandler handles GET /v1/tools. With budget/security query
// parameters it returns the filtered set a request with that envelope would
// see; without them, the full catalog.
func ToolsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Tools == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"tools": []any{}, "total": 0})
			return
		}
		q := r.URL.Query()
		list := d.Tools.All()
		if q.Get("budget_tier") != "" || q.Get("security_tier") != "" {
			tc := bounce.ToolContext{
				BudgetTier:   q.Get("budget_tier"),
				SecurityTier: q.Get("security_tier"),
			}
			list = d.Tools.ToolsFor(tc)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tools": list,
			"total": len(list),
		})
	}
}
