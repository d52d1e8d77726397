package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
	"github.com/jordanhubbard/wallbounce/internal/temporal"
)

// WorkflowAnalyzeHandler handles POST /v1/workflows/analyze: the durable
// analyze path. The request body matches /v1/analyze. By default the
// workflow runs detached and the handler returns its IDs; ?wait=true blocks
// until the consensus is available.
func WorkflowAnalyzeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.TemporalClient == nil {
			jsonError(w, "temporal not enabled", bounce.KindConfigError, http.StatusServiceUnavailable)
			return
		}

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON body", bounce.KindInvalidRequest, http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		input := temporal.AnalyzeInput{
			Prompt: bounce.Prompt{
				Text:                req.Prompt,
				TaskTier:            bounce.TaskTier(req.TaskType),
				Mode:                bounce.Mode(req.Mode),
				Depth:               req.Depth,
				MinProviders:        req.MinProviders,
				MaxProviders:        req.MaxProviders,
				ConfidenceThreshold: req.ConfidenceThreshold,
				SessionID:           req.SessionID,
				UserID:              req.UserID,
			},
			RequestID: middleware.GetReqID(r.Context()),
		}

		opts := client.StartWorkflowOptions{
			ID:        "analyze-" + uuid.NewString(),
			TaskQueue: d.TemporalTaskQueue,
		}
		run, err := d.TemporalClient.ExecuteWorkflow(r.Context(), opts, temporal.AnalyzeWorkflowName, input)
		if err != nil {
			jsonError(w, "start workflow: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
			return
		}

		if r.URL.Query().Get("wait") != "true" {
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"workflow_id": run.GetID(),
				"run_id":      run.GetRunID(),
				"session_id":  req.SessionID,
			})
			return
		}

		var out temporal.AnalyzeOutput
		if err := run.Get(r.Context(), &out); err != nil {
			jsonError(w, "workflow failed: "+err.Error(), bounce.KindProviderError, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"workflow_id": run.GetID(),
			"run_id":      run.GetRunID(),
			"session_id":  req.SessionID,
			"consensus":   out.Consensus,
			"timestamp":   bounce.Timestamp(time.Now()),
		})
	}
}

// WorkflowsListHandler handles GET /admin/v1/workflows?limit=50&status=RUNNING
func WorkflowsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.TemporalClient == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"workflows":        []any{},
				"temporal_enabled": false,
			})
			return
		}

		limit := queryInt(r, "limit", 50)
		if limit > 200 {
			limit = 200
		}

		// Build query string for Temporal visibility.
		query := ""
		if status := r.URL.Query().Get("status"); status != "" {
			query = "ExecutionStatus = '" + status + "'"
		}

		resp, err := d.TemporalClient.ListWorkflow(r.Context(), &workflowservice.ListWorkflowExecutionsRequest{
			PageSize: int32(limit),
			Query:    query,
		})
		if err != nil {
			jsonError(w, "temporal query error: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
			return
		}

		var workflows []map[string]any
		for _, exec := range resp.Executions {
			wf := map[string]any{
				"workflow_id": exec.Execution.WorkflowId,
				"run_id":      exec.Execution.RunId,
				"type":        exec.Type.Name,
				"status":      exec.Status.String(),
				"start_time":  exec.StartTime.AsTime().Format(time.RFC3339),
			}
			if exec.CloseTime != nil {
				wf["close_time"] = exec.CloseTime.AsTime().Format(time.RFC3339)
				wf["duration_ms"] = exec.CloseTime.AsTime().Sub(exec.StartTime.AsTime()).Milliseconds()
			}
			workflows = append(workflows, wf)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"workflows":        workflows,
			"temporal_enabled": true,
		})
	}
}

// WorkflowDescribeHandler handles GET /admin/v1/workflows/{id}
func WorkflowDescribeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.TemporalClient == nil {
			jsonError(w, "temporal not enabled", bounce.KindConfigError, http.StatusServiceUnavailable)
			return
		}

		workflowID := chi.URLParam(r, "id")
		if workflowID == "" {
			jsonError(w, "workflow id required", bounce.KindConfigError, http.StatusBadRequest)
			return
		}

		desc, err := d.TemporalClient.DescribeWorkflowExecution(r.Context(), workflowID, "")
		if err != nil {
			jsonError(w, "describe error: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
			return
		}

		info := desc.WorkflowExecutionInfo
		result := map[string]any{
			"workflow_id": info.Execution.WorkflowId,
			"run_id":      info.Execution.RunId,
			"type":        info.Type.Name,
			"status":      info.Status.String(),
			"start_time":  info.StartTime.AsTime().Format(time.RFC3339),
		}
		if info.CloseTime != nil {
			result["close_time"] = info.CloseTime.AsTime().Format(time.RFC3339)
			result["duration_ms"] = info.CloseTime.AsTime().Sub(info.StartTime.AsTime()).Milliseconds()
		}

		_ = json.NewEncoder(w).Encode(result)
	}
}

// WorkflowHistoryHandler handles GET /admin/v1/workflows/{id}/history
func WorkflowHistoryHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.TemporalClient == nil {
			jsonError(w, "temporal not enabled", bounce.KindConfigError, http.StatusServiceUnavailable)
			return
		}

		workflowID := chi.URLParam(r, "id")
		if workflowID == "" {
			jsonError(w, "workflow id required", bounce.KindConfigError, http.StatusBadRequest)
			return
		}

		iter := d.TemporalClient.GetWorkflowHistory(r.Context(), workflowID, "",
			false, enums.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT)

		var history []map[string]any
		for iter.HasNext() {
			event, err := iter.Next()
			if err != nil {
				jsonError(w, "history error: "+err.Error(), bounce.KindConfigError, http.StatusInternalServerError)
				return
			}
			history = append(history, map[string]any{
				"event_id":   event.EventId,
				"event_type": event.EventType.String(),
				"timestamp":  event.EventTime.AsTime().Format(time.RFC3339),
			})
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"workflow_id": workflowID,
			"events":      history,
		})
	}
}
