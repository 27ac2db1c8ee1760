package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/hashitfit/coach/internal/agent"
	"github.com/hashitfit/coach/internal/config"
	"github.com/hashitfit/coach/internal/requestctx"
)

const maxBodyBytes = 1 << 20

// workflowOnboarding is the fan-out route; the others map one-to-one onto a
// workflow key.
const workflowOnboarding = "onboarding"

// successResponse is the body of every successful workflow call.
type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
	Data    any    `json:"data"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{
			"store":       "disabled",
			"memory":      "disabled",
			"chat_log":    "disabled",
			"datasources": "disabled",
		}
		if s.db != nil {
			components["store"] = "ok"
			if err := s.db.PingContext(r.Context()); err != nil {
				components["store"] = "error: " + err.Error()
				resp["status"] = "degraded"
			}
		}
		if s.memoryStore != nil {
			components["memory"] = "ok"
		}
		if s.chatLog != nil {
			components["chat_log"] = "ok"
		}
		if s.sources != nil {
			components["datasources"] = "ok"
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow := chi.URLParam(r, "workflow")
	var req agent.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.allow(w, req.UserID) {
		return
	}

	ctx := r.Context()
	var (
		resp successResponse
		err  error
	)
	switch workflow {
	case config.WorkflowWorkout:
		var out *agent.Generated[agent.WorkoutPlan]
		if out, err = s.workflows.GenerateWorkout(ctx, req); err == nil {
			resp = generatedResponse("Workout plan generated", out.ArtifactID, out.ThreadID, out.RunID, out.ToolCalls, "workout_plan", out.Payload)
		}
	case config.WorkflowNutrition:
		var out *agent.Generated[agent.NutritionPlan]
		if out, err = s.workflows.GenerateNutritionPlan(ctx, req); err == nil {
			resp = generatedResponse("Nutrition plan generated", out.ArtifactID, out.ThreadID, out.RunID, out.ToolCalls, "nutrition_plan", out.Payload)
		}
	case config.WorkflowRecommendations:
		var out *agent.Generated[agent.Recommendations]
		if out, err = s.workflows.GenerateRecommendations(ctx, req); err == nil {
			resp = generatedResponse("Recommendations generated", out.ArtifactID, out.ThreadID, out.RunID, out.ToolCalls, "recommendations", out.Payload)
		}
	case workflowOnboarding:
		var out *agent.OnboardResult
		if out, err = s.workflows.Onboard(ctx, req); err == nil {
			resp = onboardResponse(out)
		}
	default:
		writeError(w, http.StatusNotFound, "unknown workflow", workflow)
		return
	}
	if err != nil {
		writeFailure(w, r, workflow, err)
		return
	}
	log.Info().
		Str("workflow", workflow).
		Str("user_id", req.UserID).
		Str("client", requestctx.Client(ctx)).
		Bool("success", resp.Success).
		Msg("workflow_served")
	writeJSON(w, http.StatusOK, resp)
}

func generatedResponse(msg, artifactID, threadID, runID string, toolCalls int, name string, payload any) successResponse {
	return successResponse{
		Success: true,
		Message: msg,
		Data: map[string]any{
			"artifact_id": artifactID,
			"thread_id":   threadID,
			"run_id":      runID,
			"tool_calls":  toolCalls,
			name:          payload,
		},
	}
}

func onboardResponse(out *agent.OnboardResult) successResponse {
	succeeded := map[string]any{}
	for _, o := range out.Fanout.Succeeded() {
		succeeded[o.WorkflowKey] = o.Payload
	}
	failed := []map[string]string{}
	for _, o := range out.Fanout.Failed() {
		failed = append(failed, map[string]string{"workflow_key": o.WorkflowKey, "error": o.Error})
	}
	return successResponse{
		Success: out.Success,
		Message: out.Message,
		Warning: out.Warning,
		Data: map[string]any{
			"assessment_id": out.AssessmentID,
			"success_count": out.Fanout.SuccessCount,
			"total_count":   out.Fanout.TotalCount,
			"succeeded":     succeeded,
			"failed":        failed,
		},
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.allow(w, req.UserID) {
		return
	}
	reply, err := s.workflows.Chat(r.Context(), req)
	if err != nil {
		writeFailure(w, r, config.WorkflowChat, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "ok", Data: reply})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.chatLog == nil {
		writeError(w, http.StatusServiceUnavailable, "chat log is disabled", "")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query is required", "")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.chatLog.History(r.Context(), userID, limit)
	if err != nil {
		writeFailure(w, r, "chat_history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store is disabled", "")
		return
	}
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query is required", "")
		return
	}
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		k, _ := strconv.Atoi(q.Get("k"))
		hits, err := s.memoryStore.Search(r.Context(), userID, query, k)
		if err != nil {
			writeFailure(w, r, "memory_search", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"memories": hits})
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	records, err := s.memoryStore.List(r.Context(), userID, limit)
	if err != nil {
		writeFailure(w, r, "memory_list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": records})
}

type dataSourceView struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	UserScoped  bool     `json:"user_scoped"`
	Columns     []string `json:"columns"`
}

func (s *Server) handleDataSources(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeError(w, http.StatusServiceUnavailable, "data source catalog is disabled", "")
		return
	}
	views := []dataSourceView{}
	for _, d := range s.sources.Active() {
		views = append(views, dataSourceView{
			Key:         d.Key,
			Name:        d.Name,
			Description: d.Description,
			UserScoped:  d.UserScoped,
			Columns:     d.AllowedColumns,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": views})
}

// allow applies the per-user rate limit. Requests without a user id pass
// through so the workflow can reject them as invalid.
func (s *Server) allow(w http.ResponseWriter, userID string) bool {
	if userID == "" || s.limiter.Allow(userID) {
		return true
	}
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "too many requests for this user; retry shortly")
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

// writeFailure maps a workflow error onto the failure body. Workflow errors
// carry their own status; anything else is an internal error whose detail
// stays in the log.
func writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ae *agent.Error
	if errors.As(err, &ae) {
		msg := "upstream assistant error"
		switch ae.Kind {
		case agent.KindValidation:
			msg = "invalid request"
		case agent.KindTransient:
			msg = "assistant temporarily unavailable; retry later"
		case agent.KindConfig:
			msg = "workflow not configured"
		}
		writeError(w, ae.HTTPStatus(), msg, err.Error())
		return
	}
	log.Error().Err(err).Str("op", op).Str("client", requestctx.Client(r.Context())).Msg("request_failed")
	writeError(w, http.StatusInternalServerError, "internal error", "")
}
