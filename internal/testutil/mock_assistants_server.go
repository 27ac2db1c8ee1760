package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hashitfit/coach/internal/assistant"
)

// AssistantsServer serves the subset of the OpenAI Assistants v2 HTTP API the
// runtime uses, backed by a FakeBackend.
type AssistantsServer struct {
	*httptest.Server
	Backend *FakeBackend

	mu          sync.Mutex
	authHeaders []string
	failNext    map[string]int
}

// NewAssistantsServer starts the server. Callers must Close it.
// The API root for clients is server.URL + "/v1".
func NewAssistantsServer(backend *FakeBackend) *AssistantsServer {
	s := newAssistantsAPI(backend)
	s.Server = httptest.NewServer(s.routes())
	return s
}

// NewAssistantsHandler returns the same API as a plain handler, for
// long-running demo processes that listen on their own address.
func NewAssistantsHandler(backend *FakeBackend) http.Handler {
	return newAssistantsAPI(backend).routes()
}

func newAssistantsAPI(backend *FakeBackend) *AssistantsServer {
	return &AssistantsServer{Backend: backend, failNext: make(map[string]int)}
}

func (s *AssistantsServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recordAuth)
	r.Route("/v1/threads", func(r chi.Router) {
		r.Post("/", s.createThread)
		r.Delete("/{thread}", s.deleteThread)
		r.Post("/{thread}/messages", s.createMessage)
		r.Get("/{thread}/messages", s.listMessages)
		r.Post("/{thread}/runs", s.createRun)
		r.Get("/{thread}/runs/{run}", s.getRun)
		r.Post("/{thread}/runs/{run}/submit_tool_outputs", s.submitToolOutputs)
	})
	return r
}

// FailNext makes the next request for op ("create_thread" or "get_run")
// answer with status.
func (s *AssistantsServer) FailNext(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = status
}

// AuthHeaders returns the Authorization headers seen so far.
func (s *AssistantsServer) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeaders...)
}

func (s *AssistantsServer) recordAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *AssistantsServer) injected(w http.ResponseWriter, op string) bool {
	s.mu.Lock()
	status, ok := s.failNext[op]
	delete(s.failNext, op)
	s.mu.Unlock()
	if !ok {
		return false
	}
	writeAPIError(w, status, "injected failure")
	return true
}

func (s *AssistantsServer) createThread(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, "create_thread") {
		return
	}
	id, err := s.Backend.CreateThread(r.Context())
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": id, "object": "thread", "created_at": time.Now().Unix()})
}

func (s *AssistantsServer) deleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "thread")
	if err := s.Backend.DeleteThread(r.Context(), id); err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": id, "object": "thread.deleted", "deleted": true})
}

func (s *AssistantsServer) createMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	threadID := chi.URLParam(r, "thread")
	if err := s.Backend.AppendMessage(r.Context(), threadID, req.Content); err != nil {
		writeBackendError(w, err)
		return
	}
	msgs := s.Backend.Messages(threadID)
	writeJSON(w, messageJSON(threadID, msgs[len(msgs)-1]))
}

func (s *AssistantsServer) listMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread")
	msgs := s.Backend.Messages(threadID)
	data := make([]map[string]any, 0, len(msgs))
	if r.URL.Query().Get("order") == "asc" {
		for _, m := range msgs {
			data = append(data, messageJSON(threadID, m))
		}
	} else {
		for i := len(msgs) - 1; i >= 0; i-- {
			data = append(data, messageJSON(threadID, msgs[i]))
		}
	}
	writeJSON(w, map[string]any{"object": "list", "data": data, "has_more": false})
}

func (s *AssistantsServer) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssistantID  string `json:"assistant_id"`
		Instructions string `json:"instructions"`
		Tools        []struct {
			Type     string `json:"type"`
			Function struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				Parameters  json.RawMessage `json:"parameters"`
			} `json:"function"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	rr := assistant.RunRequest{AssistantID: req.AssistantID, Instructions: req.Instructions}
	for _, t := range req.Tools {
		rr.Tools = append(rr.Tools, assistant.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	run, err := s.Backend.CreateRun(r.Context(), chi.URLParam(r, "thread"), rr)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, runJSON(run, req.AssistantID))
}

func (s *AssistantsServer) getRun(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, "get_run") {
		return
	}
	run, err := s.Backend.GetRun(r.Context(), chi.URLParam(r, "thread"), chi.URLParam(r, "run"))
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, runJSON(run, ""))
}

func (s *AssistantsServer) submitToolOutputs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToolOutputs []struct {
			ToolCallID string `json:"tool_call_id"`
			Output     string `json:"output"`
		} `json:"tool_outputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	outs := make([]assistant.ToolOutput, 0, len(req.ToolOutputs))
	for _, o := range req.ToolOutputs {
		outs = append(outs, assistant.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output})
	}
	run, err := s.Backend.SubmitToolOutputs(r.Context(), chi.URLParam(r, "thread"), chi.URLParam(r, "run"), outs)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, runJSON(run, ""))
}

func runJSON(run *assistant.Run, assistantID string) map[string]any {
	out := map[string]any{
		"id":           run.ID,
		"object":       "thread.run",
		"thread_id":    run.ThreadID,
		"assistant_id": assistantID,
		"status":       string(run.Status),
		"created_at":   time.Now().Unix(),
	}
	if len(run.ToolCalls) > 0 {
		calls := make([]map[string]any, 0, len(run.ToolCalls))
		for _, c := range run.ToolCalls {
			calls = append(calls, map[string]any{
				"id":       c.ID,
				"type":     "function",
				"function": map[string]any{"name": c.Name, "arguments": c.Arguments},
			})
		}
		out["required_action"] = map[string]any{
			"type":                "submit_tool_outputs",
			"submit_tool_outputs": map[string]any{"tool_calls": calls},
		}
	}
	if run.LastError != "" {
		out["last_error"] = map[string]any{"code": "server_error", "message": run.LastError}
	}
	return out
}

func messageJSON(threadID string, m assistant.Message) map[string]any {
	out := map[string]any{
		"id":         m.ID,
		"object":     "thread.message",
		"created_at": m.CreatedAt,
		"thread_id":  threadID,
		"role":       m.Role,
		"content": []map[string]any{{
			"type": "text",
			"text": map[string]any{"value": m.Content, "annotations": []any{}},
		}},
		"metadata": map[string]any{},
	}
	if m.RunID != "" {
		out["run_id"] = m.RunID
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error"},
	})
}

func writeBackendError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ae *assistant.Error
	if errors.As(err, &ae) && ae.Status > 0 {
		status = ae.Status
	}
	writeAPIError(w, status, err.Error())
}
