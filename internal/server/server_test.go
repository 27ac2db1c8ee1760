package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashitfit/coach/internal/agent"
	"github.com/hashitfit/coach/internal/agent/tools"
	"github.com/hashitfit/coach/internal/artifacts"
	"github.com/hashitfit/coach/internal/assistant"
	"github.com/hashitfit/coach/internal/chatlog"
	"github.com/hashitfit/coach/internal/config"
	"github.com/hashitfit/coach/internal/datasource"
	"github.com/hashitfit/coach/internal/documents"
	"github.com/hashitfit/coach/internal/memory"
	"github.com/hashitfit/coach/internal/session"
	"github.com/hashitfit/coach/internal/testutil"
)

const (
	workoutReply   = `{"name":"Starter","workouts":[{"name":"Full body","exercises":[{"name":"Squat","sets":3,"reps":10}]}]}`
	nutritionReply = `{"name":"Lean","daily_calories":2200,"meals":[{"name":"Lunch"}]}`
	recsReply      = `{"recommendations":[{"category":"recovery","title":"Sleep more"}]}`
)

var testKeys = map[string]string{testutil.TestClientKey: testutil.TestClientName}

type env struct {
	handler http.Handler
	backend *testutil.FakeBackend
	memory  *memory.Store
	chatLog *chatlog.Log
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	db := testutil.NewTestDB(t)

	fb := testutil.NewFakeBackend(nil)
	fb.SetScript("asst_workout", &testutil.Script{Reply: workoutReply})
	fb.SetScript("asst_nutrition", &testutil.Script{Reply: nutritionReply})
	fb.SetScript("asst_recs", &testutil.Script{Reply: recsReply})
	fb.SetScript("asst_chat", &testutil.Script{Reply: "Rest on Sunday."})

	cfg := &config.Config{
		Assistants: map[string]string{
			config.WorkflowWorkout:         "asst_workout",
			config.WorkflowNutrition:       "asst_nutrition",
			config.WorkflowRecommendations: "asst_recs",
			config.WorkflowChat:            "asst_chat",
		},
		PollInterval:    time.Millisecond,
		MaxAttempts:     3,
		MaxAttemptsChat: 3,
	}
	reg, err := datasource.NewRegistry(datasource.DefaultCatalog())
	require.NoError(t, err)
	mem := memory.NewStore(db)
	tr := tools.NewRegistry()
	tools.RegisterBuiltins(tr, tools.Deps{Memory: mem, Documents: documents.NewStore(db), Data: datasource.NewService(reg, db)})
	chat := chatlog.New(db)

	svc := agent.NewService(cfg, agent.Deps{
		Backend:    fb,
		Sessions:   session.NewManager(fb, session.NewSQLBindingStore(db)),
		Dispatcher: tools.NewDispatcher(tr),
		Artifacts:  artifacts.NewStore(db),
		ChatLog:    chat,
	})
	opts = append([]Option{WithMemoryStore(mem), WithChatLog(chat), WithDataSources(reg), WithStore(db)}, opts...)
	srv := NewServer(svc, testKeys, opts...)
	return &env{handler: srv.Routes(), backend: fb, memory: mem, chatLog: chat}
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func authed() map[string]string { return map[string]string{"X-Coach-Key": testutil.TestClientKey} }

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	rec, out := do(t, e.handler, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, out = do(t, e.handler, http.MethodGet, "/v1/health?detail=true", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	comp, _ := out["components"].(map[string]any)
	require.NotNil(t, comp)
	assert.Equal(t, "ok", comp["store"])
	assert.Equal(t, "ok", comp["memory"])
}

func TestAuthMiddleware(t *testing.T) {
	e := newEnv(t)
	body := map[string]any{"user_id": "u1"}

	rec, out := do(t, e.handler, http.MethodPost, "/v1/workflows/workout", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, out["success"])

	rec, _ = do(t, e.handler, http.MethodPost, "/v1/workflows/workout", body, map[string]string{"X-Coach-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, e.handler, http.MethodPost, "/v1/workflows/workout", body, map[string]string{"Authorization": "Bearer " + testutil.TestClientKey})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkflowWorkout(t *testing.T) {
	e := newEnv(t)
	rec, out := do(t, e.handler, http.MethodPost, "/v1/workflows/workout",
		map[string]any{"user_id": "u1", "assessment_or_context": map[string]any{"goal": "strength"}}, authed())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	assert.NotEmpty(t, data["artifact_id"])
	plan := data["workout_plan"].(map[string]any)
	assert.Equal(t, "Starter", plan["name"])
}

func TestWorkflowValidationIs400(t *testing.T) {
	e := newEnv(t)
	rec, out := do(t, e.handler, http.MethodPost, "/v1/workflows/nutrition", map[string]any{}, authed())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "invalid request", out["error"])
	assert.Contains(t, out["details"], "user_id")
	assert.Empty(t, e.backend.Threads())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewBufferString("{not json"))
	req.Header.Set("X-Coach-Key", testutil.TestClientKey)
	raw := httptest.NewRecorder()
	e.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestWorkflowUnknownIs404(t *testing.T) {
	e := newEnv(t)
	rec, _ := do(t, e.handler, http.MethodPost, "/v1/workflows/yoga", map[string]any{"user_id": "u1"}, authed())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowProtocolErrorIs502(t *testing.T) {
	e := newEnv(t)
	e.backend.SetScript("asst_recs", &testutil.Script{Steps: []testutil.Step{{Status: assistant.StatusFailed, LastError: "server_error: boom"}}})
	rec, out := do(t, e.handler, http.MethodPost, "/v1/workflows/recommendations", map[string]any{"user_id": "u1"}, authed())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["details"], "server_error: boom")
}

func TestWorkflowTimeoutIs503(t *testing.T) {
	e := newEnv(t)
	e.backend.SetScript("asst_workout", &testutil.Script{Steps: []testutil.Step{{Status: assistant.StatusInProgress}}})
	rec, out := do(t, e.handler, http.MethodPost, "/v1/workflows/workout", map[string]any{"user_id": "u1"}, authed())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, 3, e.backend.Polls())
}

func TestOnboardingPartialFailure(t *testing.T) {
	e := newEnv(t)
	e.backend.SetScript("asst_nutrition", &testutil.Script{Reply: "not json at all"})
	rec, out := do(t, e.handler, http.MethodPost, "/v1/workflows/onboarding",
		map[string]any{"user_id": "u1", "assessment_or_context": map[string]any{"goal": "endurance"}}, authed())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out["warning"], "nutrition")

	data := out["data"].(map[string]any)
	assert.EqualValues(t, 2, data["success_count"])
	assert.EqualValues(t, 3, data["total_count"])
	assert.NotEmpty(t, data["assessment_id"])
	succeeded := data["succeeded"].(map[string]any)
	assert.Contains(t, succeeded, "workout")
	assert.Contains(t, succeeded, "recommendations")
	failed := data["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, "nutrition", failed[0].(map[string]any)["workflow_key"])
}

func TestChatAndHistory(t *testing.T) {
	e := newEnv(t)
	rec, out := do(t, e.handler, http.MethodPost, "/v1/chat", map[string]any{"user_id": "u1", "message": "When should I rest?"}, authed())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := out["data"].(map[string]any)
	assert.Equal(t, "Rest on Sunday.", data["reply"])

	rec, out = do(t, e.handler, http.MethodGet, "/v1/chat/history?user_id=u1", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := out["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])

	rec, _ = do(t, e.handler, http.MethodGet, "/v1/chat/history", nil, authed())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryEndpoint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.memory.Write(ctx, &memory.Record{UserID: "u1", Kind: memory.KindPreference, Content: "likes high protein", Importance: 5}))
	require.NoError(t, e.memory.Write(ctx, &memory.Record{UserID: "u1", Kind: memory.KindNote, Content: "unrelated", Importance: 3}))

	rec, out := do(t, e.handler, http.MethodGet, "/v1/memory?user_id=u1", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["memories"], 2)

	rec, out = do(t, e.handler, http.MethodGet, "/v1/memory?user_id=u1&q=protein&k=1", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	hits := out["memories"].([]any)
	require.Len(t, hits, 1)
	assert.Equal(t, "likes high protein", hits[0].(map[string]any)["content"])
}

func TestDataSourcesEndpoint(t *testing.T) {
	e := newEnv(t)
	rec, out := do(t, e.handler, http.MethodGet, "/v1/datasources", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	sources := out["sources"].([]any)
	var keys []string
	for _, s := range sources {
		keys = append(keys, s.(map[string]any)["key"].(string))
	}
	assert.Contains(t, keys, "workout_logs")
	assert.Contains(t, keys, "upcoming_workouts")
}

func TestPerUserRateLimit(t *testing.T) {
	e := newEnv(t, WithRateLimit(1))
	body := map[string]any{"user_id": "u1", "message": "hi"}

	rec, _ := do(t, e.handler, http.MethodPost, "/v1/chat", body, authed())
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, e.handler, http.MethodPost, "/v1/chat", body, authed())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec, _ = do(t, e.handler, http.MethodPost, "/v1/chat", map[string]any{"user_id": "u2", "message": "hi"}, authed())
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per user")
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "https://app.hashitfit.com")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Coach-Key")
}

type failingWorkflows struct{ Workflows }

func (failingWorkflows) Chat(context.Context, agent.ChatRequest) (*agent.ChatReply, error) {
	return nil, errors.New("disk full")
}

func TestInternalErrorHidesDetail(t *testing.T) {
	srv := NewServer(failingWorkflows{}, testKeys)
	rec, out := do(t, srv.Routes(), http.MethodPost, "/v1/chat", map[string]any{"user_id": "u1", "message": "hi"}, authed())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", out["error"])
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestChatMarkupOnlyIs400(t *testing.T) {
	e := newEnv(t)
	rec, out := do(t, e.handler, http.MethodPost, "/v1/chat", map[string]any{"user_id": "u9", "message": "<p></p>"}, authed())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request", out["error"])
	assert.Empty(t, e.backend.Threads())
}

type unconfiguredWorkflows struct{ Workflows }

func (unconfiguredWorkflows) Chat(context.Context, agent.ChatRequest) (*agent.ChatReply, error) {
	return nil, &agent.Error{Kind: agent.KindConfig, Op: "chat", Err: errors.New("no assistant configured for workflow \"chat\"")}
}

func TestUnconfiguredWorkflowIs500(t *testing.T) {
	srv := NewServer(unconfiguredWorkflows{}, testKeys)
	rec, out := do(t, srv.Routes(), http.MethodPost, "/v1/chat", map[string]any{"user_id": "u1", "message": "hi"}, authed())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "workflow not configured", out["error"])
	assert.Contains(t, out["details"], "no assistant configured")
}
