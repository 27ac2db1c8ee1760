package assistant_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashitfit/coach/internal/assistant"
	"github.com/hashitfit/coach/internal/testutil"
)

func newServer(t *testing.T, script *testutil.Script) (*testutil.AssistantsServer, *assistant.OpenAIBackend) {
	t.Helper()
	srv := testutil.NewAssistantsServer(testutil.NewFakeBackend(script))
	t.Cleanup(srv.Close)
	return srv, assistant.NewOpenAIBackend(testutil.TestAPIKey, srv.URL+"/v1")
}

func TestOpenAIBackend_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	srv, b := newServer(t, &testutil.Script{
		Steps: []testutil.Step{
			{Status: assistant.StatusInProgress},
			{Status: assistant.StatusRequiresAction, ToolCalls: []assistant.ToolCall{
				{ID: "call_1", Name: "search_memory", Arguments: `{"query":"protein"}`},
			}},
			{Status: assistant.StatusCompleted},
		},
		Reply: `{"summary":"ok"}`,
	})

	threadID, err := b.CreateThread(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, threadID)

	require.NoError(t, b.AppendMessage(ctx, threadID, "plan my week"))

	run, err := b.CreateRun(ctx, threadID, assistant.RunRequest{
		AssistantID:  testutil.TestAssistantID,
		Instructions: "be brief",
		Tools: []assistant.ToolDefinition{{
			Name:        "search_memory",
			Description: "search",
			Parameters:  []byte(`{"type":"object","properties":{"query":{"type":"string"}}}`),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, assistant.StatusQueued, run.Status)

	reqs := srv.Backend.RunRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, testutil.TestAssistantID, reqs[0].AssistantID)
	assert.Equal(t, "be brief", reqs[0].Instructions)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "search_memory", reqs[0].Tools[0].Name)
	assert.JSONEq(t, `{"type":"object","properties":{"query":{"type":"string"}}}`, string(reqs[0].Tools[0].Parameters))

	run, err = b.GetRun(ctx, threadID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, assistant.StatusInProgress, run.Status)

	run, err = b.GetRun(ctx, threadID, run.ID)
	require.NoError(t, err)
	require.Equal(t, assistant.StatusRequiresAction, run.Status)
	require.Len(t, run.ToolCalls, 1)
	assert.Equal(t, "call_1", run.ToolCalls[0].ID)
	assert.Equal(t, "search_memory", run.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"protein"}`, run.ToolCalls[0].Arguments)

	_, err = b.SubmitToolOutputs(ctx, threadID, run.ID, []assistant.ToolOutput{{ToolCallID: "call_1", Output: `{"memories":[]}`}})
	require.NoError(t, err)
	subs := srv.Backend.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, `{"memories":[]}`, subs[0].Outputs[0].Output)

	run, err = b.GetRun(ctx, threadID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, assistant.StatusCompleted, run.Status)

	msg, err := b.LatestAssistantMessage(ctx, threadID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, msg.Content)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, run.ID, msg.RunID)

	require.NoError(t, b.DeleteThread(ctx, threadID))
	assert.Equal(t, []string{threadID}, srv.Backend.Deleted())

	for _, h := range srv.AuthHeaders() {
		assert.Equal(t, "Bearer "+testutil.TestAPIKey, h)
	}
}

func TestOpenAIBackend_FailedRunCarriesReason(t *testing.T) {
	ctx := context.Background()
	_, b := newServer(t, &testutil.Script{
		Steps: []testutil.Step{{Status: assistant.StatusFailed, LastError: "rate limit exceeded"}},
	})
	threadID, err := b.CreateThread(ctx)
	require.NoError(t, err)
	run, err := b.CreateRun(ctx, threadID, assistant.RunRequest{AssistantID: "a"})
	require.NoError(t, err)
	run, err = b.GetRun(ctx, threadID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, assistant.StatusFailed, run.Status)
	assert.Contains(t, run.LastError, "rate limit exceeded")
}

func TestOpenAIBackend_NoAssistantMessage(t *testing.T) {
	ctx := context.Background()
	_, b := newServer(t, &testutil.Script{})
	threadID, err := b.CreateThread(ctx)
	require.NoError(t, err)
	require.NoError(t, b.AppendMessage(ctx, threadID, "hello"))
	_, err = b.LatestAssistantMessage(ctx, threadID, "")
	assert.ErrorIs(t, err, assistant.ErrNoAssistantMessage)
}

func TestOpenAIBackend_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, b := newServer(t, nil)
			srv.FailNext("create_thread", tt.status)

			_, err := b.CreateThread(context.Background())
			require.Error(t, err)
			var ae *assistant.Error
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, tt.status, ae.Status)
			assert.Equal(t, tt.transient, assistant.IsTransient(err))
		})
	}
}

func TestOpenAIBackend_UnreachableIsTransient(t *testing.T) {
	srv, b := newServer(t, nil)
	srv.Close()
	_, err := b.CreateThread(context.Background())
	require.Error(t, err)
	assert.True(t, assistant.IsTransient(err))
}

func TestOpenAIBackend_RateLimit(t *testing.T) {
	srv := testutil.NewAssistantsServer(testutil.NewFakeBackend(nil))
	t.Cleanup(srv.Close)
	b := assistant.NewOpenAIBackend(testutil.TestAPIKey, srv.URL+"/v1", assistant.WithRateLimit(0.01))

	_, err := b.CreateThread(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.CreateThread(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}
