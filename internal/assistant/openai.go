package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	coachotel "github.com/hashitfit/coach/internal/otel"
)

var tracer = coachotel.Tracer("github.com/hashitfit/coach/internal/assistant")

// OpenAIBackend drives the OpenAI Assistants API.
type OpenAIBackend struct {
	client  *openai.Client
	limiter *rate.Limiter
}

// Option configures an OpenAIBackend.
type Option func(*OpenAIBackend)

// WithRateLimit caps outbound calls to rps per second with a burst of
// ceil(rps). rps <= 0 disables limiting.
func WithRateLimit(rps float64) Option {
	return func(b *OpenAIBackend) {
		if rps <= 0 {
			b.limiter = nil
			return
		}
		burst := int(rps)
		if float64(burst) < rps {
			burst++
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewOpenAIBackend creates a backend authenticating with apiKey. baseURL is
// the API root including the version path (e.g. "https://api.openai.com/v1");
// empty uses the library default.
func NewOpenAIBackend(apiKey, baseURL string, opts ...Option) *OpenAIBackend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	b := &OpenAIBackend{client: openai.NewClientWithConfig(config)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *OpenAIBackend) wait(ctx context.Context, op string) error {
	if b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	return nil
}

func (b *OpenAIBackend) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "assistant."+op, trace.WithAttributes(attrs...))
}

// CreateThread creates an empty thread.
func (b *OpenAIBackend) CreateThread(ctx context.Context) (string, error) {
	ctx, span := b.span(ctx, "create_thread")
	defer span.End()
	if err := b.wait(ctx, "create_thread"); err != nil {
		return "", err
	}
	th, err := b.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		span.RecordError(err)
		return "", classify("create_thread", err)
	}
	span.SetAttributes(coachotel.ThreadID.String(th.ID))
	return th.ID, nil
}

// DeleteThread deletes a thread.
func (b *OpenAIBackend) DeleteThread(ctx context.Context, threadID string) error {
	ctx, span := b.span(ctx, "delete_thread", coachotel.ThreadID.String(threadID))
	defer span.End()
	if err := b.wait(ctx, "delete_thread"); err != nil {
		return err
	}
	if _, err := b.client.DeleteThread(ctx, threadID); err != nil {
		span.RecordError(err)
		return classify("delete_thread", err)
	}
	return nil
}

// AppendMessage adds a user message to the thread.
func (b *OpenAIBackend) AppendMessage(ctx context.Context, threadID, content string) error {
	ctx, span := b.span(ctx, "append_message", coachotel.ThreadID.String(threadID))
	defer span.End()
	if err := b.wait(ctx, "append_message"); err != nil {
		return err
	}
	_, err := b.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    "user",
		Content: content,
	})
	if err != nil {
		span.RecordError(err)
		return classify("append_message", err)
	}
	return nil
}

// CreateRun starts a run of req.AssistantID on the thread.
func (b *OpenAIBackend) CreateRun(ctx context.Context, threadID string, req RunRequest) (*Run, error) {
	ctx, span := b.span(ctx, "create_run",
		coachotel.ThreadID.String(threadID),
		coachotel.AssistantID.String(req.AssistantID))
	defer span.End()
	if err := b.wait(ctx, "create_run"); err != nil {
		return nil, err
	}

	runReq := openai.RunRequest{
		AssistantID:  req.AssistantID,
		Instructions: req.Instructions,
	}
	for _, t := range req.Tools {
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if len(t.Parameters) > 0 {
			params = json.RawMessage(t.Parameters)
		}
		runReq.Tools = append(runReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	run, err := b.client.CreateRun(ctx, threadID, runReq)
	if err != nil {
		span.RecordError(err)
		return nil, classify("create_run", err)
	}
	span.SetAttributes(coachotel.RunID.String(run.ID))
	return convertRun(run), nil
}

// GetRun fetches the run's current state.
func (b *OpenAIBackend) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	if err := b.wait(ctx, "get_run"); err != nil {
		return nil, err
	}
	run, err := b.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, classify("get_run", err)
	}
	return convertRun(run), nil
}

// SubmitToolOutputs submits one output per pending tool call in one request.
func (b *OpenAIBackend) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	ctx, span := b.span(ctx, "submit_tool_outputs",
		coachotel.ThreadID.String(threadID),
		coachotel.RunID.String(runID),
		attribute.Int("assistant.tool_outputs", len(outputs)))
	defer span.End()
	if err := b.wait(ctx, "submit_tool_outputs"); err != nil {
		return nil, err
	}

	req := openai.SubmitToolOutputsRequest{ToolOutputs: make([]openai.ToolOutput, 0, len(outputs))}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output})
	}
	run, err := b.client.SubmitToolOutputs(ctx, threadID, runID, req)
	if err != nil {
		span.RecordError(err)
		return nil, classify("submit_tool_outputs", err)
	}
	return convertRun(run), nil
}

// LatestAssistantMessage lists the newest messages and returns the first
// assistant message, preferring one produced by runID.
func (b *OpenAIBackend) LatestAssistantMessage(ctx context.Context, threadID, runID string) (*Message, error) {
	ctx, span := b.span(ctx, "list_messages", coachotel.ThreadID.String(threadID))
	defer span.End()
	if err := b.wait(ctx, "list_messages"); err != nil {
		return nil, err
	}

	limit := 20
	order := "desc"
	list, err := b.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, classify("list_messages", err)
	}

	var fallback *Message
	for _, m := range list.Messages {
		if m.Role != "assistant" {
			continue
		}
		msg := convertMessage(m)
		if runID == "" || msg.RunID == runID {
			return msg, nil
		}
		if fallback == nil {
			fallback = msg
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrNoAssistantMessage
}

func convertRun(r openai.Run) *Run {
	out := &Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   RunStatus(r.Status),
	}
	if r.RequiredAction != nil && r.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	if r.LastError != nil {
		out.LastError = strings.TrimSpace(fmt.Sprintf("%s: %s", r.LastError.Code, r.LastError.Message))
	}
	return out
}

func convertMessage(m openai.Message) *Message {
	var parts []string
	for _, c := range m.Content {
		if c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	msg := &Message{
		ID:        m.ID,
		Role:      m.Role,
		Content:   strings.Join(parts, "\n"),
		CreatedAt: int64(m.CreatedAt),
	}
	if m.RunID != nil {
		msg.RunID = *m.RunID
	}
	return msg
}
