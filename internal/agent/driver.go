// Package agent drives assistant runs to completion and composes them into
// the coach workflows: single-session generation, chat, and the onboarding
// fan-out.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hashitfit/coach/internal/agent/tools"
	"github.com/hashitfit/coach/internal/assistant"
	coachotel "github.com/hashitfit/coach/internal/otel"
)

var tracer = coachotel.Tracer("github.com/hashitfit/coach/internal/agent")

var (
	meter     = coachotel.Meter("github.com/hashitfit/coach/internal/agent")
	runsTotal = coachotel.Counter(meter, "agent.runs.total", "Assistant runs driven, by workflow and outcome")
	pollTotal = coachotel.Counter(meter, "agent.polls.total", "Run status polls")
)

// RunSpec describes one run on an existing thread.
type RunSpec struct {
	Workflow     string
	ThreadID     string
	Message      string
	AssistantID  string
	Instructions string
	Poll         PollConfig
	// Schema validates the reply as a JSON payload. Nil returns the reply
	// text as is.
	Schema *Schema
}

// Result is a completed run.
type Result struct {
	ThreadID string
	RunID    string
	// Text is the raw assistant reply.
	Text string
	// Payload is the parsed reply when the spec carried a schema.
	Payload   json.RawMessage
	Polls     int
	ToolCalls int
}

// Driver runs the remote state machine: post the message, start a run,
// poll, answer tool calls, and read the reply.
type Driver struct {
	backend    assistant.Backend
	dispatcher *tools.Dispatcher
}

// NewDriver creates a driver.
func NewDriver(backend assistant.Backend, dispatcher *tools.Dispatcher) *Driver {
	return &Driver{backend: backend, dispatcher: dispatcher}
}

// RunToCompletion posts spec.Message to the thread and drives a run until
// it completes, fails, or exhausts spec.Poll.MaxAttempts. Tool calls are
// answered in one batch per requires_action state; a tool failure becomes
// an error output, never a run failure.
func (d *Driver) RunToCompletion(ctx context.Context, spec RunSpec) (res *Result, err error) {
	switch {
	case spec.ThreadID == "":
		return nil, validationError("run", "thread id required")
	case spec.AssistantID == "":
		return nil, validationError("run", "assistant id required for workflow %q", spec.Workflow)
	case spec.Message == "":
		return nil, validationError("run", "message required")
	}

	ctx, span := tracer.Start(ctx, "agent.run_to_completion",
		trace.WithAttributes(
			coachotel.Workflow.String(spec.Workflow),
			coachotel.ThreadID.String(spec.ThreadID),
			coachotel.AssistantID.String(spec.AssistantID),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "completed"
		if err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		runsTotal.Add(ctx, 1, metric.WithAttributes(
			coachotel.Workflow.String(spec.Workflow),
			attribute.String("outcome", outcome),
		))
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("workflow", spec.Workflow).
			Str("thread_id", spec.ThreadID).
			Dur("duration", time.Since(start)).
			Func(coachotel.LogTraceFields(ctx)).
			Msg("run_finished")
	}()

	if err := d.backend.AppendMessage(ctx, spec.ThreadID, spec.Message); err != nil {
		return nil, remoteError("append message", err)
	}

	run, err := d.backend.CreateRun(ctx, spec.ThreadID, assistant.RunRequest{
		AssistantID:  spec.AssistantID,
		Instructions: spec.Instructions,
		Tools:        d.toolDefinitions(),
	})
	if err != nil {
		return nil, remoteError("create run", err)
	}
	span.SetAttributes(coachotel.RunID.String(run.ID))
	log.Debug().
		Str("workflow", spec.Workflow).
		Str("thread_id", spec.ThreadID).
		Str("run_id", run.ID).
		Msg("run_started")

	res = &Result{ThreadID: spec.ThreadID, RunID: run.ID}

	fetch := func(ctx context.Context, attempt int) (*assistant.Run, error) {
		ctx, span := tracer.Start(ctx, "agent.poll", trace.WithAttributes(
			coachotel.RunID.String(run.ID),
			coachotel.PollAttempt.Int(attempt),
		))
		defer span.End()
		pollTotal.Add(ctx, 1, metric.WithAttributes(coachotel.Workflow.String(spec.Workflow)))

		r, err := d.backend.GetRun(ctx, spec.ThreadID, run.ID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		span.SetAttributes(coachotel.RunStatus.String(string(r.Status)))
		return r, nil
	}

	step := func(ctx context.Context, r *assistant.Run) (bool, error) {
		switch r.Status {
		case assistant.StatusQueued, assistant.StatusInProgress, assistant.StatusCancelling:
			return false, nil
		case assistant.StatusRequiresAction:
			n, err := d.answerToolCalls(ctx, spec, r)
			res.ToolCalls += n
			return false, err
		case assistant.StatusCompleted:
			return true, nil
		case assistant.StatusFailed, assistant.StatusExpired, assistant.StatusCancelled, assistant.StatusIncomplete:
			reason := r.LastError
			if reason == "" {
				reason = "no reason given"
			}
			return false, protocolError("run", fmt.Errorf("run %s ended %s", r.ID, r.Status), reason)
		default:
			return false, protocolError("run", fmt.Errorf("run %s in unknown status %q", r.ID, r.Status), "")
		}
	}

	_, polls, err := Poll(ctx, spec.Poll, fetch, step)
	res.Polls = polls
	if err != nil {
		return nil, remoteError("poll run", err)
	}

	msg, err := d.backend.LatestAssistantMessage(ctx, spec.ThreadID, run.ID)
	if err != nil {
		if errors.Is(err, assistant.ErrNoAssistantMessage) {
			return nil, protocolError("read reply", err, "")
		}
		return nil, remoteError("read reply", err)
	}
	res.Text = msg.Content

	if spec.Schema != nil {
		payload, err := ParsePayload(msg.Content, spec.Schema)
		if err != nil {
			return nil, protocolError("parse reply", err, truncate(msg.Content, 200))
		}
		res.Payload = payload
	}
	return res, nil
}

// answerToolCalls dispatches every pending call and submits all outputs in
// one batch.
func (d *Driver) answerToolCalls(ctx context.Context, spec RunSpec, r *assistant.Run) (int, error) {
	if len(r.ToolCalls) == 0 {
		return 0, protocolError("tool calls", fmt.Errorf("run %s requires action without tool calls", r.ID), "")
	}
	calls := make([]tools.Call, len(r.ToolCalls))
	for i, c := range r.ToolCalls {
		calls[i] = tools.Call{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}

	outputs := d.dispatcher.DispatchAll(ctx, calls)
	if len(outputs) != len(calls) {
		return 0, protocolError("tool calls", fmt.Errorf("dispatched %d outputs for %d calls", len(outputs), len(calls)), "")
	}
	batch := make([]assistant.ToolOutput, len(outputs))
	for i, o := range outputs {
		batch[i] = assistant.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output}
	}

	if _, err := d.backend.SubmitToolOutputs(ctx, spec.ThreadID, r.ID, batch); err != nil {
		return len(calls), remoteError("submit tool outputs", err)
	}
	log.Debug().
		Str("workflow", spec.Workflow).
		Str("run_id", r.ID).
		Int("tool_calls", len(calls)).
		Msg("tool_outputs_submitted")
	return len(calls), nil
}

func (d *Driver) toolDefinitions() []assistant.ToolDefinition {
	if d.dispatcher == nil {
		return nil
	}
	defs := d.dispatcher.Registry().Definitions()
	out := make([]assistant.ToolDefinition, len(defs))
	for i, def := range defs {
		out[i] = assistant.ToolDefinition{Name: def.Name, Description: def.Description, Parameters: def.Parameters}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
