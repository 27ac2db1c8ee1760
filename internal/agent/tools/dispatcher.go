package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coachotel "github.com/hashitfit/coach/internal/otel"
	"github.com/hashitfit/coach/internal/requestctx"
)

var tracer = coachotel.Tracer("github.com/hashitfit/coach/internal/agent/tools")

var (
	meter       = coachotel.Meter("github.com/hashitfit/coach/internal/agent/tools")
	callsTotal  = coachotel.Counter(meter, "tools.calls.total", "Tool calls dispatched")
	errorsTotal = coachotel.Counter(meter, "tools.errors.total", "Tool calls that produced an error output")
)

// ErrUnknownTool is the error reported for a name with no registered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Call is one tool invocation requested by the assistant.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Output is the result handed back for a Call. Output is always a JSON
// document; failures are encoded as {"error": "..."}.
type Output struct {
	ToolCallID string
	Output     string
}

// DefaultCallTimeout bounds a single tool execution.
const DefaultCallTimeout = 20 * time.Second

// Dispatcher resolves calls against a registry. Nothing a tool does, including
// panicking, escapes Dispatch.
type Dispatcher struct {
	registry *ToolRegistry
	tracker  *FailureTracker
	timeout  time.Duration

	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFailureTracker records tool failures per user.
func WithFailureTracker(t *FailureTracker) DispatcherOption {
	return func(d *Dispatcher) { d.tracker = t }
}

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *ToolRegistry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultCallTimeout,
		schemas:  make(map[string]*gojsonschema.Schema),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the dispatcher's tool registry.
func (d *Dispatcher) Registry() *ToolRegistry {
	return d.registry
}

// DispatchAll runs every call and returns exactly one output per call, in the
// same order as calls.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []Call) []Output {
	outputs := make([]Output, len(calls))
	for i, c := range calls {
		outputs[i] = d.Dispatch(ctx, c)
	}
	return outputs
}

// Dispatch runs one call.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Output {
	ctx, span := tracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(
			coachotel.ToolName.String(call.Name),
			attribute.String("assistant.tool_call_id", call.ID),
		))
	defer span.End()
	callsTotal.Add(ctx, 1)

	result, err := d.execute(ctx, call)
	if err != nil {
		errorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		userID := requestctx.UserID(ctx)
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("tool", call.Name).
			Str("tool_call_id", call.ID).
			Func(coachotel.LogTraceFields(ctx)).
			Msg("tool_call_failed")
		if d.tracker != nil && userID != "" {
			d.tracker.Record(userID, call.Name, err.Error())
		}
		return Output{ToolCallID: call.ID, Output: ErrorPayload(err)}
	}

	log.Debug().
		Str("tool", call.Name).
		Str("tool_call_id", call.ID).
		Int("output_bytes", len(result)).
		Msg("tool_dispatched")
	return Output{ToolCallID: call.ID, Output: string(result)}
}

func (d *Dispatcher) execute(ctx context.Context, call Call) (result json.RawMessage, err error) {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return nil, ErrUnknownTool
	}

	args := json.RawMessage(strings.TrimSpace(call.Arguments))
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return nil, fmt.Errorf("invalid arguments: not valid JSON")
	}
	if err := d.validate(tool, args); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result, err = tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(result) {
		return nil, fmt.Errorf("tool %s returned invalid JSON", call.Name)
	}
	return result, nil
}

// validate checks args against the tool's input schema. Schemas are compiled
// once per tool name.
func (d *Dispatcher) validate(tool Tool, args json.RawMessage) error {
	schema, err := d.schemaFor(tool)
	if err != nil || schema == nil {
		return err
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
}

func (d *Dispatcher) schemaFor(tool Tool) (*gojsonschema.Schema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.schemas[tool.Name()]; ok {
		return s, nil
	}
	raw := tool.InputSchema()
	if len(raw) == 0 {
		d.schemas[tool.Name()] = nil
		return nil, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %s has an invalid input schema: %w", tool.Name(), err)
	}
	d.schemas[tool.Name()] = s
	return s, nil
}

// ErrorPayload encodes err as the {"error": "..."} output the assistant sees.
func ErrorPayload(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
