package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTraceContextFrom_NoSpan(t *testing.T) {
	traceID, spanID := TraceContextFrom(context.Background())
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}

func TestLogTraceFields_WithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Func(LogTraceFields(ctx)).Msg("x")

	assert.Contains(t, buf.String(), `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)
	assert.Contains(t, buf.String(), `"span_id":"`)
}

func TestLogTraceFields_NoSpanOmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Func(LogTraceFields(context.Background())).Msg("x")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup("coach-test", "dev", false)
	assert.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
