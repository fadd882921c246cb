package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestRequestContext(t *testing.T) {
	t.Run("should assign a trace id and keep the request id", func(t *testing.T) {
		ctx := NewRequestContext(context.Background(), "req-1")
		assert.Len(t, GetTraceID(ctx), 36)
		assert.Equal(t, "req-1", GetRequestID(ctx))
	})

	t.Run("should keep an existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-abc")
		ctx = NewRequestContext(ctx, "")
		assert.Equal(t, "trace-abc", GetTraceID(ctx))
		assert.Empty(t, GetRequestID(ctx))
	})

	t.Run("should give every attempt its own id", func(t *testing.T) {
		ctx := NewRequestContext(context.Background(), "req-1")
		a := NewAttemptContext(ctx)
		b := NewAttemptContext(ctx)
		assert.NotEqual(t, GetAttemptID(a), GetAttemptID(b))
		assert.Equal(t, GetTraceID(a), GetTraceID(b))
	})

	t.Run("should read empty values from a bare context", func(t *testing.T) {
		tc := FromContext(context.Background())
		assert.Equal(t, &TraceContext{}, tc)
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithUser(NewRequestContext(context.Background(), "req-9"), "dana")
	ctx = WithAttemptID(ctx, "att-1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("attempt")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-9", entry["request_id"])
	assert.Equal(t, "att-1", entry["attempt_id"])
	assert.Equal(t, "dana", entry["user"])
	assert.NotEmpty(t, entry["trace_id"])
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(NewRequestContext(context.Background(), "req-2"))
	parent = WithAttemptID(parent, "att-2")
	cancel()

	detached := Detach(parent)
	assert.NoError(t, detached.Err())
	assert.Equal(t, "req-2", GetRequestID(detached))
	assert.Equal(t, GetTraceID(parent), GetTraceID(detached))
	assert.Empty(t, GetAttemptID(detached))
}

func TestStartSpan(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("storechat-test", nil))
	ctx, span := StartSpan(context.Background(), "storechat.test", "unit")
	defer span.End()
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestNewExporter(t *testing.T) {
	t.Run("should return no exporter when tracing is off", func(t *testing.T) {
		for _, mode := range []string{"", ExporterOff} {
			exp, err := NewExporter(mode, nil, zerolog.Nop())
			require.NoError(t, err)
			assert.Nil(t, exp)
		}
	})

	t.Run("should reject unknown modes", func(t *testing.T) {
		_, err := NewExporter("jaeger", nil, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("should write spans as JSON in stdout mode", func(t *testing.T) {
		var buf bytes.Buffer
		exp, err := NewExporter(ExporterStdout, &buf, zerolog.Nop())
		require.NoError(t, err)

		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		_, span := tp.Tracer("storechat.test").Start(context.Background(), "gateway.chat")
		span.End()
		require.NoError(t, tp.Shutdown(context.Background()))

		assert.Contains(t, buf.String(), `"Name":"gateway.chat"`)
	})
}

func TestLogExporter(t *testing.T) {
	t.Run("should log one event per finished span", func(t *testing.T) {
		var buf bytes.Buffer
		exp, err := NewExporter(ExporterLog, nil, zerolog.New(&buf))
		require.NoError(t, err)

		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		tracer := tp.Tracer("storechat.test")
		ctx, parent := tracer.Start(context.Background(), "gateway.chat")
		_, child := tracer.Start(ctx, "agent.run", trace.WithAttributes(attribute.String("provider", "gemini")))
		child.SetStatus(codes.Error, "provider rate limited")
		child.End()
		parent.End()
		require.NoError(t, tp.Shutdown(context.Background()))

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		require.Len(t, lines, 2)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(lines[0], &entry))
		assert.Equal(t, "trace", entry["component"])
		assert.Equal(t, "agent.run", entry["span"])
		assert.Equal(t, "Error", entry["status"])
		assert.Equal(t, "provider rate limited", entry["status_description"])
		assert.Equal(t, parent.SpanContext().SpanID().String(), entry["parent_span_id"])
		assert.Equal(t, map[string]interface{}{"provider": "gemini"}, entry["attributes"])
		assert.Equal(t, "Span finished", entry["message"])

		require.NoError(t, json.Unmarshal(lines[1], &entry))
		assert.Equal(t, "gateway.chat", entry["span"])
	})
}
