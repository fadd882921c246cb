package tracing

import (
	"context"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans as log events, so traces land next to the
// request logs they belong to.
type LogExporter struct {
	logger zerolog.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter creates a span exporter backed by logger.
func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger.With().Str("component", "trace").Logger()}
}

// ExportSpans logs one event per span.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		sc := s.SpanContext()
		ev := e.logger.Info().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Str("span", s.Name()).
			Dur("duration", s.EndTime().Sub(s.StartTime())).
			Str("status", s.Status().Code.String())
		if parent := s.Parent(); parent.IsValid() {
			ev = ev.Str("parent_span_id", parent.SpanID().String())
		}
		if desc := s.Status().Description; desc != "" {
			ev = ev.Str("status_description", desc)
		}
		if n := len(s.Events()); n > 0 {
			ev = ev.Int("events", n)
		}

		attrs := zerolog.Dict()
		for _, kv := range s.Attributes() {
			attrs = attrs.Str(string(kv.Key), kv.Value.Emit())
		}
		ev.Dict("attributes", attrs).Msg("Span finished")
	}
	return nil
}

// Shutdown is a no-op; events are written synchronously.
func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}
