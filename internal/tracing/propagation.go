package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the tracing fields present in ctx to logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	if tc.TraceID == "" && tc.RequestID == "" && tc.AttemptID == "" && tc.User == "" {
		return logger
	}

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}
	if tc.AttemptID != "" {
		lc = lc.Str("attempt_id", tc.AttemptID)
	}
	if tc.User != "" {
		lc = lc.Str("user", tc.User)
	}
	return lc.Logger()
}

// Detach returns a background context carrying ctx's tracing fields. Work that
// must outlive the request, such as a final ledger flush, uses it.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	out := context.Background()
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.RequestID != "" {
		out = WithRequestID(out, tc.RequestID)
	}
	if tc.User != "" {
		out = WithUser(out, tc.User)
	}
	return out
}
