package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with the identifiers in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	zc := baseLogger.With()

	if tc.TraceID != "" {
		zc = zc.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		zc = zc.Str("request_id", tc.RequestID)
	}
	if tc.RunID != "" {
		zc = zc.Str("run_id", tc.RunID)
	}
	if tc.AgentID != "" {
		zc = zc.Str("agent_id", tc.AgentID)
	}
	if tc.ThreadID != "" {
		zc = zc.Str("thread_id", tc.ThreadID)
	}
	if tc.UserID != "" {
		zc = zc.Str("user_id", tc.UserID)
	}

	return zc.Logger()
}
