package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey int

const (
	traceIDKey contextKey = iota
	loggerKey
)

// Trace assigns every request an ID (propagated from X-Trace-ID when the
// caller supplies one) and stores a trace-scoped logger in the request
// context so downstream handlers log with the trace attached instead of
// threading the ID through every call.
func Trace(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), traceIDKey, traceID)
			ctx = context.WithValue(ctx, loggerKey, logger.With(zap.String("trace_id", traceID)))
			w.Header().Set("X-Trace-ID", traceID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTraceID returns the request's trace ID, or "" outside a traced request.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// Logger returns the trace-scoped logger for the request, falling back to
// the given logger when the request was not routed through Trace.
func Logger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return fallback
}

// WriteError emits the service's JSON error envelope.
func WriteError(w http.ResponseWriter, status int, message, traceID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Error   string `json:"error"`
		TraceID string `json:"trace_id,omitempty"`
	}{Error: message, TraceID: traceID})
}
