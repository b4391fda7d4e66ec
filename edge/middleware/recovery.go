package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Recovery turns handler panics into 500 responses carrying the service's
// error envelope instead of dropped connections.
func Recovery(fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					Logger(r.Context(), fallback).Error("Panic recovered",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("error", err),
					)
					WriteError(w, http.StatusInternalServerError, "Internal server error", GetTraceID(r.Context()))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
