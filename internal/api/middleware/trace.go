package middleware

import (
	"log/slog"
	"net/http"

	"github.com/glintlabs/glint-api/internal/api/shared"
	"github.com/glintlabs/glint-api/internal/platform/logger"
)

// TraceMiddleware assigns each request a trace ID and stores a logger
// carrying it in the context. Apply it before the auth and trigger
// handlers so every log line of an invocation, down to the store layer,
// shares the same trace_id.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		traceID := shared.GetTraceID(ctx)

		log := slog.With(slog.String("trace_id", traceID))
		ctx = logger.WithLogger(ctx, log)

		log.Debug("request started",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
