// Package middleware provides always-on transport middleware for HTTP servers.
package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/appctx"
)

// RequestLoggerMiddleware attaches a request-scoped logger to the request
// context. Handlers pick it up with appctx.GetLogger.
//
// Must run after chimw.RequestID so the request id is populated.
func RequestLoggerMiddleware(base *slog.Logger, trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := appctx.WithLogger(r.Context(), requestLogger(base, r, trustForwarded))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(base *slog.Logger, r *http.Request, trustForwarded bool) *slog.Logger {
	return base.With(
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path, // no query string, link tokens travel in paths only
		"client_ip", ClientIP(r, trustForwarded),
	)
}
