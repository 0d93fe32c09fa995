// Package ratelimit limits requests per client IP with fixed windows kept
// in a cache.Counter.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/components/api"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/cache"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/http/middleware"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

// Config defines a limit of RequestsPerWindow per client per Window.
type Config struct {
	RequestsPerWindow int64
	Window            time.Duration

	// Scope namespaces the counters so several limiters can share one
	// backend.
	Scope string

	// TrustForwardedFor keys clients by X-Forwarded-For.
	TrustForwardedFor bool
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Limiter applies Config using a counter backend.
type Limiter struct {
	counter cache.Counter
	cfg     Config
	log     *slog.Logger
}

// New creates a limiter.
func New(counter cache.Counter, cfg Config, log *slog.Logger) *Limiter {
	return &Limiter{counter: counter, cfg: cfg, log: logutil.NoopIfNil(log)}
}

// Allow counts one request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.counter.Increment(ctx, "ratelimit:"+l.cfg.Scope+":"+key, 1, l.cfg.Window)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Allowed:   count <= l.cfg.RequestsPerWindow,
		Remaining: max(l.cfg.RequestsPerWindow-count, 0),
		ResetAt:   resetAt,
	}, nil
}

// Wrap rejects requests over the limit with 429. Backend failures let the
// request through.
func (l *Limiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := middleware.ClientIP(r, l.cfg.TrustForwardedFor)
		result, err := l.Allow(r.Context(), key)
		if err != nil {
			l.log.WarnContext(r.Context(), "rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(l.cfg.RequestsPerWindow, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := max(int(time.Until(result.ResetAt).Seconds()), 1)
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			l.log.InfoContext(r.Context(), "rate limited", "client_ip", key, "scope", l.cfg.Scope)
			api.WriteTooManyRequests(w, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
