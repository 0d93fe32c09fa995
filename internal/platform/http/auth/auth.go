// Package auth provides bearer token authentication middleware for HTTP
// servers.
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MahdiBaghbani/circleinvite/internal/components/api"
	"github.com/MahdiBaghbani/circleinvite/internal/components/identity"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/appctx"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

// TokenParser turns a bearer token into a principal.
type TokenParser interface {
	Parse(token string) (invitations.Principal, error)
}

// AuthGateConfig configures the auth gate middleware.
type AuthGateConfig struct {
	// RequireAuth returns true if the given path requires a bearer token.
	// Constructed by the server at router setup time using IsAuthRequired().
	RequireAuth func(path string) bool

	// Log is the base logger for auth-related warnings.
	Log *slog.Logger

	// Tokens verifies bearer tokens.
	// May be nil only if RequireAuth always returns false (tests only).
	Tokens TokenParser
}

// NewAuthGate returns a middleware that enforces bearer authentication.
// If RequireAuth returns false for the request path, the request passes
// through without token parsing or context enrichment.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}

			p, err := cfg.Tokens.Parse(token)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					api.WriteUnauthorized(w, api.ReasonTokenExpired, "token has expired")
					return
				}
				appctx.GetLogger(r.Context()).Debug("bearer token rejected", "error", err)
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "invalid bearer token")
				return
			}

			ctx := identity.WithPrincipal(r.Context(), p)
			// Handler logs carry the principal; the access log does not.
			ctx = appctx.With(ctx, "principal_id", p.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header. The scheme
// is matched case-insensitively.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
