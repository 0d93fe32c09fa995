package server

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/MahdiBaghbani/circleinvite/internal/frameworks/service"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/deps"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/http/auth"
	httpmw "github.com/MahdiBaghbani/circleinvite/internal/platform/http/middleware"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
}

// routeGroups defines all endpoint groups and their auth requirements.
// This table is the single source of truth for routing decisions; per-path
// exceptions come from Service.Unprotected().
var routeGroups = []RouteGroup{
	{Name: "api", PathPrefix: "/api", RequiresAuth: true},
}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// IsAuthRequired checks if a given path requires a bearer token.
// Paths a mounted service declares unprotected are exempt; unknown paths
// require auth.
func IsAuthRequired(path string, basePath string, mountedServices []service.Service) bool {
	for _, svc := range mountedServices {
		if svc == nil {
			continue
		}
		svcBase := basePath
		if prefix := svc.Prefix(); prefix != "" {
			svcBase += "/" + prefix
		}
		for _, unprotected := range svc.Unprotected() {
			if matchesUnprotected(path, svcBase+unprotected) {
				return false
			}
		}
	}

	for _, rg := range routeGroups {
		if pathMatchesPrefix(path, basePath+rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}

	return true
}

// matchesUnprotected treats a trailing "/*" as a single-segment wildcard so
// services can exempt parameterized paths like /invitations/link/*.
func matchesUnprotected(path, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		rest, found := strings.CutPrefix(path, prefix+"/")
		return found && rest != "" && !strings.Contains(rest, "/")
	}
	return pathMatchesPrefix(path, pattern)
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix) && path[len(prefix)] == '/'
}

// mountOrder returns CoreServices first, then any other configured service
// by name.
func mountOrder(services map[string]service.Service) []string {
	names := make([]string, 0, len(services))
	for _, name := range service.CoreServices {
		if _, ok := services[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range services {
		if !slices.Contains(names, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}

// mountService mounts a service and tracks it for lifecycle management.
func (s *Server) mountService(r chi.Router, svc service.Service) {
	if svc == nil {
		return
	}
	if prefix := svc.Prefix(); prefix != "" {
		r.Mount("/"+prefix, svc.Handler())
	} else {
		r.Mount("/", svc.Handler())
	}
	s.mountedServices = append(s.mountedServices, svc)
}

// setupRoutes creates the chi router with all services mounted.
func (s *Server) setupRoutes() chi.Router {
	d := deps.GetDeps()
	trustForwarded := s.cfg.Server.TrustForwardedFor
	r := chi.NewRouter()

	// Always-on transport middleware (order is invariant):
	// RequestID -> request-scoped logger -> access log -> recoverer -> cors -> auth gate
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLoggerMiddleware(s.logger, trustForwarded))
	r.Use(httpmw.AccessLogMiddleware(s.logger, trustForwarded))
	r.Use(chimw.Recoverer)

	// CORS sits in front of the gate so preflights never need a token.
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{chimw.RequestIDHeader},
			MaxAge:         600,
		}).Handler)
	}

	// The closure reads s.mountedServices at request time, after mounting.
	r.Use(auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: func(path string) bool {
			return IsAuthRequired(path, s.cfg.ExternalBasePath, s.mountedServices)
		},
		Log:    s.logger,
		Tokens: d.Tokens,
	}))

	mount := func(r chi.Router) {
		for _, name := range mountOrder(s.services) {
			s.mountService(r, s.services[name])
		}
	}
	if s.cfg.ExternalBasePath != "" {
		r.Route(s.cfg.ExternalBasePath, mount)
	} else {
		mount(r)
	}

	return r
}
