// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/frameworks/service"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/config"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/deps"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

var ErrMissingSharedDeps = errors.New("shared deps not initialized: call deps.SetDeps() with Tokens before server.New()")

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	services   map[string]service.Service // keyed by service name

	// mountedServices tracks services for lifecycle management (Close on shutdown).
	// Stored in mount order; closed in reverse order during shutdown.
	mountedServices []service.Service

	tlsConfig *tls.Config
}

// Option configures a Server.
type Option func(*Server)

// WithTLS serves HTTPS with tc. A nil tc leaves the listener plain.
func WithTLS(tc *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = tc }
}

// New creates a new Server with the given configuration.
// Services are passed as a name->service map; nil entries are skipped at mount time.
// Returns ErrMissingSharedDeps unless deps.SetDeps ran with a token verifier.
func New(cfg *config.Config, logger *slog.Logger, services map[string]service.Service, opts ...Option) (*Server, error) {
	logger = logutil.NoopIfNil(logger)

	d := deps.GetDeps()
	if d == nil || d.Tokens == nil {
		return nil, ErrMissingSharedDeps
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		services: services,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address. It blocks until the server is
// shut down and then returns http.ErrServerClosed.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until shutdown, terminating TLS on it
// when the server was built WithTLS.
func (s *Server) Serve(ln net.Listener) error {
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.logger.Info("starting server",
		"addr", ln.Addr().String(),
		"external_base_path", s.cfg.ExternalBasePath,
		"mode", s.cfg.Mode,
		"tls", s.tlsConfig != nil,
	)
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and all mounted services.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	httpErr := s.httpServer.Shutdown(ctx)

	// Close services in reverse mount order (last mounted = first closed)
	for i := len(s.mountedServices) - 1; i >= 0; i-- {
		svc := s.mountedServices[i]
		prefix := svc.Prefix()
		if prefix == "" {
			prefix = "(root)"
		}
		if err := svc.Close(); err != nil {
			// best-effort, keep closing the rest
			s.logger.Warn("service close error", "service", prefix, "error", err)
		} else {
			s.logger.Debug("service closed", "service", prefix)
		}
	}

	return httpErr
}
