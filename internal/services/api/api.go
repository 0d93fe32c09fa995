// Package api provides the /api/* endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/circleinvite/internal/components/api"
	inboxinvites "github.com/MahdiBaghbani/circleinvite/internal/components/api/inbox/invites"
	outgoinginvites "github.com/MahdiBaghbani/circleinvite/internal/components/api/outgoing/invites"
	"github.com/MahdiBaghbani/circleinvite/internal/components/identity"
	"github.com/MahdiBaghbani/circleinvite/internal/frameworks/service"
	"github.com/MahdiBaghbani/circleinvite/internal/frameworks/service/httpwrap"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/cfg"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/deps"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/publicorigin"
)

func init() {
	service.MustRegister("api", New)
}

// Config holds api service configuration from [http.services.api].
type Config struct {
	// DisableLinkPreview removes the anonymous GET /invitations/link/{token}
	// route. Accepting a link still works for authenticated callers.
	DisableLinkPreview bool `mapstructure:"disable_link_preview"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {}

// Service is the API service.
type Service struct {
	router chi.Router
	conf   *Config
	log    *slog.Logger
}

// New creates a new API service.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)

	var c Config
	unused, err := cfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "api", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil || d.Invitations == nil {
		return nil, errors.New("shared deps not initialized")
	}

	storeName := ""
	if d.Store != nil {
		storeName = d.Store.Name()
	}

	inbox := inboxinvites.NewHandler(d.Invitations, identity.FromContext, log)
	var outgoingOpts []outgoinginvites.Option
	if d.Config != nil && d.Config.PublicOrigin != "" {
		origin, basePath := d.Config.PublicOrigin, d.Config.ExternalBasePath
		outgoingOpts = append(outgoingOpts, outgoinginvites.WithLinkURL(func(token string) string {
			return publicorigin.LinkURL(origin, basePath, token)
		}))
	}
	outgoing := outgoinginvites.NewHandler(d.Invitations, identity.FromContext, log, outgoingOpts...)

	r := chi.NewRouter()

	// Health endpoint (public)
	r.Get("/healthz", api.HealthHandler(storeName))

	r.Route("/invitations", func(r chi.Router) {
		r.Post("/", outgoing.HandleCreate)
		r.Get("/", inbox.HandleList)

		r.Group(func(r chi.Router) {
			if d.LinkLimiter != nil {
				r.Use(d.LinkLimiter.Wrap)
			}
			if !c.DisableLinkPreview {
				r.Get("/link/{token}", inbox.HandlePreviewLink)
			}
			r.Post("/link/{token}/accept", inbox.HandleAcceptLink)
		})

		r.Route("/{invitationId}", func(r chi.Router) {
			r.Get("/", inbox.HandleGet)
			r.Get("/activities", inbox.HandleActivities)
			r.Post("/accept", inbox.HandleAccept)
			r.Post("/reject", inbox.HandleReject)
			r.Post("/cancel", outgoing.HandleCancel)
			r.Post("/resend", outgoing.HandleResend)
		})
	})

	return &Service{router: r, conf: &c, log: log}, nil
}

// Handler returns the service's HTTP handler with RawPath clearing.
func (s *Service) Handler() http.Handler {
	return httpwrap.ClearRawPath(s.router)
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "api"
}

// Unprotected returns paths that don't require a bearer token. The link
// wildcard covers one segment only, so .../link/{token}/accept stays gated.
func (s *Service) Unprotected() []string {
	if s.conf.DisableLinkPreview {
		return []string{"/healthz"}
	}
	return []string{"/healthz", "/invitations/link/*"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}
