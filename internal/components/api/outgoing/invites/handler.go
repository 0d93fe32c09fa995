// Package invites implements the sender-side invitation handlers: create,
// cancel and resend.
package invites

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/circleinvite/internal/components/api"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations/service"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

// maxBodyBytes caps request bodies; invitation forms are small.
const maxBodyBytes = 64 << 10

// CreateRequest is the body of POST /api/invitations.
type CreateRequest struct {
	Target invitations.Target `json:"target"`
	invitations.FormData
}

// CreateResponse is returned by HandleCreate. Notify reports whether the
// notification collaborator was invoked.
type CreateResponse struct {
	Invitation invitations.Invitation `json:"invitation"`
	Activity   invitations.Activity   `json:"activity"`
	Notify     bool                   `json:"notify"`

	// LinkURL is the absolute preview URL of Invitation.Link, set when a
	// link was minted and a public origin is configured.
	LinkURL string `json:"linkUrl,omitempty"`
}

// ResendRequest is the body of POST /api/invitations/{invitationId}/resend.
// Zero ExpirationDays uses the configured default.
type ResendRequest struct {
	ExpirationDays int `json:"expirationDays"`
}

// Handler handles sender-side invitation endpoints.
type Handler struct {
	svc         *service.Service
	currentUser func(context.Context) (invitations.Principal, error)
	log         *slog.Logger
	linkURL     func(token string) string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLinkURL sets the function that renders a link token as an absolute URL.
func WithLinkURL(fn func(token string) string) Option {
	return func(h *Handler) { h.linkURL = fn }
}

// NewHandler creates a new outgoing invitations handler.
func NewHandler(
	svc *service.Service,
	currentUser func(context.Context) (invitations.Principal, error),
	log *slog.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		svc:         svc,
		currentUser: currentUser,
		log:         logutil.NoopIfNil(log),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (invitations.Principal, bool) {
	p, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return invitations.Principal{}, false
	}
	return p, true
}

// HandleCreate handles POST /api/invitations.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "failed to parse request body")
		return
	}

	t, err := h.svc.Create(r.Context(), p, service.CreateRequest{Target: req.Target, Form: req.FormData})
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}

	resp := CreateResponse{Invitation: t.Invitation, Activity: t.Activity, Notify: t.Notify}
	if h.linkURL != nil && t.Invitation.Link != "" {
		resp.LinkURL = h.linkURL(t.Invitation.Link)
	}
	api.WriteJSON(w, http.StatusCreated, resp)
}

// HandleCancel handles POST /api/invitations/{invitationId}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	t, err := h.svc.Cancel(r.Context(), p, chi.URLParam(r, "invitationId"))
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, t.Invitation)
}

// HandleResend handles POST /api/invitations/{invitationId}/resend.
func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req ResendRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			api.WriteBadRequest(w, api.ReasonBadRequest, "failed to parse request body")
			return
		}
	}

	t, err := h.svc.Resend(r.Context(), p, chi.URLParam(r, "invitationId"), req.ExpirationDays)
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, t.Invitation)
}
