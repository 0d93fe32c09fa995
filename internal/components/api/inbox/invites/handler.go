// Package invites implements recipient-facing invitation handlers.
// All endpoints except the link preview resolve the caller through the
// injected currentUser function.
package invites

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/circleinvite/internal/components/api"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations/service"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

// ListResponse wraps the invitations returned by HandleList.
type ListResponse struct {
	Invitations []invitations.Invitation `json:"invitations"`
}

// ActivitiesResponse wraps an invitation's activity trail.
type ActivitiesResponse struct {
	Activities []invitations.Activity `json:"activities"`
}

// LinkPreview is what an anonymous link holder may see. It omits the link
// itself and the recipient address.
type LinkPreview struct {
	ID         string             `json:"id"`
	Target     invitations.Target `json:"target"`
	Role       invitations.Role   `json:"role"`
	SenderName string             `json:"senderName"`
	Message    string             `json:"message,omitempty"`
	Status     invitations.Status `json:"status"`
	ExpiresAt  time.Time          `json:"expiresAt"`
}

// Handler handles recipient-facing invitation endpoints.
type Handler struct {
	svc         *service.Service
	currentUser func(context.Context) (invitations.Principal, error)
	log         *slog.Logger
}

// NewHandler creates a new inbox invitations handler.
func NewHandler(
	svc *service.Service,
	currentUser func(context.Context) (invitations.Principal, error),
	log *slog.Logger,
) *Handler {
	return &Handler{
		svc:         svc,
		currentUser: currentUser,
		log:         logutil.NoopIfNil(log),
	}
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (invitations.Principal, bool) {
	p, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return invitations.Principal{}, false
	}
	return p, true
}

// HandleList handles GET /api/invitations.
//
// sent=1 lists what the caller sent. target_type with target_id lists every
// invitation of that target and requires an admin role there. Otherwise the
// caller's inbox is listed. status narrows any of the three.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	query := service.ListQuery{
		Status:     invitations.Status(q.Get("status")),
		TargetType: invitations.TargetType(q.Get("target_type")),
		TargetID:   q.Get("target_id"),
		Sent:       q.Get("sent") == "1" || q.Get("sent") == "true",
	}
	if query.Status != "" && !query.Status.Valid() {
		api.WriteBadRequest(w, api.ReasonInvalidField, "unknown status "+string(query.Status))
		return
	}
	if query.TargetType != "" && !query.TargetType.Valid() {
		api.WriteBadRequest(w, api.ReasonInvalidField, "unknown target_type "+string(query.TargetType))
		return
	}

	invs, err := h.svc.List(r.Context(), p, query)
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, ListResponse{Invitations: invs})
}

// HandleGet handles GET /api/invitations/{invitationId}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	inv, err := h.svc.Get(r.Context(), p, chi.URLParam(r, "invitationId"))
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inv)
}

// HandleActivities handles GET /api/invitations/{invitationId}/activities.
func (h *Handler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	acts, err := h.svc.Activities(r.Context(), p, chi.URLParam(r, "invitationId"))
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, ActivitiesResponse{Activities: acts})
}

// HandleAccept handles POST /api/invitations/{invitationId}/accept.
func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	t, err := h.svc.Accept(r.Context(), p, chi.URLParam(r, "invitationId"))
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, t.Invitation)
}

// HandleReject handles POST /api/invitations/{invitationId}/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	t, err := h.svc.Reject(r.Context(), p, chi.URLParam(r, "invitationId"))
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, t.Invitation)
}

// HandlePreviewLink handles GET /api/invitations/link/{token}. It is
// mounted without authentication.
func (h *Handler) HandlePreviewLink(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.GetByLink(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, LinkPreview{
		ID:         inv.ID,
		Target:     inv.Target,
		Role:       inv.Role,
		SenderName: inv.SenderName,
		Message:    inv.Message,
		Status:     inv.Status(),
		ExpiresAt:  inv.ExpiresAt,
	})
}

// HandleAcceptLink handles POST /api/invitations/link/{token}/accept.
func (h *Handler) HandleAcceptLink(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	t, err := h.svc.AcceptLink(r.Context(), p, chi.URLParam(r, "token"))
	if err != nil {
		api.WriteLifecycleError(w, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, t.Invitation)
}
