package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

// WriteLifecycleError maps invitation and store errors onto the error
// envelope. Unknown errors are logged and reported as 500 without detail.
func WriteLifecycleError(w http.ResponseWriter, log *slog.Logger, err error) {
	var verr *invitations.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteErrorDetail(w, http.StatusBadRequest, ErrorDetail{
			ReasonCode: ReasonInvalidField,
			Message:    verr.Error(),
			Field:      verr.Field,
		})
	case errors.Is(err, invitations.ErrInvalidExpiration):
		WriteConflict(w, ReasonInvalidExpiration, err.Error())
	case errors.Is(err, invitations.ErrUnauthorized):
		WriteForbidden(w, ReasonUnauthorized, err.Error())
	case errors.Is(err, invitations.ErrInvalidTransition):
		WriteConflict(w, ReasonInvalidTransition, err.Error())
	case errors.Is(err, invitations.ErrExpired):
		WriteConflict(w, ReasonExpired, err.Error())
	case errors.Is(err, invitations.ErrInvalidLink):
		WriteError(w, http.StatusNotFound, ReasonInvalidLink, "invitation link is not valid")
	case errors.Is(err, store.ErrNotFound):
		WriteNotFound(w, "invitation not found")
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrAlreadyExists):
		WriteConflict(w, ReasonConflict, "invitation was modified concurrently, retry")
	default:
		if log != nil {
			log.Error("invitation operation failed", "error", err)
		}
		WriteInternalError(w, "internal error")
	}
}
