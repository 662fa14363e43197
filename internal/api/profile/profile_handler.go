package profile

import (
	"log/slog"
	"net/http"

	"github.com/fmarques/failforward/internal/api"
	"github.com/fmarques/failforward/internal/api/identity"
	"github.com/fmarques/failforward/internal/types"
)

type HandlerImpl struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandlerImpl(repo *Repository, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{repo: repo, logger: logger}
}

// GetProfile returns the authenticated user's profile, or 404 when no
// profile document exists yet.
func (h *HandlerImpl) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	p, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get profile", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if p == nil {
		api.ErrorResponse(w, r, http.StatusNotFound, "profile not found")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, p)
}

// UpdateProfile merge-writes the provided fields onto the caller's profile.
func (h *HandlerImpl) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var params types.UpdateProfileParams
	if err := api.DecodeJSONBody(w, r, &params); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.UpsertProfile(r.Context(), userID, params); err != nil {
		h.logger.ErrorContext(r.Context(), "update profile", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to update profile")
		return
	}

	p, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil || p == nil {
		api.WriteJSONResponse(w, r, http.StatusOK, map[string]bool{"success": true})
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, p)
}
