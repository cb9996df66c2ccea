package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jobportal/internal/service"
	"github.com/jobportal/internal/ws"
)

type AdminHandler struct {
	sessions *service.SessionManager
	accounts *service.AccountService
	hub      *ws.Hub
}

func NewAdminHandler(sessions *service.SessionManager, accounts *service.AccountService, hub *ws.Hub) *AdminHandler {
	return &AdminHandler{sessions: sessions, accounts: accounts, hub: hub}
}

// ToggleDisabled flips the disabled flag of {id}. Disabling closes the user's sockets.
func (h *AdminHandler) ToggleDisabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	disabled, err := h.accounts.ToggleDisabled(r.Context(), id)
	if errors.Is(err, service.ErrPrincipalGone) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if disabled && h.hub != nil && (err == nil || errors.Is(err, service.ErrUnavailable)) {
		h.hub.DisconnectUser(r.Context(), id, ws.EventUserDisabled, "disabled by administrator")
	}
	if err != nil {
		writeServiceError(w, "toggle disabled", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "disabled": disabled})
}

// RevokeSessions deletes every session of {id}.
func (h *AdminHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.sessions.RevokeUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, "revoke sessions", err)
		return
	}
	if h.hub != nil {
		h.hub.DisconnectUser(r.Context(), id, ws.EventSessionRevoked, "revoked by administrator")
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "revoked": n})
}
