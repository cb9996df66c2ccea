package handler

import (
	"net/http"
	"time"

	"github.com/jobportal/internal/middleware"
	"github.com/jobportal/internal/service"
)

type UserHandler struct {
	sessions *service.SessionManager
	accounts *service.AccountService
}

func NewUserHandler(sessions *service.SessionManager, accounts *service.AccountService) *UserHandler {
	return &UserHandler{sessions: sessions, accounts: accounts}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.Profile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

type sessionView struct {
	ID        string    `json:"id"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *UserHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	current := middleware.GetSessionID(r.Context())
	list, err := h.sessions.Sessions(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "list sessions", err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{ID: s.ID, Current: s.ID == current, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
