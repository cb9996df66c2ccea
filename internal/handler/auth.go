package handler

import (
	"net/http"

	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/middleware"
	"github.com/jobportal/internal/service"
	"github.com/jobportal/internal/ws"
)

// TokenResponse is returned by /authenticate and /register.
type TokenResponse struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

func tokenResponse(s *service.Session) TokenResponse {
	return TokenResponse{Type: "bearer", AccessToken: s.Token, UserID: s.UserID}
}

type AuthHandler struct {
	sessions *service.SessionManager
	accounts *service.AccountService
	hub      *ws.Hub
}

// NewAuthHandler wires the session endpoints. hub may be nil when sockets are not served.
func NewAuthHandler(sessions *service.SessionManager, accounts *service.AccountService, hub *ws.Hub) *AuthHandler {
	return &AuthHandler{sessions: sessions, accounts: accounts, hub: hub}
}

func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var creds service.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request")
		return
	}
	s, err := h.sessions.Attempt(r.Context(), creds)
	if err != nil {
		writeServiceError(w, "authenticate", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(s))
}

type registerRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Mobile     string `json:"mobile"`
	Password   string `json:"password"`
	UserTypeID int    `json:"user_type_id"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request")
		return
	}
	_, s, err := h.accounts.Register(r.Context(), service.RegisterRequest{
		Name:       req.Name,
		Email:      req.Email,
		Mobile:     req.Mobile,
		Password:   req.Password,
		UserTypeID: req.UserTypeID,
	})
	if err != nil {
		writeServiceError(w, "register", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(s))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), middleware.GetSessionID(r.Context())); err != nil {
		writeServiceError(w, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LogoutAll ends every session of the caller and closes their sockets.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	n, err := h.sessions.RevokeUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "logout all", err)
		return
	}
	if h.hub != nil {
		h.hub.DisconnectUser(r.Context(), userID, ws.EventSessionRevoked, "logout")
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

type internalAuthRequest struct {
	Token string `json:"token"`
}

type internalAuthResponse struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// InternalAuthenticate lets sibling services resolve a bearer token without sharing keys.
func (h *AuthHandler) InternalAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req internalAuthRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.sessions.Authenticate(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, "internal authenticate", err)
		return
	}
	switch v := res.(type) {
	case service.Authenticated:
		writeJSON(w, http.StatusOK, internalAuthResponse{
			UserID:       v.UserID,
			SessionID:    v.SessionID,
			RefreshToken: v.RotatedToken,
		})
	case service.Rejected:
		logger.Debugf("internal authenticate rejected: %s", v.Reason)
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
}
