package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/service"
	"github.com/jobportal/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	gate           *service.SocketGate
	allowedOrigins string
	upgrader       websocket.Upgrader
}

// NewWSHandler creates the socket endpoint. allowedOrigins uses the CORS format: comma
// separated, or "*".
func NewWSHandler(hub *ws.Hub, gate *service.SocketGate, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, gate: gate, allowedOrigins: strings.TrimSpace(allowedOrigins)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS authenticates the handshake before upgrading; a refused handshake never joins a room.
// The origin is checked first because Admit may rotate the session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	userID, err := h.gate.Admit(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
