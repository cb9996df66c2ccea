package service

import (
	"context"
	"errors"

	"github.com/jobportal/internal/logger"
)

// ErrSocketRejected is the single error a refused socket handshake gets.
var ErrSocketRejected = errors.New("socket authentication failed")

// SocketGate authenticates socket handshakes. A handshake has no response channel for a rotated
// token, so a rotation is applied to the session but the new token is dropped.
type SocketGate struct {
	manager *SessionManager
}

func NewSocketGate(m *SessionManager) *SocketGate {
	return &SocketGate{manager: m}
}

// Admit returns the user id the connection belongs to. Any rejection, and any failure to reach
// a verdict, yields ErrSocketRejected.
func (g *SocketGate) Admit(ctx context.Context, tok string) (string, error) {
	if tok == "" {
		return "", ErrSocketRejected
	}
	res, err := g.manager.Authenticate(ctx, tok)
	if err != nil {
		logger.Errorf("socket auth: %v", err)
		return "", ErrSocketRejected
	}
	switch r := res.(type) {
	case Authenticated:
		return r.UserID, nil
	case Rejected:
		logger.Debugf("socket rejected: %s", r.Reason)
		return "", ErrSocketRejected
	default:
		return "", ErrSocketRejected
	}
}
