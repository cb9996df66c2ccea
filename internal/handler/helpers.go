package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/service"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

// writeServiceError maps service errors onto the HTTP contract. op names the failing call in logs.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrUserExists):
		writeError(w, http.StatusUnprocessableEntity, "invalid_request")
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, service.ErrPrincipalGone):
		writeError(w, http.StatusForbidden, "user disabled")
	case errors.Is(err, service.ErrProtectedUser):
		writeError(w, http.StatusForbidden, "user cannot be disabled")
	case errors.Is(err, service.ErrUnavailable):
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
