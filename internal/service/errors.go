package service

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps every failure of a backing store. It is never an authentication
	// verdict: callers answer with a retryable server error.
	ErrUnavailable = errors.New("auth backend unavailable")

	ErrPrincipalGone      = errors.New("user not found or disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidPolicy      = errors.New("invalid session policy")
	ErrUserExists         = errors.New("user already exists")
	ErrProtectedUser      = errors.New("user cannot be disabled")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
