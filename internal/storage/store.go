// Package storage defines the shared volatile state of the auth service: login rate limits,
// the principal cache and cross-instance socket fan-out.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
package storage

import (
	"context"
	"time"

	"github.com/jobportal/internal/model"
)

type RateLimiter interface {
	// Allow counts one hit against key and reports whether the count is still within limit for
	// the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}

type PrincipalCache interface {
	// GetPrincipal reports ok=false on a cache miss.
	GetPrincipal(ctx context.Context, userID string) (p model.Principal, ok bool, err error)
	SetPrincipal(ctx context.Context, p model.Principal, ttl time.Duration) error
	DeletePrincipal(ctx context.Context, userID string) error
}

type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is active; fn is then called from a background
	// goroutine for every message on channel until ctx is cancelled.
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error
}

type Store interface {
	RateLimiter
	PrincipalCache
	Broadcaster
	Close() error
}
