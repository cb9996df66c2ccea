package service

import (
	"context"
	"time"

	"github.com/jobportal/internal/logger"
)

// ExpiredSessionDeleter removes rows last refreshed before cutoff; *repository.SessionRepository
// implements it.
type ExpiredSessionDeleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeExpired deletes every session past the hard expiration. Authenticate deletes such rows
// lazily; this catches the ones nobody presents again.
func (m *SessionManager) PurgeExpired(ctx context.Context, store ExpiredSessionDeleter) (int64, error) {
	n, err := store.DeleteOlderThan(ctx, m.now().Add(-m.policy.HardExpiration))
	if err != nil {
		return 0, unavailable("purge sessions", err)
	}
	if n > 0 {
		logger.Infof("purged %d expired sessions", n)
	}
	return n, nil
}

// RunPurger calls PurgeExpired every interval until ctx is cancelled.
func (m *SessionManager) RunPurger(ctx context.Context, store ExpiredSessionDeleter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.PurgeExpired(ctx, store); err != nil {
				logger.Errorf("session purge: %v", err)
			}
		}
	}
}
