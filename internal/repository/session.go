package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/model"
)

const sessionCols = `id, user_id, encrypted_material, created_at, updated_at`

// SessionRepository is the only writer of the sessions table.
type SessionRepository struct {
	db  DB
	now func() time.Time
}

func NewSessionRepository(db DB, opts ...Option) *SessionRepository {
	o := buildOptions(opts)
	return &SessionRepository{db: db, now: o.now}
}

func scanSession(s rowScanner, sess *model.Session) error {
	return s.Scan(&sess.ID, &sess.UserID, &sess.EncryptedMaterial, &sess.CreatedAt, &sess.UpdatedAt)
}

// Create inserts s, stamping CreatedAt and UpdatedAt with the server clock.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	defer logger.DeferLogDuration("session.Create", time.Now())()
	now := r.now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (`+sessionCols+`) VALUES ($1, $2, $3, $4, $4)`,
		s.ID, s.UserID, s.EncryptedMaterial, now,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	defer logger.DeferLogDuration("session.FindByID", time.Now())()
	if !validID(id) {
		return nil, ErrNotFound
	}
	s := &model.Session{}
	row := r.db.QueryRow(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id)
	if err := scanSession(row, s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionRepo.FindByID: %w", err)
	}
	return s, nil
}

// FindReusable returns the most recently refreshed session of userID whose inactivity is still
// under window.
func (r *SessionRepository) FindReusable(ctx context.Context, userID string, window time.Duration) (*model.Session, error) {
	defer logger.DeferLogDuration("session.FindReusable", time.Now())()
	if !validID(userID) {
		return nil, ErrNotFound
	}
	s := &model.Session{}
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE user_id = $1 AND updated_at > $2
		 ORDER BY updated_at DESC LIMIT 1`,
		userID, r.now().UTC().Add(-window),
	)
	if err := scanSession(row, s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionRepo.FindReusable: %w", err)
	}
	return s, nil
}

// Touch replaces the material of session id and advances updated_at. It returns the new
// updated_at, or ErrNotFound if the row was deleted in the meantime.
func (r *SessionRepository) Touch(ctx context.Context, id, material string) (time.Time, error) {
	defer logger.DeferLogDuration("session.Touch", time.Now())()
	if !validID(id) {
		return time.Time{}, ErrNotFound
	}
	now := r.now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET encrypted_material = $1, updated_at = $2 WHERE id = $3`,
		material, now, id,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("sessionRepo.Touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return time.Time{}, ErrNotFound
	}
	return now, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	defer logger.DeferLogDuration("session.Delete", time.Now())()
	if !validID(id) {
		return false, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("sessionRepo.Delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SessionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	defer logger.DeferLogDuration("session.DeleteByUserID", time.Now())()
	if !validID(userID) {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("sessionRepo.DeleteByUserID: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByUserID returns the sessions of userID, most recently refreshed first. Material is not
// loaded.
func (r *SessionRepository) ListByUserID(ctx context.Context, userID string) ([]model.Session, error) {
	defer logger.DeferLogDuration("session.ListByUserID", time.Now())()
	if !validID(userID) {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, created_at, updated_at
		 FROM sessions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListByUserID: %w", err)
	}
	defer rows.Close()
	list := make([]model.Session, 0)
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sessionRepo.ListByUserID scan: %w", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.ListByUserID rows: %w", err)
	}
	return list, nil
}

// DeleteOlderThan purges sessions whose last refresh is at or before cutoff.
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	defer logger.DeferLogDuration("session.DeleteOlderThan", time.Now())()
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE updated_at <= $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sessionRepo.DeleteOlderThan: %w", err)
	}
	return tag.RowsAffected(), nil
}
