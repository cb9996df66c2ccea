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

const userCols = `id, name, COALESCE(email,''), COALESCE(mobile,''), user_type_id, password_hash, disabled, created_at, updated_at`

type UserRepository struct {
	db  DB
	now func() time.Time
}

func NewUserRepository(db DB, opts ...Option) *UserRepository {
	o := buildOptions(opts)
	return &UserRepository{db: db, now: o.now}
}

func scanUser(s rowScanner, u *model.User) error {
	return s.Scan(&u.ID, &u.Name, &u.Email, &u.Mobile, &u.UserTypeID, &u.PasswordHash, &u.Disabled, &u.CreatedAt, &u.UpdatedAt)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts u. A taken email or mobile yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	now := r.now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, name, email, mobile, user_type_id, password_hash, disabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		u.ID, u.Name, nullIfEmpty(u.Email), nullIfEmpty(u.Mobile), u.UserTypeID, u.PasswordHash, u.Disabled, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	if !validID(id) {
		return nil, ErrNotFound
	}
	u := &model.User{}
	row := r.db.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// GetPrincipal loads only the columns the authentication gate looks at.
func (r *UserRepository) GetPrincipal(ctx context.Context, id string) (model.Principal, error) {
	defer logger.DeferLogDuration("user.GetPrincipal", time.Now())()
	if !validID(id) {
		return model.Principal{}, ErrNotFound
	}
	var p model.Principal
	err := r.db.QueryRow(ctx, `SELECT id, user_type_id, disabled FROM users WHERE id = $1`, id).
		Scan(&p.ID, &p.UserTypeID, &p.Disabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Principal{}, ErrNotFound
		}
		return model.Principal{}, fmt.Errorf("userRepo.GetPrincipal: %w", err)
	}
	return p, nil
}

// GetByEmail and GetByMobile scope the lookup to a user type: the same address may be registered
// once per type.
func (r *UserRepository) GetByEmail(ctx context.Context, email string, userTypeID int) (*model.User, error) {
	return r.getBy(ctx, "user.GetByEmail", `email`, email, userTypeID)
}

func (r *UserRepository) GetByMobile(ctx context.Context, mobile string, userTypeID int) (*model.User, error) {
	return r.getBy(ctx, "user.GetByMobile", `mobile`, mobile, userTypeID)
}

func (r *UserRepository) getBy(ctx context.Context, op, column, value string, userTypeID int) (*model.User, error) {
	defer logger.DeferLogDuration(op, time.Now())()
	u := &model.User{}
	row := r.db.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE `+column+` = $1 AND user_type_id = $2`,
		value, userTypeID,
	)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.%s: %w", column, err)
	}
	return u, nil
}

// ToggleDisabled flips users.disabled and returns the new value.
func (r *UserRepository) ToggleDisabled(ctx context.Context, id string) (bool, error) {
	defer logger.DeferLogDuration("user.ToggleDisabled", time.Now())()
	if !validID(id) {
		return false, ErrNotFound
	}
	var disabled bool
	err := r.db.QueryRow(ctx,
		`UPDATE users SET disabled = NOT disabled, updated_at = $1 WHERE id = $2 RETURNING disabled`,
		r.now().UTC(), id,
	).Scan(&disabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("userRepo.ToggleDisabled: %w", err)
	}
	return disabled, nil
}
