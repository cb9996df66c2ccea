package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/model"
	"github.com/jobportal/internal/repository"
)

// UserStore is the user persistence AccountService needs; *repository.UserRepository
// implements it.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	ToggleDisabled(ctx context.Context, id string) (bool, error)
}

// PrincipalInvalidator drops cached principal state; *PrincipalDirectory implements it.
type PrincipalInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// AccountService owns the user-facing operations around sessions: registration, profile and
// administrative disabling.
type AccountService struct {
	users      UserStore
	sessions   *SessionManager
	principals PrincipalInvalidator
	bcryptCost int
}

func NewAccountService(users UserStore, sessions *SessionManager, principals PrincipalInvalidator, bcryptCost int) *AccountService {
	return &AccountService{users: users, sessions: sessions, principals: principals, bcryptCost: bcryptCost}
}

type RegisterRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Mobile     string `json:"mobile"`
	Password   string `json:"password"`
	UserTypeID int    `json:"user_type_id"`
}

func (r RegisterRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "" || utf8.RuneCountInString(r.Name) > maxNameLen:
		return fmt.Errorf("%w: name", ErrInvalidRequest)
	case len(r.Password) < minPasswordLen:
		return fmt.Errorf("%w: password too short", ErrInvalidRequest)
	case r.UserTypeID != model.UserTypeEmployee && r.UserTypeID != model.UserTypeInstitute:
		return fmt.Errorf("%w: user type", ErrInvalidRequest)
	case !IsMobile(r.Mobile):
		return fmt.Errorf("%w: mobile", ErrInvalidRequest)
	case r.Email != "" && !emailRegexp.MatchString(r.Email):
		return fmt.Errorf("%w: email", ErrInvalidRequest)
	}
	return nil
}

// Register creates the user and opens a fresh session for it. Administrators cannot
// self-register.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*model.User, *Session, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Mobile = strings.TrimSpace(req.Mobile)
	if err := req.validate(); err != nil {
		return nil, nil, err
	}
	hash, err := HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, nil, err
	}
	u := &model.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		Mobile:       TruncateMobile(req.Mobile),
		UserTypeID:   req.UserTypeID,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, ErrUserExists
		}
		return nil, nil, unavailable("create user", err)
	}
	logger.Infof("user %s registered (type %d)", logger.MaskID(u.ID), u.UserTypeID)

	sess, err := s.sessions.Login(ctx, u.ID, true)
	if err != nil {
		return nil, nil, err
	}
	return u, sess, nil
}

func (s *AccountService) Profile(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPrincipalGone
	}
	if err != nil {
		return nil, unavailable("get user", err)
	}
	return u, nil
}

// ToggleDisabled flips the disabled flag of userID and returns the new value. Session rows are
// left alone: the principal gate rejects them while the user is disabled, and they work again
// if the user is re-enabled before they expire. If the cached principal cannot be dropped the
// new flag is still returned, together with an ErrUnavailable error.
func (s *AccountService) ToggleDisabled(ctx context.Context, userID string) (bool, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, ErrPrincipalGone
	}
	if err != nil {
		return false, unavailable("get user", err)
	}
	if u.UserTypeID == model.UserTypeAdministrator {
		return false, ErrProtectedUser
	}
	disabled, err := s.users.ToggleDisabled(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, ErrPrincipalGone
	}
	if err != nil {
		return false, unavailable("toggle disabled", err)
	}
	if s.principals != nil {
		if err := s.principals.Invalidate(ctx, userID); err != nil {
			return disabled, unavailable("invalidate principal", err)
		}
	}
	logger.Infof("user %s disabled=%v", logger.MaskID(userID), disabled)
	return disabled, nil
}
