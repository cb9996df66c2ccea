package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/model"
	"github.com/jobportal/internal/repository"
	"github.com/jobportal/internal/secret"
	"github.com/jobportal/internal/storage"
	"github.com/jobportal/internal/token"
)

// SessionStore persists session rows. *repository.SessionRepository implements it; absent rows
// are reported as repository.ErrNotFound.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindReusable(ctx context.Context, userID string, window time.Duration) (*model.Session, error)
	Touch(ctx context.Context, id, material string) (time.Time, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	ListByUserID(ctx context.Context, userID string) ([]model.Session, error)
}

// PrincipalLookup resolves a user id to its principal, repository.ErrNotFound when absent.
type PrincipalLookup interface {
	GetPrincipal(ctx context.Context, userID string) (model.Principal, error)
}

// Policy holds the two inactivity thresholds, both measured from the session's last refresh.
type Policy struct {
	// RefreshWindow: older sessions get a new token on their next use.
	RefreshWindow time.Duration
	// HardExpiration: older sessions are deleted on their next use.
	HardExpiration time.Duration
}

func (p Policy) Validate() error {
	if p.RefreshWindow <= 0 || p.HardExpiration <= p.RefreshWindow {
		return fmt.Errorf("%w: need 0 < refresh window (%v) < hard expiration (%v)",
			ErrInvalidPolicy, p.RefreshWindow, p.HardExpiration)
	}
	return nil
}

// Session is what a successful login hands to the client.
type Session struct {
	UserID    string
	SessionID string
	Token     string
}

type ManagerOption func(*SessionManager)

// WithClock sets the clock used for age comparisons.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *SessionManager) { m.now = now }
}

func WithCredentialVerifier(v CredentialVerifier) ManagerOption {
	return func(m *SessionManager) { m.verifier = v }
}

// WithLoginLimiter caps Attempt calls per username to limit per window.
func WithLoginLimiter(l storage.RateLimiter, limit int, window time.Duration) ManagerOption {
	return func(m *SessionManager) {
		m.limiter, m.loginLimit, m.loginWindow = l, limit, window
	}
}

// SessionManager decides what a presented token is worth and owns the login, refresh and
// expiration policy.
type SessionManager struct {
	store      SessionStore
	principals PrincipalLookup
	codec      *token.Codec
	box        *secret.Box
	policy     Policy
	now        func() time.Time

	verifier    CredentialVerifier
	limiter     storage.RateLimiter
	loginLimit  int
	loginWindow time.Duration
}

func NewSessionManager(
	store SessionStore,
	principals PrincipalLookup,
	codec *token.Codec,
	box *secret.Box,
	policy Policy,
	opts ...ManagerOption,
) (*SessionManager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	m := &SessionManager{
		store:      store,
		principals: principals,
		codec:      codec,
		box:        box,
		policy:     policy,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *SessionManager) Policy() Policy { return m.policy }

// Authenticate evaluates a presented token. Rejections are returned as Rejected with a nil
// error; a non-nil error means no verdict could be reached (store failures wrap ErrUnavailable).
func (m *SessionManager) Authenticate(ctx context.Context, presented string) (Result, error) {
	sessionID, err := m.codec.Verify(presented)
	if err != nil {
		return Rejected{Reason: ReasonMalformed}, nil
	}

	sess, err := m.store.FindByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return Rejected{Reason: ReasonUnknown}, nil
	}
	if err != nil {
		return nil, unavailable("find session", err)
	}

	p, err := m.principals.GetPrincipal(ctx, sess.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return Rejected{Reason: ReasonPrincipalGone}, nil
	}
	if err != nil {
		return nil, unavailable("lookup principal", err)
	}
	if p.Disabled {
		return Rejected{Reason: ReasonPrincipalGone}, nil
	}

	stored, err := m.box.Decrypt(sess.EncryptedMaterial)
	if err != nil {
		logger.Warnf("session %s: stored material unreadable", logger.MaskID(sess.ID))
		return Rejected{Reason: ReasonUnknown}, nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return Rejected{Reason: ReasonMaterialMismatch}, nil
	}

	age := sess.Age(m.now())
	if age >= m.policy.HardExpiration {
		if _, err := m.store.Delete(ctx, sess.ID); err != nil {
			return nil, unavailable("delete expired session", err)
		}
		logger.Debugf("session %s hard-expired after %v", logger.MaskID(sess.ID), age.Truncate(time.Second))
		return Rejected{Reason: ReasonHardExpired}, nil
	}

	if age >= m.policy.RefreshWindow {
		rotated, err := m.rotate(ctx, sess.ID)
		if errors.Is(err, repository.ErrNotFound) {
			// Deleted between the read and the rotation.
			return Rejected{Reason: ReasonUnknown}, nil
		}
		if err != nil {
			return nil, err
		}
		logger.Debugf("session %s rotated", logger.MaskID(sess.ID))
		return Authenticated{UserID: sess.UserID, SessionID: sess.ID, RotatedToken: rotated}, nil
	}

	return Authenticated{UserID: sess.UserID, SessionID: sess.ID}, nil
}

// Login issues a token for userID. Unless forceNew is set, a session refreshed within the
// refresh window is reused (rotated) instead of creating another row.
func (m *SessionManager) Login(ctx context.Context, userID string, forceNew bool) (*Session, error) {
	p, err := m.principals.GetPrincipal(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPrincipalGone
	}
	if err != nil {
		return nil, unavailable("lookup principal", err)
	}
	if p.Disabled {
		return nil, ErrPrincipalGone
	}

	if !forceNew {
		sess, err := m.store.FindReusable(ctx, userID, m.policy.RefreshWindow)
		switch {
		case err == nil:
			tok, err := m.rotate(ctx, sess.ID)
			if err == nil {
				return &Session{UserID: userID, SessionID: sess.ID, Token: tok}, nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
		case !errors.Is(err, repository.ErrNotFound):
			return nil, unavailable("find reusable session", err)
		}
	}

	sess := &model.Session{ID: uuid.NewString(), UserID: userID}
	tok, material, err := m.mint(sess.ID)
	if err != nil {
		return nil, err
	}
	sess.EncryptedMaterial = material
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, unavailable("create session", err)
	}
	logger.Infof("session %s created for user %s", logger.MaskID(sess.ID), logger.MaskID(userID))
	return &Session{UserID: userID, SessionID: sess.ID, Token: tok}, nil
}

// Attempt validates credentials and logs the user in.
func (m *SessionManager) Attempt(ctx context.Context, c Credentials) (*Session, error) {
	if m.verifier == nil {
		return nil, errors.New("service.Attempt: no credential verifier configured")
	}
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	limitKey := fmt.Sprintf("%d:%s", c.UserTypeID, c.Username)
	if m.limiter != nil {
		ok, err := m.limiter.Allow(ctx, limitKey, m.loginLimit, m.loginWindow)
		if err != nil {
			return nil, unavailable("login rate limit", err)
		}
		if !ok {
			return nil, ErrRateLimited
		}
	}
	userID, err := m.verifier.Verify(ctx, c)
	if err != nil {
		return nil, err
	}
	s, err := m.Login(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if m.limiter != nil {
		if err := m.limiter.Reset(ctx, limitKey); err != nil {
			logger.Warnf("reset login limit: %v", err)
		}
	}
	return s, nil
}

func (m *SessionManager) Logout(ctx context.Context, sessionID string) error {
	if _, err := m.store.Delete(ctx, sessionID); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

// RevokeUser deletes every session of userID and returns how many there were.
func (m *SessionManager) RevokeUser(ctx context.Context, userID string) (int64, error) {
	n, err := m.store.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, unavailable("revoke sessions", err)
	}
	logger.Infof("revoked %d sessions of user %s", n, logger.MaskID(userID))
	return n, nil
}

func (m *SessionManager) Sessions(ctx context.Context, userID string) ([]model.Session, error) {
	list, err := m.store.ListByUserID(ctx, userID)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	return list, nil
}

// mint signs a fresh token for sessionID and returns it with its encrypted form.
func (m *SessionManager) mint(sessionID string) (tok, material string, err error) {
	tok, err = m.codec.Sign(sessionID, uuid.NewString())
	if err != nil {
		return "", "", err
	}
	material, err = m.box.Encrypt(tok)
	if err != nil {
		return "", "", err
	}
	return tok, material, nil
}

// rotate replaces the material of an existing session. repository.ErrNotFound is returned
// unwrapped when the row is gone.
func (m *SessionManager) rotate(ctx context.Context, sessionID string) (string, error) {
	tok, material, err := m.mint(sessionID)
	if err != nil {
		return "", err
	}
	if _, err := m.store.Touch(ctx, sessionID, material); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
		return "", unavailable("touch session", err)
	}
	return tok, nil
}
