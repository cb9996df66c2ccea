package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jobportal/internal/model"
	"github.com/jobportal/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 8
	maxNameLen     = 190
	grantPassword  = "password"
)

var (
	mobileRegexp = regexp.MustCompile(`^(\+?88)?01\d{9}$`)
	emailRegexp  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	countryCode  = regexp.MustCompile(`^\+?880`)
)

// IsMobile reports whether username looks like a local mobile number, with or without the 88
// country prefix.
func IsMobile(username string) bool {
	return mobileRegexp.MatchString(username)
}

// TruncateMobile strips the country prefix so mobiles are stored and looked up as 01XXXXXXXXX.
func TruncateMobile(mobile string) string {
	if !countryCode.MatchString(mobile) {
		return mobile
	}
	if strings.HasPrefix(mobile, "+") {
		return mobile[3:]
	}
	return mobile[2:]
}

// Credentials is a password grant request. Username is an email or a mobile number.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	UserTypeID int    `json:"user_type_id"`
	GrantType  string `json:"grant_type"`
}

func (c Credentials) Normalize() Credentials {
	c.Username = strings.TrimSpace(c.Username)
	if !IsMobile(c.Username) {
		c.Username = strings.ToLower(c.Username)
	}
	return c
}

func (c Credentials) Validate() error {
	switch {
	case c.Username == "":
		return fmt.Errorf("%w: username required", ErrInvalidRequest)
	case len(c.Password) < minPasswordLen:
		return fmt.Errorf("%w: password too short", ErrInvalidRequest)
	case !model.ValidUserType(c.UserTypeID):
		return fmt.Errorf("%w: unknown user type", ErrInvalidRequest)
	case c.GrantType != "" && c.GrantType != grantPassword:
		return fmt.Errorf("%w: unsupported grant type", ErrInvalidRequest)
	}
	if IsMobile(c.Username) {
		if n := len(c.Username); n < 11 || n > 14 {
			return fmt.Errorf("%w: bad mobile", ErrInvalidRequest)
		}
		return nil
	}
	if !emailRegexp.MatchString(c.Username) {
		return fmt.Errorf("%w: bad email", ErrInvalidRequest)
	}
	return nil
}

// CredentialVerifier resolves credentials to a user id, ErrInvalidCredentials when they do not
// match any user.
type CredentialVerifier interface {
	Verify(ctx context.Context, c Credentials) (userID string, err error)
}

// UserFinder is the user lookup BcryptVerifier needs; *repository.UserRepository implements it.
type UserFinder interface {
	GetByEmail(ctx context.Context, email string, userTypeID int) (*model.User, error)
	GetByMobile(ctx context.Context, mobile string, userTypeID int) (*model.User, error)
}

// BcryptVerifier checks passwords against bcrypt hashes in the users table.
type BcryptVerifier struct {
	users UserFinder
}

func NewBcryptVerifier(users UserFinder) *BcryptVerifier {
	return &BcryptVerifier{users: users}
}

func (v *BcryptVerifier) Verify(ctx context.Context, c Credentials) (string, error) {
	var (
		u   *model.User
		err error
	)
	if IsMobile(c.Username) {
		u, err = v.users.GetByMobile(ctx, TruncateMobile(c.Username), c.UserTypeID)
	} else {
		u, err = v.users.GetByEmail(ctx, c.Username, c.UserTypeID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", unavailable("lookup user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(c.Password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return u.ID, nil
}

// HashPassword hashes with the given bcrypt cost, falling back to bcrypt.DefaultCost when cost is
// out of range.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}
