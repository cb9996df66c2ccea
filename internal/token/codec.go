// Package token signs and verifies bearer tokens. A token carries only the id of the session
// row it is bound to ("keyid") and a per-mint nonce; it has no expiry of its own. Lifetime is
// decided from the session row, so deleting the row revokes the token immediately.
package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLen is the shortest signing secret NewCodec accepts.
const MinSecretLen = 32

var (
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrWeakSecret       = errors.New("token signing secret too short")
)

// Claims is the full claim set of a bearer token.
type Claims struct {
	KeyID string `json:"keyid"`
	jwt.RegisteredClaims
}

// Codec is an HS256 signer/verifier. It is safe for concurrent use and immutable after NewCodec.
type Codec struct {
	secret []byte
	parser *jwt.Parser
}

func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{
		secret: key,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Sign binds a token to sessionID. The same (sessionID, nonce) pair always yields the same
// string; callers pass a fresh nonce whenever they need a distinct token.
func (c *Codec) Sign(sessionID, nonce string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("token.Sign: empty session id")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		KeyID:            sessionID,
		RegisteredClaims: jwt.RegisteredClaims{ID: nonce},
	})
	s, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token.Sign: %w", err)
	}
	return s, nil
}

// Verify checks the signature and returns the embedded session id.
func (c *Codec) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMalformed
	}
	claims := &Claims{}
	t, err := c.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) && t != nil && t.Method == jwt.SigningMethodHS256 {
			return "", ErrInvalidSignature
		}
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !t.Valid || claims.KeyID == "" {
		return "", ErrMalformed
	}
	return claims.KeyID, nil
}
