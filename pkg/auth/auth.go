package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Package auth verifies the short-lived bearer tokens that admit WebSocket
// connections. Tokens are HMAC-SHA256 signed with a shared secret and carry
// the user id, username and group memberships. Verification is a pure
// function called once per connection at admission; expiry is not re-checked
// afterwards.

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
)

// Claims is the verified token payload. Immutable for the life of a
// connection.
type Claims struct {
	UserID   uint64   `json:"user_id"`
	Username string   `json:"username"`
	Groups   []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// InGroup reports whether the claims carry the given group.
func (c *Claims) InGroup(name string) bool {
	for _, g := range c.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// InAnyGroup reports whether the claims carry at least one of the given
// groups.
func (c *Claims) InAnyGroup(names ...string) bool {
	for _, name := range names {
		if c.InGroup(name) {
			return true
		}
	}
	return false
}

// Verify decodes and validates a token against the shared secret. Errors are
// collapsed into the three admission failure kinds; callers close the socket
// with a policy-violation code on any of them.
func Verify(secret []byte, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}
	return claims, nil
}

// Sign mints a token for the given identity, valid for ttl. Used by the
// token command and tests; the production issuer lives elsewhere.
func Sign(secret []byte, userID uint64, username string, groups []string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Groups:   groups,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
