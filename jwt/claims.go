package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned by Inspect when the token is not a decodable JWT.
// Opaque access tokens are legal; callers should treat this as "no claims".
var ErrNotJWT = errors.New("access token is not a JWT")

// Claims are the access-token claims the dashboard cares about.
type Claims struct {
	UserID     string `json:"uid,omitempty"`
	Email      string `json:"email,omitempty"`
	Generation uint64 `json:"gen,omitempty"`
	jwt.RegisteredClaims
}

// Inspect decodes the claims of tokenStr without verifying its signature.
// The result is for display only.
func Inspect(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrNotJWT
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, errors.Join(ErrNotJWT, err)
	}
	return claims, nil
}

// SubjectID returns the user id, falling back from "uid" to "sub".
func (c *Claims) SubjectID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// ExpiresIn returns the time left before expiry at now. ok is false when the
// token carries no exp claim.
func (c *Claims) ExpiresIn(now time.Time) (d time.Duration, ok bool) {
	if c.ExpiresAt == nil {
		return 0, false
	}
	return c.ExpiresAt.Time.Sub(now), true
}

// Expired reports whether the exp claim is at or before now. Tokens without
// exp never report expired; the server remains the authority.
func (c *Claims) Expired(now time.Time) bool {
	d, ok := c.ExpiresIn(now)
	return ok && d <= 0
}
