package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/sorting-kiosk/internal/domain"
)

// ErrOpaqueToken is returned when a credential is not a readable JWT.
var ErrOpaqueToken = errors.New("credential is not a JWT")

// Claims describes the JWT payload fields the client reads.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenInfo is what the client can learn from its own credential.
type TokenInfo struct {
	Subject   string
	ExpiresAt *time.Time
	Role      *domain.Role
}

// InspectToken reads claims without verifying the signature. The client never
// holds the signing key; the result is only a hint for expiry and role caching.
func InspectToken(tokenStr string) (*TokenInfo, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, errors.Join(ErrOpaqueToken, err)
	}

	info := &TokenInfo{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		info.ExpiresAt = &exp
	}
	if role, ok := domain.ParseRole(claims.Role); ok {
		info.Role = &role
	}
	return info, nil
}

// RemainingTTL returns how long the token stays valid relative to now, or zero
// when the token carries no usable expiry.
func (i *TokenInfo) RemainingTTL(now time.Time) time.Duration {
	if i == nil || i.ExpiresAt == nil {
		return 0
	}
	ttl := i.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return 0
	}
	return ttl
}
