package hass

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo describes a long-lived access token without verifying it.
type TokenInfo struct {
	JWT       bool
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry before now.
func (t TokenInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// InspectToken decodes the claims of a hub access token.
//
// Home Assistant long-lived tokens are JWTs signed with a key only the hub
// knows, so the signature is not checked; the claims are used for logging
// and early expiry warnings only. Tokens that are not JWTs yield JWT=false.
func InspectToken(token string) TokenInfo {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}
	}

	info := TokenInfo{JWT: true, Issuer: claims.Issuer}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info
}
