package oauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssuedAt reads the iat claim from a JWT access token without verifying
// its signature. Tokens the provider issues as opaque strings (Bitbucket)
// report ok=false and callers fall back to the receive time.
func IssuedAt(accessToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return time.Time{}, false
	}
	return iat.Time, true
}
