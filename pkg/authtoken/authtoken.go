// Package authtoken inspects bearer tokens for diagnostics. Control-plane
// tokens are opaque to the transport layer; when one happens to be a JWT,
// the CLI uses its expiry claim to warn before requests start failing with
// 401s. Nothing here verifies signatures.
package authtoken

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry returns the expiry time embedded in a JWT bearer token. It reports
// false for opaque (non-JWT) tokens and for JWTs without an exp claim.
func Expiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

// ExpiresWithin reports whether a JWT bearer token expires within d. Opaque
// tokens and JWTs without an expiry report false.
func ExpiresWithin(token string, d time.Duration) bool {
	exp, ok := Expiry(token)
	if !ok {
		return false
	}

	return time.Until(exp) < d
}
