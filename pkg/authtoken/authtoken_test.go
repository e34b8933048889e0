package authtoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)

	return token
}

func TestExpiryReadsExpClaim(t *testing.T) {
	at := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(at),
	})

	exp, ok := Expiry(token)
	require.True(t, ok)
	assert.True(t, exp.Equal(at))
}

func TestExpiryFalseForOpaqueToken(t *testing.T) {
	_, ok := Expiry("pfk_4a1b2c3d4e5f")
	assert.False(t, ok)
}

func TestExpiryFalseWithoutExpClaim(t *testing.T) {
	token := signedToken(t, jwt.RegisteredClaims{Subject: "fleetctl"})

	_, ok := Expiry(token)
	assert.False(t, ok)
}

func TestExpiresWithin(t *testing.T) {
	soon := signedToken(t, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	later := signedToken(t, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	assert.True(t, ExpiresWithin(soon, 5*time.Minute))
	assert.False(t, ExpiresWithin(later, 5*time.Minute))
	assert.False(t, ExpiresWithin("opaque", 5*time.Minute))
}
