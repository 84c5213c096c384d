package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestIdentityFromVerifiedToken(t *testing.T) {
	tok := sign(t, jwt.MapClaims{"user_id": 17, "exp": time.Now().Add(time.Hour).Unix()}, "s3cret")
	id, err := IdentityFromToken(tok, "s3cret")
	require.NoError(t, err)
	require.Equal(t, int64(17), id.DriverID)
	require.Equal(t, tok, id.Token)
}

func TestIdentityWrongSecret(t *testing.T) {
	tok := sign(t, jwt.MapClaims{"user_id": 17}, "s3cret")
	_, err := IdentityFromToken(tok, "other")
	require.Error(t, err)
}

func TestIdentityUnverifiedSubject(t *testing.T) {
	tok := sign(t, jwt.MapClaims{"sub": "23"}, "whatever")
	id, err := IdentityFromToken(tok, "")
	require.NoError(t, err)
	require.Equal(t, int64(23), id.DriverID)
}

func TestIdentityMissingClaim(t *testing.T) {
	tok := sign(t, jwt.MapClaims{"role": "driver"}, "k")
	_, err := IdentityFromToken(tok, "k")
	require.ErrorIs(t, err, ErrNoDriverID)
}

func TestIdentityGarbage(t *testing.T) {
	_, err := IdentityFromToken("not-a-token", "")
	require.Error(t, err)
}
