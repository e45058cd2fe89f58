package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "shared-secret"

func signJWT(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifyJWT(t *testing.T) {
	token := signJWT(t, jwt.MapClaims{
		"sub": "svc-account",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, jwtSecret)

	subject, err := VerifyJWT(token, jwtSecret)
	require.NoError(t, err)
	assert.Equal(t, "svc-account", subject)
}

func TestVerifyJWTWrongSecret(t *testing.T) {
	token := signJWT(t, jwt.MapClaims{"sub": "x"}, jwt.SigningMethodHS256, "other-secret")
	_, err := VerifyJWT(token, jwtSecret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestVerifyJWTExpired(t *testing.T) {
	token := signJWT(t, jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, jwt.SigningMethodHS256, jwtSecret)
	_, err := VerifyJWT(token, jwtSecret)
	require.Error(t, err)
}

func TestVerifyJWTMissingSubject(t *testing.T) {
	token := signJWT(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, jwtSecret)
	_, err := VerifyJWT(token, jwtSecret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no subject")
}

func TestVerifyJWTRejectsUnsignedToken(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = VerifyJWT(token, jwtSecret)
	require.Error(t, err)
}
