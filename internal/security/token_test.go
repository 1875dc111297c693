package security_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/security"
)

func TestTokenService_UserID(t *testing.T) {
	tokens := security.NewTokenService("secret")

	tok, err := tokens.CreateWithTTL(42, time.Minute)
	require.NoError(t, err)
	id, err := tokens.UserID(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	expired, err := tokens.CreateWithTTL(42, -time.Minute)
	require.NoError(t, err)
	_, err = tokens.UserID(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = security.NewTokenService("other").UserID(tok)
	assert.ErrorIs(t, err, jwt.ErrSignatureInvalid)
}

func TestTokenService_BadSubject(t *testing.T) {
	tokens := security.NewTokenService("secret")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = tokens.UserID(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidClaims)
}
