package authstore

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	issued := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	expires := issued.Add(8 * time.Hour)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "monitor@site-12",
		Issuer:    "clinops-auth",
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	}).SignedString([]byte("not-the-real-key"))
	require.NoError(t, err)

	claims, err := Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, "monitor@site-12", claims.Subject)
	assert.Equal(t, "clinops-auth", claims.Issuer)
	assert.True(t, issued.Equal(claims.IssuedAt))
	assert.True(t, expires.Equal(claims.ExpiresAt))

	assert.False(t, claims.Expired(expires.Add(-time.Minute)))
	assert.True(t, claims.Expired(expires))
}

func TestInspect_NoExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "svc"}).SignedString([]byte("k"))
	require.NoError(t, err)

	claims, err := Inspect(token)
	require.NoError(t, err)
	assert.True(t, claims.ExpiresAt.IsZero())
	assert.False(t, claims.Expired(time.Now()))
}

func TestInspect_Opaque(t *testing.T) {
	_, err := Inspect("opaque-session-token")
	assert.Error(t, err)
}
