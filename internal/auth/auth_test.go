package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelroot/dispatch-core/internal/auth"
)

func signToken(t *testing.T, secret string, claims *auth.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerify_RoundTrip(t *testing.T) {
	staffID, tenantID := uuid.New(), uuid.New()
	signed := signToken(t, "shared-secret", &auth.Claims{
		StaffID:  staffID,
		TenantID: tenantID,
		Role:     "dispatcher",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := auth.NewVerifier("shared-secret").Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, staffID, claims.StaffID)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, "dispatcher", claims.Role)
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	signed := signToken(t, "secret-a", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	_, err := auth.NewVerifier("secret-b").Verify(signed)
	assert.Error(t, err)
}

func TestVerify_RejectsExpired(t *testing.T) {
	signed := signToken(t, "shared-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	_, err := auth.NewVerifier("shared-secret").Verify(signed)
	assert.Error(t, err)
}

func TestRoleHelpers(t *testing.T) {
	assert.True(t, auth.IsDispatcher("admin"))
	assert.True(t, auth.IsDispatcher("dispatcher"))
	assert.False(t, auth.IsDispatcher("tech"))

	a, b := uuid.New(), uuid.New()
	assert.True(t, auth.CanAccessTenant(a, a))
	assert.False(t, auth.CanAccessTenant(a, b))
}
