// Package auth verifies JWTs issued by the identity system this module
// sits behind. Login, registration, session storage, API keys, and 2FA
// are primitives of that external collaborator; this package only
// parses and validates the tokens it is handed.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the subset of the identity provider's JWT claims this
// module needs to enforce tenant isolation and staff-role checks.
type Claims struct {
	StaffID  uuid.UUID `json:"staff_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens. It never issues tokens.
type Verifier interface {
	Verify(tokenString string) (*Claims, error)
}

type verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier over the shared JWT signing secret.
func NewVerifier(secret string) Verifier {
	return &verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning its claims.
func (v *verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("token expired")
	}
	return claims, nil
}

// CanAccessTenant reports whether a staff member's token entitles them
// to operate against the requested tenant. Admins are scoped to their
// own tenant like everyone else in this module — there is no
// cross-tenant super-admin surface here.
func CanAccessTenant(tokenTenantID, requestedTenantID uuid.UUID) bool {
	return tokenTenantID == requestedTenantID
}

// IsDispatcher reports whether the role may run scheduling/dispatch
// operations (as opposed to a plain field tech who only sees their own
// appointments).
func IsDispatcher(role string) bool {
	return role == "admin" || role == "dispatcher"
}
