package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role the board recognizes.
const RoleAdmin = "admin"

// AdminClaims is the payload of an admin token.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type adminContextKey struct{}

// WithAdmin attaches validated admin claims to ctx.
func WithAdmin(ctx context.Context, claims AdminClaims) context.Context {
	return context.WithValue(ctx, adminContextKey{}, claims)
}

// AdminFromContext returns the admin claims attached by WithAdmin.
func AdminFromContext(ctx context.Context) (AdminClaims, bool) {
	claims, ok := ctx.Value(adminContextKey{}).(AdminClaims)
	return claims, ok
}
