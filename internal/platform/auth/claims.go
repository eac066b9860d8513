package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	userIDKey contextKey = "auth_user_id"
	rolesKey  contextKey = "auth_roles"
)

// Claims is the subset of identity-provider token claims the service reads.
// Verification happens upstream at the gateway; the token is trusted opaquely
// and parsed only so access logs can attribute requests to a caller.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Middleware extracts the caller identity from a bearer token, if present,
// and stashes it in the request context. Requests without a token pass
// through untouched; rejecting them is the identity provider's job.
func Middleware() echo.MiddlewareFunc {
	parser := jwt.NewParser()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return next(c)
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			// Signature already checked upstream; decode only.
			if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
				return next(c)
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, userIDKey, claims.Subject)
			ctx = context.WithValue(ctx, rolesKey, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// UserIDFromContext returns the token subject, or "" when the request
// carried no token.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RolesFromContext returns the roles claim, or nil.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles
}
