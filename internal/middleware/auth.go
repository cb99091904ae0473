package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/metrics"
	"github.com/charlesng35/credverify/pkg/response"
)

const (
	CtxPrincipalKey = "authPrincipal"
	CtxUserIDKey    = "userID"
)

// AccountCheck rejects tokens of accounts that can no longer act, e.g. suspended users.
type AccountCheck func(ctx context.Context, userID string) error

// Authenticate enforces a bearer JWT and attaches the caller's principal to the context.
func Authenticate(jwt *iauth.JWTService, check AccountCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := principalFromRequest(c, jwt, check)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, err)
			c.Abort()
			return
		}
		setPrincipal(c, principal)
		c.Next()
	}
}

// OptionalAuthenticate attaches a principal when a valid token is present and never rejects.
func OptionalAuthenticate(jwt *iauth.JWTService, check AccountCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			if principal, err := principalFromRequest(c, jwt, check); err == nil {
				setPrincipal(c, principal)
			}
		}
		c.Next()
	}
}

// RequireRole allows the request only when the principal holds one of the roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
		names = append(names, string(role))
	}
	label := strings.Join(names, ",")

	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[principal.Role]; !ok {
			metrics.RoleChecks.WithLabelValues(label, "denied").Inc()
			response.Error(c, errors.NewForbidden("this action requires role: "+label))
			c.Abort()
			return
		}
		metrics.RoleChecks.WithLabelValues(label, "allowed").Inc()
		c.Next()
	}
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(c *gin.Context) (iauth.Principal, bool) {
	value, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return iauth.Principal{}, false
	}
	principal, ok := value.(iauth.Principal)
	return principal, ok
}

func setPrincipal(c *gin.Context, principal iauth.Principal) {
	c.Set(CtxPrincipalKey, principal)
	c.Set(CtxUserIDKey, principal.ID)
}

func principalFromRequest(c *gin.Context, jwt *iauth.JWTService, check AccountCheck) (iauth.Principal, error) {
	authz := c.GetHeader("Authorization")
	if jwt == nil || len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return iauth.Principal{}, errors.ErrUnauthorized
	}

	claims, err := jwt.ValidateAccessToken(strings.TrimSpace(authz[7:]))
	if err != nil {
		return iauth.Principal{}, errors.ErrUnauthorized
	}

	principal := claims.Principal()
	if check != nil {
		if err := check(c.Request.Context(), principal.ID); err != nil {
			return iauth.Principal{}, err
		}
	}
	return principal, nil
}
