package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/auditctx"
	iauth "github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/middleware"
	appErrors "github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/response"
)

// requestContext returns the request context annotated with the caller for audit records.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}

	actor := auditctx.Actor{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if principal, ok := middleware.PrincipalFrom(c); ok {
		actor.UserID = principal.ID
		actor.Email = principal.Email
	}
	return auditctx.WithActor(c.Request.Context(), actor)
}

// requirePrincipal returns the authenticated caller or writes a 401 and reports false.
func requirePrincipal(c *gin.Context) (iauth.Principal, bool) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok || principal.ID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return iauth.Principal{}, false
	}
	return principal, true
}
