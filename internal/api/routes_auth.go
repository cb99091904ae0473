package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/handlers"
)

func registerAuthRoutes(api, protected *gin.RouterGroup, handler *handlers.AuthHandler) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
	}

	protected.GET("/auth/me", handler.Me)
}
