package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/handlers"
)

func registerProfileRoutes(protected *gin.RouterGroup, handler *handlers.ProfileHandler) {
	protected.PATCH("/users/me", handler.Update)
}
