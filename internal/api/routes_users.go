package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/handlers"
)

// registerUserRoutes mounts account administration under an admin-only group.
func registerUserRoutes(admin *gin.RouterGroup, handler *handlers.AdminHandler) {
	users := admin.Group("/users")
	{
		users.GET("", handler.Users)
		users.PATCH("/:id/toggle", handler.ToggleUser)
	}
}

func registerAdminRoutes(admin *gin.RouterGroup, handler *handlers.AdminHandler) {
	admin.GET("/stats", handler.Stats)
	admin.GET("/audit", handler.Audit)
	admin.GET("/security", handler.Security)

	outbox := admin.Group("/outbox")
	{
		outbox.GET("", handler.Outbox)
		outbox.POST("/:id/retry", handler.RetryTask)
	}
}
