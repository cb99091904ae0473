package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/handlers"
	"github.com/charlesng35/credverify/internal/middleware"
	"github.com/charlesng35/credverify/internal/models"
)

func registerCertificateRoutes(api, protected *gin.RouterGroup, certs *handlers.CertificateHandler, verify *handlers.VerificationHandler) {
	// Public verification; anyone holding an id or ledger hash may check it.
	public := api.Group("/certificates")
	{
		public.POST("/:id/verify", verify.VerifyByID)
		public.POST("/verify/:id", verify.VerifyByID)
		public.POST("/verify-by-hash/:hash", verify.VerifyByHash)
	}

	certificates := protected.Group("/certificates")
	{
		certificates.POST("/upload", middleware.RequireRole(models.RoleInstitution), certs.Upload)
		certificates.GET("", certs.List)
		certificates.GET("/:id", certs.Get)
		certificates.POST("/:id/revoke", middleware.RequireRole(models.RoleInstitution, models.RoleAdmin), certs.Revoke)
		certificates.POST("/employer/:id/verify", middleware.RequireRole(models.RoleEmployer), verify.EmployerVerify)
	}

	protected.GET("/employer/verification-history", middleware.RequireRole(models.RoleEmployer), verify.History)
}
