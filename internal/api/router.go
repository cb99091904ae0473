package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/app"
	iauth "github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/handlers"
	"github.com/charlesng35/credverify/internal/middleware"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/monitoring"
	"github.com/charlesng35/credverify/internal/security"
	"github.com/charlesng35/credverify/internal/services"
)

// Services bundles the domain services the HTTP layer delegates to.
type Services struct {
	Users         *services.UserService
	Certificates  *services.CertificateService
	Verifications *services.VerificationService
	Outbox        *services.OutboxService
	Audit         *services.AuditService
	Security      *security.AuditService
}

func (s Services) validate() error {
	switch {
	case s.Users == nil:
		return errors.New("user service must be provided")
	case s.Certificates == nil:
		return errors.New("certificate service must be provided")
	case s.Verifications == nil:
		return errors.New("verification service must be provided")
	case s.Outbox == nil:
		return errors.New("outbox service must be provided")
	case s.Audit == nil:
		return errors.New("audit service must be provided")
	case s.Security == nil:
		return errors.New("security audit service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
// A nil rate store disables rate limiting; a nil health manager serves empty reports.
func NewRouter(cfg *app.Config, jwt *iauth.JWTService, svc Services, rateStore middleware.RateStore, health *monitoring.HealthManager) (*gin.Engine, error) {
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if jwt == nil {
		return nil, errors.New("jwt service must be provided")
	}
	if err := svc.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	var unmetered []string
	if cfg.Monitoring.Prometheus.Enabled {
		unmetered = append(unmetered, metricsEndpoint(cfg))
	}
	r.Use(middleware.Metrics(unmetered...))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))
	r.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	registerHealthRoutes(r, cfg, health)

	accountCheck := middleware.AccountCheck(svc.Users.EnsureActive)
	requireAuth := middleware.Authenticate(jwt, accountCheck)

	api := r.Group("/api")
	protected := api.Group("")
	protected.Use(requireAuth)

	registerAuthRoutes(api, protected, handlers.NewAuthHandler(svc.Users, jwt))
	registerProfileRoutes(protected, handlers.NewProfileHandler(svc.Users))
	registerCertificateRoutes(api, protected,
		handlers.NewCertificateHandler(svc.Certificates),
		handlers.NewVerificationHandler(svc.Verifications),
	)

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	adminHandler := handlers.NewAdminHandler(svc.Users, svc.Outbox, svc.Audit, svc.Security)
	registerUserRoutes(admin, adminHandler)
	registerAdminRoutes(admin, adminHandler)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
