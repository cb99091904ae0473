package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/api"
	"github.com/charlesng35/credverify/internal/app"
	"github.com/charlesng35/credverify/internal/app/maintenance"
	iauth "github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/cache"
	"github.com/charlesng35/credverify/internal/database"
	"github.com/charlesng35/credverify/internal/events"
	"github.com/charlesng35/credverify/internal/fraud"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/middleware"
	"github.com/charlesng35/credverify/internal/monitoring"
	"github.com/charlesng35/credverify/internal/monitoring/checks"
	"github.com/charlesng35/credverify/internal/outbox"
	"github.com/charlesng35/credverify/internal/security"
	"github.com/charlesng35/credverify/internal/services"
	"github.com/charlesng35/credverify/pkg/logger"
	"github.com/charlesng35/credverify/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisStore
	Ledger    ledger.Client
	Publisher events.Publisher
	Worker    *outbox.Worker
	Cleaner   *maintenance.Cleaner
	Health    *monitoring.HealthManager
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, collaborators, background jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background(), log); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup failed", zap.Error(shutdownErr))
			}
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	var rateStore middleware.RateStore
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed rate limiting", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	if stack.Redis != nil {
		rateStore = middleware.NewCacheRateStore(stack.Redis)
	} else {
		rateStore = middleware.NewCacheRateStore(cache.NewDatabaseStore(stack.DB))
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := mail.New(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	if stack.Ledger, err = ledger.New(cfg.Ledger.ClientConfig()); err != nil {
		return nil, fmt.Errorf("initialise ledger client: %w", err)
	}
	log.Info("ledger configured", zap.String("driver", stack.Ledger.Name()))

	scorer := fraud.New(cfg.Fraud.ClientConfig())

	if stack.Publisher, err = events.New(cfg.Events.PublisherConfig()); err != nil {
		return nil, fmt.Errorf("initialise event publisher: %w", err)
	}

	stack.Worker, err = outbox.NewWorker(stack.DB, stack.Ledger, scorer, stack.Publisher, cfg.WorkerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise outbox worker: %w", err)
	}

	svc, err := buildServices(cfg, stack, mailer)
	if err != nil {
		return nil, err
	}
	svc.Security = security.NewAuditService(stack.DB, jwtSvc, cfg)

	stack.Cleaner = maintenance.NewCleaner(stack.DB, svc.Audit,
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
		maintenance.WithOutboxRetentionDays(cfg.Maintenance.OutboxRetentionDays),
		maintenance.WithAuditSchedule(cfg.Maintenance.Schedule),
	)

	stack.Health = monitoring.NewHealthManager(cfg.Monitoring.Health.Timeout)
	stack.Health.RegisterLiveness(checks.Database(stack.DB))
	if stack.Redis != nil {
		stack.Health.RegisterReadiness(checks.Redis(stack.Redis, true))
	} else {
		stack.Health.RegisterReadiness(checks.Redis(nil, cfg.Cache.Redis.Enabled))
	}
	stack.Health.RegisterReadiness(checks.Ledger(stack.Ledger))
	stack.Health.RegisterReadiness(checks.Fraud(scorer))
	stack.Health.RegisterReadiness(checks.Outbox(stack.DB))

	stack.Router, err = api.NewRouter(cfg, jwtSvc, svc, rateStore, stack.Health)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	if err := stack.Worker.Start(); err != nil {
		return nil, fmt.Errorf("start outbox worker: %w", err)
	}
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	success = true
	return stack, nil
}

func buildServices(cfg *app.Config, stack *runtimeStack, mailer mail.Mailer) (api.Services, error) {
	audit, err := services.NewAuditService(stack.DB)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise audit service: %w", err)
	}

	invites, err := services.NewInviteService(stack.DB, mailer,
		services.WithInviteBaseURL(cfg.Invites.BaseURL),
		services.WithInviteExpiry(cfg.Invites.Expiry),
	)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise invite service: %w", err)
	}

	users, err := services.NewUserService(stack.DB, audit, invites)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise user service: %w", err)
	}

	certOpts := []services.CertificateOption{
		services.WithIdempotencyMode(cfg.Certificates.Mode()),
		services.WithPublisher(stack.Publisher),
		services.WithTaskAttempts(stack.Worker.MaxAttempts()),
	}
	if cfg.Outbox.InlineDispatch {
		certOpts = append(certOpts, services.WithDispatcher(stack.Worker))
	}
	certs, err := services.NewCertificateService(stack.DB, invites, audit, certOpts...)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise certificate service: %w", err)
	}

	verifier, err := services.NewVerificationService(stack.DB, stack.Ledger, cfg.Verification.Policy(), stack.Publisher)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise verification service: %w", err)
	}

	var retryDispatcher services.Dispatcher
	if cfg.Outbox.InlineDispatch {
		retryDispatcher = stack.Worker
	}
	outboxSvc, err := services.NewOutboxService(stack.DB, audit, retryDispatcher)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise outbox service: %w", err)
	}

	return api.Services{
		Users:         users,
		Certificates:  certs,
		Verifications: verifier,
		Outbox:        outboxSvc,
		Audit:         audit,
	}, nil
}

// Shutdown stops background jobs and releases connections, collecting every failure.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}
	if log == nil {
		log = logger.WithModule("bootstrap")
	}

	var errs error

	if s.Worker != nil {
		select {
		case <-s.Worker.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("outbox worker stop: %w", ctx.Err()))
		}
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Publisher != nil {
		errs = multierr.Append(errs, s.Publisher.Close())
	}

	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}

	errs = multierr.Append(errs, closeDatabase(s.DB))
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db, cfg.Auth.AdminSeed()); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
