package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/app"
	iauth "github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/models"
)

// CheckStatus captures the outcome of a posture check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// maxRecommendedTokenTTL bounds access token lifetime; there is no refresh flow to revoke long tokens.
const maxRecommendedTokenTTL = 7 * 24 * time.Hour

// Check contains the result of a single posture verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// AuditService evaluates the deployment's security posture: admin access, token signing
// and whether issuance is backed by real collaborators.
type AuditService struct {
	db  *gorm.DB
	jwt *iauth.JWTService
	cfg *app.Config
	now func() time.Time
}

// NewAuditService constructs the audit service. All dependencies are optional; missing
// inputs degrade specific checks to warnings.
func NewAuditService(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config) *AuditService {
	return &AuditService{
		db:  db,
		jwt: jwt,
		cfg: cfg,
		now: time.Now,
	}
}

// WithClock overrides the clock used in results.
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all checks and returns their outcome.
func (s *AuditService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		s.checkActiveAdmin(ctx),
		s.checkJWTSecret(),
		s.checkTokenTTL(),
		s.checkLedgerDriver(),
		s.checkFraudService(),
		s.checkCORS(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *AuditService) checkActiveAdmin(ctx context.Context) Check {
	const id = "active_admin_present"
	if s.db == nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Database unavailable; unable to confirm an administrator exists.",
			Remediation: "Ensure database connectivity before running the audit.",
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ? AND is_active = ?", models.RoleAdmin, true).
		Count(&count).Error; err != nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not count administrators: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}

	if count == 0 {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "No active administrator found.",
			Remediation: "Set auth.admin.email and auth.admin.password to seed an administrator.",
		}
	}

	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: "Active administrator present.",
		Details: map[string]any{"count": count},
	}
}

func (s *AuditService) checkJWTSecret() Check {
	const id = "jwt_secret_strength"
	if s.jwt == nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "JWT service not initialised; unable to assess signing secret strength.",
			Remediation: "Initialise the JWT service with a strong secret.",
		}
	}

	length := s.jwt.SecretLength()
	switch {
	case length < 32:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
			Details:     map[string]any{"length": length},
		}
	case length < 48:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase CREDVERIFY_AUTH_JWT_SECRET to at least 48 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      id,
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (s *AuditService) checkTokenTTL() Check {
	const id = "access_token_ttl"
	if s.jwt == nil {
		return Check{
			ID:      id,
			Status:  StatusWarn,
			Message: "JWT service not initialised; unable to evaluate token lifetime.",
		}
	}

	ttl := s.jwt.TTL()
	if ttl > maxRecommendedTokenTTL {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Access token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedTokenTTL),
			Remediation: "Reduce auth.jwt.access_token_ttl; suspended accounts keep valid tokens until they expire.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}

	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: fmt.Sprintf("Access token TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (s *AuditService) checkLedgerDriver() Check {
	const id = "ledger_driver"
	if s.cfg == nil {
		return configMissing(id)
	}

	driver := strings.ToLower(strings.TrimSpace(s.cfg.Ledger.Driver))
	switch driver {
	case "solana":
		return Check{
			ID:      id,
			Status:  StatusPass,
			Message: "Certificates are anchored on the solana ledger.",
			Details: map[string]any{"driver": driver, "rpc_url": s.cfg.Ledger.Solana.RPCURL},
		}
	case "disabled":
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "Ledger is disabled; issued certificates are never anchored.",
			Remediation: "Set ledger.driver to solana.",
			Details:     map[string]any{"driver": driver},
		}
	default:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Ledger driver %q keeps records in process memory.", driver),
			Remediation: "Use ledger.driver=solana outside development.",
			Details:     map[string]any{"driver": driver},
		}
	}
}

func (s *AuditService) checkFraudService() Check {
	const id = "fraud_service"
	if s.cfg == nil {
		return configMissing(id)
	}

	if strings.TrimSpace(s.cfg.Fraud.BaseURL) == "" {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Fraud scoring is disabled; certificates are never scored.",
			Remediation: "Set fraud.base_url to the scoring service.",
		}
	}

	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: "Fraud scoring service configured.",
		Details: map[string]any{
			"threshold":         s.cfg.Fraud.Threshold,
			"flag_on_threshold": s.cfg.Fraud.FlagOnThreshold,
		},
	}
}

func (s *AuditService) checkCORS() Check {
	const id = "cors_origins"
	if s.cfg == nil {
		return configMissing(id)
	}

	if len(s.cfg.Server.CORSOrigins) == 0 {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Any browser origin may call the API.",
			Remediation: "List the frontend origins in server.cors_origins.",
		}
	}

	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: "Browser origins are restricted.",
		Details: map[string]any{"origins": s.cfg.Server.CORSOrigins},
	}
}

func configMissing(id string) Check {
	return Check{
		ID:          id,
		Status:      StatusWarn,
		Message:     "Configuration not loaded; unable to evaluate.",
		Remediation: "Load configuration before running the security audit.",
	}
}
