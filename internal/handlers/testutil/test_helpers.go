package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/api"
	"github.com/charlesng35/credverify/internal/app"
	iauth "github.com/charlesng35/credverify/internal/auth"
	sharedtestutil "github.com/charlesng35/credverify/internal/database/testutil"
	"github.com/charlesng35/credverify/internal/events"
	"github.com/charlesng35/credverify/internal/fraud"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/middleware"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/monitoring"
	"github.com/charlesng35/credverify/internal/monitoring/checks"
	"github.com/charlesng35/credverify/internal/outbox"
	"github.com/charlesng35/credverify/internal/security"
	"github.com/charlesng35/credverify/internal/services"
	"github.com/charlesng35/credverify/pkg/response"
)

const (
	AdminEmail    = "admin@credverify.test"
	AdminPassword = "admin-password"
	// DefaultPassword is used for accounts registered through the Env helpers.
	DefaultPassword = "Secret123!"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
// Outbox tasks never run in the background; tests drive them with RunOutbox.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
	Ledger *ledger.MemoryClient
	Events *events.Recorder
	Worker *outbox.Worker

	mu    sync.Mutex
	score float64
}

// EnvOption customises the wired configuration before the router is built.
type EnvOption func(*app.Config)

// NewEnv provisions a fresh handler test environment with migrations and an admin account applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAdmin(AdminEmail, AdminPassword))

	cfg := &app.Config{
		Server: app.ServerConfig{RateLimit: app.RateLimitConfig{Requests: 0}},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Fraud:        app.FraudConfig{Threshold: outbox.DefaultFraudThreshold, FlagOnThreshold: true},
		Outbox:       app.OutboxConfig{MaxAttempts: 3},
		Verification: app.VerificationConfig{PendingIsValid: true},
		Certificates: app.CertificateConfig{Idempotency: string(services.IdempotencyDerived)},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true, Timeout: time.Second},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	env := &Env{
		T:      t,
		DB:     db,
		JWT:    jwtSvc,
		Ledger: ledger.NewMemoryClient(),
		Events: &events.Recorder{},
		score:  12.5,
	}

	scorer := fraud.ScorerFunc(func(context.Context, string, []float64) (float64, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.score, nil
	})

	env.Worker, err = outbox.NewWorker(db, env.Ledger, scorer, env.Events, cfg.WorkerConfig())
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	invites, err := services.NewInviteService(db, nil)
	require.NoError(t, err)
	users, err := services.NewUserService(db, audit, invites)
	require.NoError(t, err)
	certs, err := services.NewCertificateService(db, invites, audit,
		services.WithIdempotencyMode(cfg.Certificates.Mode()),
		services.WithPublisher(env.Events),
		services.WithTaskAttempts(env.Worker.MaxAttempts()),
	)
	require.NoError(t, err)
	verifier, err := services.NewVerificationService(db, env.Ledger, cfg.Verification.Policy(), env.Events)
	require.NoError(t, err)
	outboxSvc, err := services.NewOutboxService(db, audit, nil)
	require.NoError(t, err)

	health := monitoring.NewHealthManager(cfg.Monitoring.Health.Timeout)
	health.RegisterLiveness(checks.Database(db))
	health.RegisterReadiness(checks.Ledger(env.Ledger))
	health.RegisterReadiness(checks.Fraud(scorer))
	health.RegisterReadiness(checks.Outbox(db))

	env.Router, err = api.NewRouter(cfg, jwtSvc, api.Services{
		Users:         users,
		Certificates:  certs,
		Verifications: verifier,
		Outbox:        outboxSvc,
		Audit:         audit,
		Security:      security.NewAuditService(db, jwtSvc, cfg),
	}, middleware.NewMemoryRateStore(), health)
	require.NoError(t, err)

	return env
}

// SetFraudScore changes the score returned by the fake fraud service.
func (e *Env) SetFraudScore(score float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.score = score
}

// RunOutbox executes every due outbox task once.
func (e *Env) RunOutbox() outbox.Summary {
	e.T.Helper()
	summary, err := e.Worker.RunOnce(context.Background())
	require.NoError(e.T, err)
	return summary
}

// LoginResult bundles the JSON response from the login and register endpoints.
type LoginResult struct {
	Token               string      `json:"token"`
	ExpiresIn           int         `json:"expires_in"`
	User                models.User `json:"user"`
	ClaimedCertificates int64       `json:"claimed_certificates"`
}

// Register creates an account through the public endpoint and returns the issued token.
func (e *Env) Register(name, email string, role models.Role) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"name":        name,
		"email":       email,
		"password":    DefaultPassword,
		"role":        string(role),
		"institution": name + " Institute",
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// Login authenticates and returns the issued token.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Token)
	require.Greater(e.T, result.ExpiresIn, 0)
	return result
}

// AdminToken logs in as the seeded administrator.
func (e *Env) AdminToken() string {
	e.T.Helper()
	return e.Login(AdminEmail, AdminPassword).Token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.RequestWithHeaders(method, path, body, token, nil)
}

// RequestWithHeaders is Request with extra headers, e.g. Idempotency-Key.
func (e *Env) RequestWithHeaders(method, path string, body any, token string, headers map[string]string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
