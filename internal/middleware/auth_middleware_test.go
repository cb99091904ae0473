package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/response"
)

func newTestJWT(t *testing.T) *iauth.JWTService {
	t.Helper()
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)
	return jwtSvc
}

func tokenFor(t *testing.T, jwtSvc *iauth.JWTService, id string, role models.Role) string {
	t.Helper()
	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: id,
		Role:   role,
		Email:  id + "@example.com",
	})
	require.NoError(t, err)
	return token
}

func doRequest(r http.Handler, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.NotNil(t, payload.Error)
	return payload.Error.Code
}

func TestAuthenticate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newTestJWT(t)

	r := gin.New()
	r.GET("/secure", Authenticate(jwtSvc, nil), func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString(CtxUserIDKey),
			"role":    principal.Role,
		})
	})

	w := doRequest(r, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHORIZED", errorCode(t, w))
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w = doRequest(r, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, tokenFor(t, jwtSvc, "user-123", models.RoleEmployer))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "user-123", body["user_id"])
	require.Equal(t, "employer", body["role"])
}

func TestAuthenticateRejectsForeignSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	other, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "other", Issuer: "test-suite"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", Authenticate(newTestJWT(t), nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(r, tokenFor(t, other, "user-1", models.RoleAdmin))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateAccountCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newTestJWT(t)

	check := func(_ context.Context, userID string) error {
		if userID == "suspended" {
			return errors.ErrAccountDisabled
		}
		return nil
	}

	r := gin.New()
	r.GET("/secure", Authenticate(jwtSvc, check), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(r, tokenFor(t, jwtSvc, "suspended", models.RoleStudent))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "ACCOUNT_DISABLED", errorCode(t, w))

	w = doRequest(r, tokenFor(t, jwtSvc, "active", models.RoleStudent))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestOptionalAuthenticate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newTestJWT(t)

	r := gin.New()
	r.GET("/secure", OptionalAuthenticate(jwtSvc, nil), func(c *gin.Context) {
		_, ok := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	for token, want := range map[string]bool{
		"":        false,
		"garbage": false,
		tokenFor(t, jwtSvc, "user-1", models.RoleEmployer): true,
	} {
		w := doRequest(r, token)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]bool
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, want, body["authenticated"])
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newTestJWT(t)

	r := gin.New()
	r.GET("/secure",
		Authenticate(jwtSvc, nil),
		RequireRole(models.RoleInstitution, models.RoleAdmin),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	w := doRequest(r, tokenFor(t, jwtSvc, "inst", models.RoleInstitution))
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, tokenFor(t, jwtSvc, "admin", models.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, tokenFor(t, jwtSvc, "student", models.RoleStudent))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "FORBIDDEN", errorCode(t, w))
}

func TestRequireRoleWithoutPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/secure", RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(r, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
