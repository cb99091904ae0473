package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/credverify/internal/handlers/testutil"
	"github.com/charlesng35/credverify/internal/models"
)

func TestAuthRegisterLoginAndMe(t *testing.T) {
	env := testutil.NewEnv(t)

	registered := env.Register("Grace Hopper", "grace@example.com", models.RoleEmployer)
	require.Equal(t, models.RoleEmployer, registered.User.Role)
	require.Equal(t, "grace@example.com", registered.User.Email)

	login := env.Login("GRACE@example.com", testutil.DefaultPassword)
	require.Equal(t, registered.User.ID, login.User.ID)

	w := env.Request(http.MethodGet, "/api/auth/me", nil, login.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var me models.User
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &me)
	require.Equal(t, "Grace Hopper", me.Name)
	require.NotContains(t, w.Body.String(), "password")
}

func TestAuthRegisterValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	cases := []struct {
		name string
		body map[string]string
		code int
	}{
		{
			name: "admin role",
			body: map[string]string{"name": "Eve", "email": "eve@example.com", "password": "Secret123!", "role": "admin"},
			code: http.StatusBadRequest,
		},
		{
			name: "short password",
			body: map[string]string{"name": "Eve", "email": "eve@example.com", "password": "short", "role": "student"},
			code: http.StatusBadRequest,
		},
		{
			name: "invalid email",
			body: map[string]string{"name": "Eve", "email": "not-an-email", "password": "Secret123!", "role": "student"},
			code: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.Request(http.MethodPost, "/api/auth/register", tc.body, "")
			require.Equal(t, tc.code, w.Code, w.Body.String())
			resp := testutil.DecodeResponse(t, w)
			require.False(t, resp.Success)
			require.Equal(t, "BAD_REQUEST", resp.Error.Code)
		})
	}

	env.Register("Eve", "eve@example.com", models.RoleStudent)
	w := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Eve Again", "email": "eve@example.com", "password": "Secret123!", "role": "student",
	}, "")
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	require.Equal(t, "EMAIL_TAKEN", testutil.DecodeResponse(t, w).Error.Code)
}

func TestAuthLoginRejectsBadCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("Ada", "ada@example.com", models.RoleStudent)

	w := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ada@example.com", "password": "wrong-password",
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfileUpdate(t *testing.T) {
	env := testutil.NewEnv(t)
	login := env.Register("Uni", "uni@example.com", models.RoleInstitution)

	w := env.Request(http.MethodPatch, "/api/users/me", map[string]string{
		"name":        "Uni Registrar",
		"institution": "University of Examples",
	}, login.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var user models.User
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &user)
	require.Equal(t, "Uni Registrar", user.Name)
	require.Equal(t, "University of Examples", user.Institution)

	w = env.Request(http.MethodPatch, "/api/users/me", map[string]string{"name": "  "}, login.Token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestSuspendedAccountTokenIsRejected(t *testing.T) {
	env := testutil.NewEnv(t)
	student := env.Register("Ada", "ada@example.com", models.RoleStudent)
	admin := env.AdminToken()

	w := env.Request(http.MethodPatch, "/api/admin/users/"+student.User.ID+"/toggle", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/auth/me", nil, student.Token)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "ACCOUNT_DISABLED", testutil.DecodeResponse(t, w).Error.Code)
}
