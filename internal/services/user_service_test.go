package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/credverify/internal/models"
	apperrors "github.com/charlesng35/credverify/pkg/errors"
)

func newUserServiceForTest(t *testing.T) (*UserService, *InviteService, *AuditService) {
	t.Helper()
	db := openServiceTestDB(t)
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	invites, err := NewInviteService(db, nil)
	require.NoError(t, err)
	users, err := NewUserService(db, audit, invites)
	require.NoError(t, err)
	return users, invites, audit
}

func TestUserServiceRegisterAndAuthenticate(t *testing.T) {
	users, _, audit := newUserServiceForTest(t)
	ctx := context.Background()

	result, err := users.Register(ctx, RegisterInput{
		Name:        "Acme Hiring",
		Email:       " HR@Acme.example ",
		Password:    "password123",
		Role:        models.RoleEmployer,
		Institution: "Acme",
	})
	require.NoError(t, err)
	require.Equal(t, "hr@acme.example", result.User.Email)
	require.True(t, result.User.IsActive)
	require.NotEqual(t, "password123", result.User.Password)

	_, err = users.Register(ctx, RegisterInput{Name: "Dup", Email: "hr@acme.example", Password: "password123", Role: models.RoleStudent})
	require.ErrorIs(t, err, ErrEmailTaken)

	user, err := users.Authenticate(ctx, "HR@acme.example", "password123", "127.0.0.1", "test")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)

	_, err = users.Authenticate(ctx, "hr@acme.example", "wrong", "", "")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "nobody@acme.example", "password123", "", "")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	logs, _, err := audit.List(ctx, AuditListOptions{Filters: AuditFilters{Action: "auth.login"}})
	require.NoError(t, err)
	require.Len(t, logs, 3)
}

func TestUserServiceRegisterRejectsInvalidInput(t *testing.T) {
	users, _, _ := newUserServiceForTest(t)
	ctx := context.Background()

	_, err := users.Register(ctx, RegisterInput{Name: "Root", Email: "root@example.com", Password: "password123", Role: models.RoleAdmin})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = users.Register(ctx, RegisterInput{Name: "X", Email: "x@example.com", Password: "password123", Role: "pirate"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = users.Register(ctx, RegisterInput{Email: "x@example.com", Password: "password123", Role: models.RoleStudent})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = users.Register(ctx, RegisterInput{Name: "X", Email: "x@example.com", Password: "password123", Role: models.RoleEmployer, InviteToken: "abc"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestUserServiceRegisterWithInviteClaimsCertificates(t *testing.T) {
	users, invites, _ := newUserServiceForTest(t)
	db := users.db
	ctx := context.Background()

	institution := seedAccount(t, db, "Uni", "registrar@uni.example", models.RoleInstitution)
	pending, err := invites.Create(db, "grad@example.com", "Grad", institution.ID)
	require.NoError(t, err)
	for _, title := range []string{"BSc", "MSc"} {
		cert := models.Certificate{InviteID: &pending.Invite.ID, InstitutionID: institution.ID, Title: title, RecipientEmail: "grad@example.com", IssueDate: issueDate(), Status: models.StatusVerified}
		require.NoError(t, db.Create(&cert).Error)
	}

	// A mismatched email rolls the whole registration back.
	_, err = users.Register(ctx, RegisterInput{Name: "Grad", Email: "other@example.com", Password: "password123", Role: models.RoleStudent, InviteToken: pending.Token})
	require.ErrorIs(t, err, ErrInviteEmailMismatch)
	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("email = ?", "other@example.com").Count(&count).Error)
	require.Zero(t, count)

	result, err := users.Register(ctx, RegisterInput{Name: "Grad", Email: "grad@example.com", Password: "password123", Role: models.RoleStudent, InviteToken: pending.Token})
	require.NoError(t, err)
	require.Equal(t, int64(2), result.ClaimedCertificates)

	require.NoError(t, db.Model(&models.Certificate{}).Where("student_id = ?", result.User.ID).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestUserServiceProfileAndAdministration(t *testing.T) {
	users, _, _ := newUserServiceForTest(t)
	db := users.db
	ctx := context.Background()

	admin := seedAccount(t, db, "Admin", "admin@example.com", models.RoleAdmin)
	student := seedAccount(t, db, "Stu", "stu@example.com", models.RoleStudent)
	seedAccount(t, db, "Uni", "uni@example.com", models.RoleInstitution)

	name := "  Student Name "
	institution := "Uni University"
	updated, err := users.UpdateProfile(ctx, student.ID, ProfileInput{Name: &name, Institution: &institution})
	require.NoError(t, err)
	require.Equal(t, "Student Name", updated.Name)
	require.Equal(t, "Uni University", updated.Institution)

	blank := " "
	_, err = users.UpdateProfile(ctx, student.ID, ProfileInput{Name: &blank})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
	_, err = users.UpdateProfile(ctx, "missing", ProfileInput{})
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = users.ToggleActive(ctx, admin.ID, admin.ID)
	require.ErrorIs(t, err, ErrSelfToggle)

	toggled, err := users.ToggleActive(ctx, admin.ID, student.ID)
	require.NoError(t, err)
	require.False(t, toggled.IsActive)

	_, err = users.Authenticate(ctx, "stu@example.com", "password123", "", "")
	require.ErrorIs(t, err, apperrors.ErrAccountDisabled)
	require.ErrorIs(t, users.EnsureActive(ctx, student.ID), apperrors.ErrAccountDisabled)
	require.ErrorIs(t, users.EnsureActive(ctx, "missing"), apperrors.ErrUnauthorized)

	toggled, err = users.ToggleActive(ctx, admin.ID, student.ID)
	require.NoError(t, err)
	require.True(t, toggled.IsActive)
	require.NoError(t, users.EnsureActive(ctx, student.ID))

	list, total, err := users.List(ctx, ListUsersOptions{Role: models.RoleStudent})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, student.ID, list[0].ID)

	list, total, err = users.List(ctx, ListUsersOptions{Query: "UNI", PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, list, 1)
}

func TestUserServiceStats(t *testing.T) {
	users, _, _ := newUserServiceForTest(t)
	db := users.db

	institution := seedAccount(t, db, "Uni", "uni@example.com", models.RoleInstitution)
	student := seedAccount(t, db, "Stu", "stu@example.com", models.RoleStudent)
	employer := seedAccount(t, db, "Emp", "emp@example.com", models.RoleEmployer)

	statuses := []models.CertificateStatus{models.StatusVerified, models.StatusVerified, models.StatusRejected}
	var firstID string
	for i, status := range statuses {
		cert := models.Certificate{StudentID: &student.ID, InstitutionID: institution.ID, Title: "C" + string(rune('A'+i)), IssueDate: issueDate(), Status: status}
		require.NoError(t, db.Create(&cert).Error)
		if firstID == "" {
			firstID = cert.ID
		}
	}
	require.NoError(t, db.Create(&models.VerificationHistory{VerifierID: employer.ID, CertificateID: firstID, Result: models.ResultValid, VerifiedAt: time.Now()}).Error)
	require.NoError(t, db.Create(&models.OutboxTask{CertificateID: firstID, Kind: models.KindLedgerIssue, State: models.TaskFailed, MaxAttempts: 5}).Error)

	stats, err := users.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalUsers)
	require.Equal(t, int64(3), stats.ActiveUsers)
	require.Equal(t, int64(1), stats.Users[models.RoleStudent])
	require.Equal(t, int64(0), stats.Users[models.RoleAdmin])
	require.Equal(t, int64(3), stats.TotalCertificates)
	require.Equal(t, int64(2), stats.Certificates[models.StatusVerified])
	require.Equal(t, int64(0), stats.Certificates[models.StatusFlagged])
	require.Equal(t, int64(1), stats.Verifications)
	require.Equal(t, int64(1), stats.FailedOutboxTasks)
}
