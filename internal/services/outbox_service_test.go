package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/credverify/internal/models"
)

func TestOutboxServiceListAndRetry(t *testing.T) {
	f := newCertificateFixture(t, IdempotencyOff)
	ctx := context.Background()
	admin := seedAccount(t, f.db, "Admin", "admin@example.com", models.RoleAdmin)
	dispatcher := &recordingDispatcher{}

	svc, err := NewOutboxService(f.db, nil, dispatcher)
	require.NoError(t, err)

	cert, _ := f.issue(t, IssueInput{StudentID: f.student.ID, Title: "Diploma", IssueDate: issueDate()})
	require.NoError(t, f.db.Model(&models.OutboxTask{}).
		Where("certificate_id = ? AND kind = ?", cert.ID, models.KindLedgerIssue).
		Updates(map[string]any{"state": models.TaskFailed, "attempts": 5, "last_error": "rpc down"}).Error)
	require.NoError(t, f.db.Model(&models.Certificate{}).Where("id = ?", cert.ID).Update("ledger_state", models.TaskFailed).Error)

	tasks, err := svc.List(ctx, nil, "", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	failed, err := svc.List(ctx, []models.TaskState{models.TaskFailed}, cert.ID, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	retried, err := svc.Retry(ctx, principalOf(admin), failed[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskPending, retried.State)
	require.Zero(t, retried.Attempts)
	require.Equal(t, []string{cert.ID}, dispatcher.kicked())

	var stored models.Certificate
	require.NoError(t, f.db.Take(&stored, "id = ?", cert.ID).Error)
	require.Equal(t, models.TaskPending, stored.LedgerState)

	_, err = svc.Retry(ctx, principalOf(admin), failed[0].ID)
	require.ErrorIs(t, err, ErrTaskNotRetryable)
	_, err = svc.Retry(ctx, principalOf(admin), "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
}
