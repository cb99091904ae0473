package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/credverify/internal/events"
	"github.com/charlesng35/credverify/internal/fraud"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/outbox"
	apperrors "github.com/charlesng35/credverify/pkg/errors"
)

func TestValidityPolicy(t *testing.T) {
	lenient := NewValidityPolicy(true)
	require.True(t, lenient.IsValidStatus(models.StatusVerified))
	require.True(t, lenient.IsValidStatus(models.StatusPending))
	require.False(t, lenient.IsValidStatus(models.StatusRejected))
	require.False(t, lenient.IsValidStatus(models.StatusFlagged))

	strict := NewValidityPolicy(false)
	require.True(t, strict.IsValidStatus(models.StatusVerified))
	require.False(t, strict.IsValidStatus(models.StatusPending))

	var zero ValidityPolicy
	require.True(t, zero.IsValidStatus(models.StatusVerified))
	require.False(t, zero.IsValidStatus(models.StatusPending))
}

func TestVerifyByIDAndHashWithLedger(t *testing.T) {
	f := newCertificateFixture(t, IdempotencyOff)
	ctx := context.Background()
	client := ledger.NewMemoryClient()
	recorder := &events.Recorder{}
	svc, err := NewVerificationService(f.db, client, NewValidityPolicy(true), recorder)
	require.NoError(t, err)

	cert, _ := f.issue(t, IssueInput{StudentID: f.student.ID, Title: "Diploma", IssueDate: issueDate()})

	// Before the ledger write lands, the certificate is valid but not ledger-verified.
	result, err := svc.Verify(ctx, VerifyRequest{Identifier: cert.ID, By: LookupByID})
	require.NoError(t, err)
	require.True(t, result.IsValid)
	require.Equal(t, MessageValid, result.Message)
	require.False(t, result.Blockchain.IsVerified)
	require.Nil(t, result.Blockchain.TxHash)
	require.NotNil(t, result.Certificate.Institution)

	worker, err := outbox.NewWorker(f.db, client, fraud.ScorerFunc(func(context.Context, string, []float64) (float64, error) {
		return 12, nil
	}), nil, outbox.Config{})
	require.NoError(t, err)
	_, err = worker.Dispatch(ctx, cert.ID)
	require.NoError(t, err)

	result, err = svc.Verify(ctx, VerifyRequest{Identifier: cert.ID})
	require.NoError(t, err)
	require.True(t, result.Blockchain.IsVerified)
	require.NotNil(t, result.Blockchain.TxHash)
	require.NotNil(t, result.Blockchain.BlockNumber)

	byHash, err := svc.Verify(ctx, VerifyRequest{Identifier: *result.Blockchain.TxHash, By: LookupByHash})
	require.NoError(t, err)
	require.Equal(t, cert.ID, byHash.Certificate.ID)

	// Ledger outages never change validity.
	client.FailWith(errors.New("rpc down"))
	result, err = svc.Verify(ctx, VerifyRequest{Identifier: cert.ID})
	require.NoError(t, err)
	require.True(t, result.IsValid)
	require.False(t, result.Blockchain.IsVerified)
	require.NotNil(t, result.Blockchain.TxHash)

	_, err = svc.Verify(ctx, VerifyRequest{Identifier: "0xdeadbeef", By: LookupByHash})
	require.ErrorIs(t, err, ErrCertificateNotFound)
	_, err = svc.Verify(ctx, VerifyRequest{Identifier: " "})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	require.Len(t, recorder.Events(), 4)
	require.Equal(t, events.CertificateVerified, recorder.Events()[0].Type)
}

func TestVerifyRevokedAndPendingPolicy(t *testing.T) {
	f := newCertificateFixture(t, IdempotencyOff)
	ctx := context.Background()

	cert, _ := f.issue(t, IssueInput{StudentID: f.student.ID, Title: "Diploma", IssueDate: issueDate()})
	require.NoError(t, f.db.Model(&models.Certificate{}).Where("id = ?", cert.ID).Update("status", models.StatusPending).Error)

	strict, err := NewVerificationService(f.db, nil, NewValidityPolicy(false), nil)
	require.NoError(t, err)
	result, err := strict.Verify(ctx, VerifyRequest{Identifier: cert.ID})
	require.NoError(t, err)
	require.False(t, result.IsValid)
	require.Equal(t, MessageInvalid, result.Message)

	lenient, err := NewVerificationService(f.db, nil, NewValidityPolicy(true), nil)
	require.NoError(t, err)
	result, err = lenient.Verify(ctx, VerifyRequest{Identifier: cert.ID})
	require.NoError(t, err)
	require.True(t, result.IsValid)

	_, err = f.svc.Revoke(ctx, principalOf(f.institution), cert.ID, "")
	require.NoError(t, err)
	result, err = lenient.Verify(ctx, VerifyRequest{Identifier: cert.ID})
	require.NoError(t, err)
	require.False(t, result.IsValid)
	require.Equal(t, MessageInvalid, result.Message)
}

func TestEmployerVerificationHistory(t *testing.T) {
	f := newCertificateFixture(t, IdempotencyOff)
	ctx := context.Background()
	employer := seedAccount(t, f.db, "Acme", "hr@acme.example", models.RoleEmployer)
	otherEmployer := seedAccount(t, f.db, "Globex", "hr@globex.example", models.RoleEmployer)
	svc, err := NewVerificationService(f.db, ledger.NewMemoryClient(), NewValidityPolicy(true), nil)
	require.NoError(t, err)

	valid, _ := f.issue(t, IssueInput{StudentID: f.student.ID, Title: "Valid", IssueDate: issueDate()})
	revoked, _ := f.issue(t, IssueInput{StudentID: f.student.ID, Title: "Revoked", IssueDate: issueDate()})
	_, err = f.svc.Revoke(ctx, principalOf(f.institution), revoked.ID, "")
	require.NoError(t, err)

	employerPrincipal := principalOf(employer)
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_, err = svc.Verify(ctx, VerifyRequest{Identifier: valid.ID, Verifier: &employerPrincipal})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, VerifyRequest{Identifier: revoked.ID, Verifier: &employerPrincipal})
	require.NoError(t, err)

	// Anonymous checks are not recorded.
	_, err = svc.Verify(ctx, VerifyRequest{Identifier: valid.ID})
	require.NoError(t, err)

	history, err := svc.History(ctx, employer.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, revoked.ID, history[0].CertificateID)
	require.Equal(t, models.ResultInvalid, history[0].Result)
	require.Equal(t, "Revoked", history[0].CertificateTitle)
	require.Equal(t, models.ResultValid, history[1].Result)

	empty, err := svc.History(ctx, otherEmployer.ID)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestEmployerHistoryKeepsNewestFifty(t *testing.T) {
	f := newCertificateFixture(t, IdempotencyOff)
	employer := seedAccount(t, f.db, "Acme", "hr@acme.example", models.RoleEmployer)
	cert, _ := f.issue(t, IssueInput{StudentID: f.student.ID, Title: "Diploma", IssueDate: issueDate()})

	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 55; i++ {
		require.NoError(t, f.db.Create(&models.VerificationHistory{
			VerifierID:    employer.ID,
			CertificateID: cert.ID,
			Result:        models.ResultValid,
			VerifiedAt:    base.Add(time.Duration(i) * time.Hour),
		}).Error)
	}

	svc, err := NewVerificationService(f.db, nil, NewValidityPolicy(true), nil)
	require.NoError(t, err)
	history, err := svc.History(context.Background(), employer.ID)
	require.NoError(t, err)
	require.Len(t, history, 50)
	require.True(t, history[0].VerifiedAt.Equal(base.Add(54*time.Hour)))
	require.True(t, history[49].VerifiedAt.Equal(base.Add(5*time.Hour)))
}
