package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/events"
	"github.com/charlesng35/credverify/internal/fraud"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/pkg/metrics"
)

// FraudPayload is stored on ledger.fraud tasks.
type FraudPayload struct {
	Score float64 `json:"score"`
}

func (w *Worker) loadCertificate(ctx context.Context, id string) (*models.Certificate, error) {
	var cert models.Certificate
	if err := w.db.WithContext(ctx).Take(&cert, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("load certificate %s: %w", id, err)
	}
	return &cert, nil
}

// disabled maps a collaborator's disabled sentinel onto errSkip.
func disabled(err error) error {
	if errors.Is(err, ledger.ErrDisabled) || errors.Is(err, fraud.ErrDisabled) {
		return fmt.Errorf("%w: %v", errSkip, err)
	}
	return err
}

func (w *Worker) handleLedgerIssue(ctx context.Context, task *models.OutboxTask) error {
	cert, err := w.loadCertificate(ctx, task.CertificateID)
	if err != nil {
		return err
	}

	receipt, err := w.ledger.IssueCertificate(ctx, ledger.IssueRequest{
		CertificateID:  cert.ID,
		ContentHash:    cert.ContentHash,
		StudentAddress: ledger.StudentAddress(cert.RecipientEmail),
		ExpiresAt:      cert.ExpiryDate,
	})
	if err != nil {
		return disabled(err)
	}

	return w.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.Certificate{}).
		Where("id = ?", cert.ID).
		Update("blockchain_tx_hash", receipt.TxHash).Error
}

func (w *Worker) handleFraudScore(ctx context.Context, task *models.OutboxTask) error {
	cert, err := w.loadCertificate(ctx, task.CertificateID)
	if err != nil {
		return err
	}

	var prior int64
	if err := w.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("institution_id = ? AND created_at < ?", cert.InstitutionID, cert.CreatedAt).
		Count(&prior).Error; err != nil {
		return fmt.Errorf("count institution certificates: %w", err)
	}

	features := fraud.Features(fraud.Subject{
		Title:             cert.Title,
		Description:       cert.Description,
		CourseID:          cert.CourseID,
		RecipientName:     cert.RecipientName,
		RecipientEmail:    cert.RecipientEmail,
		InstitutionName:   cert.InstitutionName,
		IssueDate:         cert.IssueDate,
		ExpiryDate:        cert.ExpiryDate,
		IssuedAt:          cert.CreatedAt,
		RecipientIsInvite: cert.InviteID != nil,
		InstitutionIssued: prior,
	})

	score, err := w.scorer.Score(ctx, cert.ID, features)
	if err != nil {
		return disabled(err)
	}
	if math.IsNaN(score) || score < 0 || score > 100 {
		return fmt.Errorf("%w: %v", fraud.ErrScoreOutOfRange, score)
	}
	metrics.FraudScores.Observe(score)

	flagged := false
	suspicious := score > w.cfg.FraudThreshold
	err = w.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Certificate{}).Where("id = ?", cert.ID).Update("fraud_score", score).Error; err != nil {
			return err
		}
		if !suspicious {
			return nil
		}
		if _, err := Enqueue(tx, cert.ID, models.KindLedgerFraud, w.cfg.MaxAttempts, w.now(), FraudPayload{Score: score}); err != nil {
			return err
		}
		if !w.cfg.FlagOnThreshold {
			return nil
		}
		result := tx.Model(&models.Certificate{}).
			Where("id = ? AND status IN ?", cert.ID, []models.CertificateStatus{models.StatusPending, models.StatusVerified}).
			Update("status", models.StatusFlagged)
		if result.Error != nil {
			return result.Error
		}
		flagged = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist fraud score: %w", err)
	}

	if flagged {
		event := events.Event{
			Type:          events.CertificateFlagged,
			CertificateID: cert.ID,
			InstitutionID: cert.InstitutionID,
			OccurredAt:    w.now().UTC(),
			Data:          map[string]any{"fraud_score": score},
		}
		if err := w.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
			w.log.Warn("publish event failed", zap.String("type", event.Type), zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) handleLedgerFraud(ctx context.Context, task *models.OutboxTask) error {
	var payload FraudPayload
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode fraud payload: %w", err)
		}
	} else {
		cert, err := w.loadCertificate(ctx, task.CertificateID)
		if err != nil {
			return err
		}
		if cert.FraudScore == nil {
			return errors.New("certificate has no fraud score")
		}
		payload.Score = *cert.FraudScore
	}

	_, err := w.ledger.StoreFraudScore(ctx, task.CertificateID, int(math.Floor(payload.Score)))
	return disabled(err)
}

func (w *Worker) handleLedgerRevoke(ctx context.Context, task *models.OutboxTask) error {
	_, err := w.ledger.RevokeCertificate(ctx, task.CertificateID)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %v", errSkip, err)
	}
	return disabled(err)
}
