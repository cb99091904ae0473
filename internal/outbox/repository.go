// Package outbox runs the durable side effects of certificate changes: ledger
// writes and fraud scoring. Tasks are written in the same transaction as the
// certificate row and executed later with retry.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/credverify/internal/models"
)

// ErrTaskNotFound is returned when a task id does not exist.
var ErrTaskNotFound = errors.New("outbox: task not found")

// ErrTaskNotRetryable is returned when resetting a task that has not failed.
var ErrTaskNotRetryable = errors.New("outbox: only failed tasks can be retried")

// Enqueue inserts a pending task unless one of the same kind already exists for the
// certificate. It reports whether a new row was written. Call it with the transaction
// that writes the certificate change.
func Enqueue(tx *gorm.DB, certificateID string, kind models.OutboxKind, maxAttempts int, now time.Time, payload any) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	task := models.OutboxTask{
		CertificateID: certificateID,
		Kind:          kind,
		State:         models.TaskPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now.UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return false, fmt.Errorf("outbox: encode payload: %w", err)
		}
		task.Payload = datatypes.JSON(raw)
	}

	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "certificate_id"}, {Name: "kind"}},
		DoNothing: true,
	}).Create(&task)
	if result.Error != nil {
		return false, fmt.Errorf("outbox: enqueue %s: %w", kind, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// dueScope selects pending tasks whose backoff elapsed and running tasks whose lease expired.
func dueScope(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"((state = ? AND next_attempt_at <= ?) OR (state = ? AND locked_until < ?))",
			models.TaskPending, now, models.TaskRunning, now,
		)
	}
}

func dueTasks(ctx context.Context, db *gorm.DB, now time.Time, certificateID string, limit int) ([]models.OutboxTask, error) {
	query := db.WithContext(ctx).Scopes(dueScope(now))
	if certificateID != "" {
		query = query.Where("certificate_id = ?", certificateID)
	}

	var tasks []models.OutboxTask
	if err := query.Order("next_attempt_at ASC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("outbox: load due tasks: %w", err)
	}
	return tasks, nil
}

// claim moves a due task to running with a fresh lease. Only one caller wins.
func claim(ctx context.Context, db *gorm.DB, taskID string, now, leaseUntil time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&models.OutboxTask{}).
		Where("id = ?", taskID).
		Scopes(dueScope(now)).
		Updates(map[string]any{
			"state":        models.TaskRunning,
			"locked_until": leaseUntil,
			"attempts":     gorm.Expr("attempts + 1"),
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("outbox: claim task: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Reset returns a failed task to pending so the worker picks it up again.
func Reset(ctx context.Context, db *gorm.DB, taskID string, now time.Time) (*models.OutboxTask, error) {
	var task models.OutboxTask
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&task, "id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		if task.State != models.TaskFailed {
			return ErrTaskNotRetryable
		}

		if err := tx.Model(&task).Updates(map[string]any{
			"state":           models.TaskPending,
			"attempts":        0,
			"next_attempt_at": now,
			"locked_until":    nil,
			"completed_at":    nil,
		}).Error; err != nil {
			return err
		}

		if column := certificateStateColumn(task.Kind); column != "" {
			return tx.Model(&models.Certificate{}).
				Where("id = ?", task.CertificateID).
				Update(column, models.TaskPending).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListFilter narrows task listings.
type ListFilter struct {
	States        []models.TaskState
	CertificateID string
	Limit         int
}

// List returns tasks newest first.
func List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]models.OutboxTask, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := db.WithContext(ctx).Model(&models.OutboxTask{})
	if len(filter.States) > 0 {
		query = query.Where("state IN ?", filter.States)
	}
	if filter.CertificateID != "" {
		query = query.Where("certificate_id = ?", filter.CertificateID)
	}

	var tasks []models.OutboxTask
	if err := query.Order("updated_at DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("outbox: list tasks: %w", err)
	}
	return tasks, nil
}

// certificateStateColumn names the certificate column mirroring a task kind, if any.
func certificateStateColumn(kind models.OutboxKind) string {
	switch kind {
	case models.KindLedgerIssue:
		return "ledger_state"
	case models.KindFraudScore:
		return "fraud_state"
	default:
		return ""
	}
}
