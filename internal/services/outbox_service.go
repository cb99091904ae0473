package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/outbox"
	apperrors "github.com/charlesng35/credverify/pkg/errors"
)

var (
	// ErrTaskNotFound maps the outbox lookup failure onto the API error envelope.
	ErrTaskNotFound = apperrors.New("TASK_NOT_FOUND", "Outbox task not found", http.StatusNotFound)
	// ErrTaskNotRetryable is returned when retrying a task that has not failed.
	ErrTaskNotRetryable = apperrors.New("TASK_NOT_RETRYABLE", "Only failed tasks can be retried", http.StatusConflict)
)

// OutboxService exposes the side-effect queue to administrators.
type OutboxService struct {
	db         *gorm.DB
	audit      *AuditService
	dispatcher Dispatcher
	now        func() time.Time
}

// NewOutboxService constructs an OutboxService. The dispatcher is optional.
func NewOutboxService(db *gorm.DB, audit *AuditService, dispatcher Dispatcher) (*OutboxService, error) {
	if db == nil {
		return nil, errors.New("outbox service: db is required")
	}
	return &OutboxService{db: db, audit: audit, dispatcher: dispatcher, now: utcClock(nil)}, nil
}

// List returns tasks in the requested states; failed and pending tasks by default.
func (s *OutboxService) List(ctx context.Context, states []models.TaskState, certificateID string, limit int) ([]models.OutboxTask, error) {
	if len(states) == 0 {
		states = []models.TaskState{models.TaskFailed, models.TaskPending, models.TaskRunning}
	}
	tasks, err := outbox.List(ensureContext(ctx), s.db, outbox.ListFilter{
		States:        states,
		CertificateID: certificateID,
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox service: %w", err)
	}
	return tasks, nil
}

// Retry resets a failed task so the worker runs it again.
func (s *OutboxService) Retry(ctx context.Context, principal auth.Principal, taskID string) (*models.OutboxTask, error) {
	ctx = ensureContext(ctx)

	task, err := outbox.Reset(ctx, s.db, taskID, s.now())
	switch {
	case errors.Is(err, outbox.ErrTaskNotFound):
		return nil, ErrTaskNotFound
	case errors.Is(err, outbox.ErrTaskNotRetryable):
		return nil, ErrTaskNotRetryable
	case err != nil:
		return nil, fmt.Errorf("outbox service: retry: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &principal.ID,
		Email:    principal.Email,
		Action:   "outbox.retry",
		Resource: "outbox_task:" + task.ID,
		Result:   AuditSuccess,
		Metadata: map[string]any{"kind": task.Kind, "certificate_id": task.CertificateID},
	})

	var fresh models.OutboxTask
	if err := s.db.WithContext(ctx).Take(&fresh, "id = ?", task.ID).Error; err != nil {
		return nil, fmt.Errorf("outbox service: reload task: %w", err)
	}
	if s.dispatcher != nil {
		s.dispatcher.Kick(task.CertificateID)
	}
	return &fresh, nil
}
