package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/events"
	"github.com/charlesng35/credverify/internal/fraud"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/pkg/logger"
	"github.com/charlesng35/credverify/pkg/metrics"
)

const (
	DefaultSchedule       = "@every 30s"
	DefaultBatchSize      = 25
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 5 * time.Second
	DefaultMaxDelay       = 10 * time.Minute
	DefaultLease          = 2 * time.Minute
	DefaultFraudThreshold = 70

	// dispatchRounds bounds follow-up passes when a task enqueues another for the same certificate.
	dispatchRounds = 3
)

// errSkip marks a task whose collaborator is disabled; it ends in the skipped state.
var errSkip = errors.New("outbox: collaborator disabled")

// Config tunes the worker.
type Config struct {
	Schedule    string
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Lease       time.Duration
	// FraudThreshold is the score above which a ledger fraud record is written.
	FraudThreshold float64
	// FlagOnThreshold also moves the certificate to the flagged status.
	FlagOnThreshold bool
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.FraudThreshold <= 0 {
		c.FraudThreshold = DefaultFraudThreshold
	}
	return c
}

// Summary counts the outcomes of one processing pass.
type Summary struct {
	Processed int
	Succeeded int
	Retried   int
	Failed    int
	Skipped   int
}

func (s *Summary) add(other Summary) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Retried += other.Retried
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

type taskHandler func(ctx context.Context, task *models.OutboxTask) error

// Worker executes due outbox tasks on a cron schedule and on demand.
type Worker struct {
	db        *gorm.DB
	ledger    ledger.Client
	scorer    fraud.Scorer
	publisher events.Publisher
	cfg       Config
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	handlers  map[models.OutboxKind]taskHandler

	inflight sync.WaitGroup
	mu       sync.Mutex
	stopped  bool
}

// Option customises the Worker.
type Option func(*Worker)

// WithCron injects a preconfigured cron instance.
func WithCron(c *cron.Cron) Option {
	return func(w *Worker) {
		if c != nil {
			w.cron = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker constructs a Worker. A nil publisher drops events.
func NewWorker(db *gorm.DB, ledgerClient ledger.Client, scorer fraud.Scorer, publisher events.Publisher, cfg Config, opts ...Option) (*Worker, error) {
	if db == nil {
		return nil, errors.New("outbox: db is required")
	}
	if ledgerClient == nil {
		return nil, errors.New("outbox: ledger client is required")
	}
	if scorer == nil {
		return nil, errors.New("outbox: fraud scorer is required")
	}
	if publisher == nil {
		publisher = events.Noop{}
	}

	w := &Worker{
		db:        db,
		ledger:    ledgerClient,
		scorer:    scorer,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		log:       logger.WithModule("outbox"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cron == nil {
		w.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	// Timestamps are compared in SQL, keep them in one zone.
	clock := w.now
	w.now = func() time.Time { return clock().UTC() }

	w.handlers = map[models.OutboxKind]taskHandler{
		models.KindLedgerIssue:  w.handleLedgerIssue,
		models.KindFraudScore:   w.handleFraudScore,
		models.KindLedgerFraud:  w.handleLedgerFraud,
		models.KindLedgerRevoke: w.handleLedgerRevoke,
	}
	return w, nil
}

// MaxAttempts is the attempt budget written onto new tasks.
func (w *Worker) MaxAttempts() int {
	return w.cfg.MaxAttempts
}

// Start schedules periodic processing.
func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.cfg.Schedule, func() {
		summary, err := w.RunOnce(context.Background())
		if err != nil {
			w.log.Warn("outbox pass failed", zap.Error(err))
			return
		}
		if summary.Processed > 0 {
			w.log.Info("outbox pass finished",
				zap.Int("processed", summary.Processed),
				zap.Int("succeeded", summary.Succeeded),
				zap.Int("retried", summary.Retried),
				zap.Int("failed", summary.Failed),
				zap.Int("skipped", summary.Skipped),
			)
		}
	}); err != nil {
		return fmt.Errorf("outbox: schedule %q: %w", w.cfg.Schedule, err)
	}
	w.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running passes and background dispatches.
func (w *Worker) Stop() context.Context {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	ctx := w.cron.Stop()
	w.inflight.Wait()
	return ctx
}

// RunOnce processes one batch of due tasks.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	tasks, err := dueTasks(ctx, w.db, w.now(), "", w.cfg.BatchSize)
	if err != nil {
		return Summary{}, err
	}
	return w.process(ctx, tasks)
}

// Dispatch processes the due tasks of one certificate, including tasks they enqueue.
func (w *Worker) Dispatch(ctx context.Context, certificateID string) (Summary, error) {
	var total Summary
	for round := 0; round < dispatchRounds; round++ {
		tasks, err := dueTasks(ctx, w.db, w.now(), certificateID, w.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		if len(tasks) == 0 {
			break
		}
		summary, err := w.process(ctx, tasks)
		total.add(summary)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Kick dispatches a certificate's tasks in the background. It is a no-op after Stop.
func (w *Worker) Kick(certificateID string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.inflight.Done()
		if _, err := w.Dispatch(context.Background(), certificateID); err != nil {
			w.log.Warn("background dispatch failed", zap.String("certificate_id", certificateID), zap.Error(err))
		}
	}()
}

// Retry resets a failed task.
func (w *Worker) Retry(ctx context.Context, taskID string) (*models.OutboxTask, error) {
	return Reset(ctx, w.db, taskID, w.now())
}

func (w *Worker) process(ctx context.Context, tasks []models.OutboxTask) (Summary, error) {
	var summary Summary
	for i := range tasks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		task := tasks[i]
		now := w.now()
		won, err := claim(ctx, w.db, task.ID, now, now.Add(w.cfg.Lease))
		if err != nil {
			return summary, err
		}
		if !won {
			continue
		}
		task.Attempts++
		task.State = models.TaskRunning

		summary.Processed++
		outcome, err := w.execute(ctx, &task)
		if err != nil {
			return summary, err
		}
		switch outcome {
		case models.TaskSucceeded:
			summary.Succeeded++
		case models.TaskSkipped:
			summary.Skipped++
		case models.TaskFailed:
			summary.Failed++
		default:
			summary.Retried++
		}
	}
	return summary, nil
}

// execute runs the handler and records the outcome. The returned error is a store failure.
func (w *Worker) execute(ctx context.Context, task *models.OutboxTask) (models.TaskState, error) {
	handler, ok := w.handlers[task.Kind]
	if !ok {
		return w.finish(ctx, task, models.TaskFailed, fmt.Errorf("unknown task kind %q", task.Kind))
	}

	started := time.Now()
	runErr := handler(ctx, task)
	metrics.OutboxLatency.WithLabelValues(string(task.Kind)).Observe(time.Since(started).Seconds())

	switch {
	case runErr == nil:
		metrics.OutboxTasks.WithLabelValues(string(task.Kind), "succeeded").Inc()
		return w.finish(ctx, task, models.TaskSucceeded, nil)
	case errors.Is(runErr, errSkip):
		metrics.OutboxTasks.WithLabelValues(string(task.Kind), "skipped").Inc()
		return w.finish(ctx, task, models.TaskSkipped, runErr)
	case task.Attempts >= task.MaxAttempts:
		metrics.OutboxTasks.WithLabelValues(string(task.Kind), "failed").Inc()
		w.log.Warn("outbox task failed permanently",
			zap.String("task_id", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.Int("attempt", task.Attempts),
			zap.Error(runErr),
		)
		return w.finish(ctx, task, models.TaskFailed, runErr)
	default:
		metrics.OutboxTasks.WithLabelValues(string(task.Kind), "retry").Inc()
		delay := backoffDelay(w.cfg.BaseDelay, w.cfg.MaxDelay, task.Attempts)
		w.log.Warn("outbox task attempt failed",
			zap.String("task_id", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.Int("attempt", task.Attempts),
			zap.Duration("retry_in", delay),
			zap.Error(runErr),
		)
		err := w.db.WithContext(context.WithoutCancel(ctx)).Model(&models.OutboxTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]any{
				"state":           models.TaskPending,
				"locked_until":    nil,
				"next_attempt_at": w.now().Add(delay),
				"last_error":      truncate(runErr.Error()),
			}).Error
		if err != nil {
			return "", fmt.Errorf("outbox: reschedule task: %w", err)
		}
		return models.TaskPending, nil
	}
}

func (w *Worker) finish(ctx context.Context, task *models.OutboxTask, state models.TaskState, cause error) (models.TaskState, error) {
	now := w.now()
	updates := map[string]any{
		"state":        state,
		"locked_until": nil,
		"completed_at": now,
		"last_error":   "",
	}
	if cause != nil {
		updates["last_error"] = truncate(cause.Error())
	}

	// Record outcomes even when the triggering request was cancelled.
	err := w.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.OutboxTask{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
			return err
		}
		if column := certificateStateColumn(task.Kind); column != "" {
			return tx.Model(&models.Certificate{}).Where("id = ?", task.CertificateID).Update(column, state).Error
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("outbox: finish task: %w", err)
	}
	return state, nil
}

func truncate(message string) string {
	const limit = 1000
	if len(message) > limit {
		return message[:limit]
	}
	return message
}
