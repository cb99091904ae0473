package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/services"
	"github.com/charlesng35/credverify/pkg/logger"
)

const (
	defaultAuditRetentionDays  = 90
	defaultOutboxRetentionDays = 30
	defaultAuditSpec           = "@daily"
	defaultRecordSpec          = "@hourly"
)

// Cleaner coordinates background maintenance tasks such as pruning stale audit logs,
// expired invitations, finished outbox tasks and expired cache rows.
type Cleaner struct {
	db              *gorm.DB
	audit           *services.AuditService
	cron            *cron.Cron
	now             func() time.Time
	log             *zap.Logger
	retention       int
	outboxRetention int

	auditSchedule  string
	recordSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithOutboxRetentionDays adjusts how long finished outbox tasks are kept.
func WithOutboxRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.outboxRetention = days
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithRecordSchedule overrides the cron specification for invite, outbox and cache cleanup.
func WithRecordSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.recordSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(db *gorm.DB, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:              db,
		audit:           audit,
		now:             time.Now,
		retention:       defaultAuditRetentionDays,
		outboxRetention: defaultOutboxRetentionDays,
		auditSchedule:   defaultAuditSpec,
		recordSchedule:  defaultRecordSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if c.audit == nil && c.db == nil {
		return nil
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.audit.CleanupOlderThan(context.Background(), c.retention); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.recordSchedule, func() {
			stats, err := CleanupRecords(context.Background(), c.db, c.now(), c.outboxRetention)
			if err != nil {
				c.log.Warn("record cleanup failed", zap.Error(err))
				return
			}
			c.log.Debug("record cleanup finished",
				zap.Int64("invites", stats.Invites),
				zap.Int64("outbox_tasks", stats.OutboxTasks),
				zap.Int64("cache_entries", stats.CacheEntries),
			)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.audit != nil && c.retention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if _, err := CleanupRecords(ctx, c.db, c.now(), c.outboxRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// RecordCleanupStats captures the number of rows removed per table.
type RecordCleanupStats struct {
	Invites      int64
	OutboxTasks  int64
	CacheEntries int64
}

// CleanupRecords removes expired invitations, finished outbox tasks older than the
// retention window and expired cache entries.
func CleanupRecords(ctx context.Context, db *gorm.DB, now time.Time, outboxRetentionDays int) (RecordCleanupStats, error) {
	if db == nil {
		return RecordCleanupStats{}, errors.New("cleanup records: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stats := RecordCleanupStats{}

	// Invites that still own certificates are kept so the recipient can claim them later.
	if result := db.WithContext(ctx).
		Where("expires_at < ? AND accepted_at IS NULL", now).
		Where("id NOT IN (?)", db.Model(&models.Certificate{}).Select("invite_id").Where("invite_id IS NOT NULL")).
		Delete(&models.StudentInvite{}); result.Error != nil {
		return stats, fmt.Errorf("cleanup records: invites: %w", result.Error)
	} else {
		stats.Invites = result.RowsAffected
	}

	if outboxRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -outboxRetentionDays)
		if result := db.WithContext(ctx).
			Where("state IN ? AND completed_at < ?", []models.TaskState{models.TaskSucceeded, models.TaskSkipped}, cutoff).
			Delete(&models.OutboxTask{}); result.Error != nil {
			return stats, fmt.Errorf("cleanup records: outbox tasks: %w", result.Error)
		} else {
			stats.OutboxTasks = result.RowsAffected
		}
	}

	if result := db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, now).
		Delete(&models.CacheEntry{}); result.Error != nil {
		return stats, fmt.Errorf("cleanup records: cache entries: %w", result.Error)
	} else {
		stats.CacheEntries = result.RowsAffected
	}

	return stats, nil
}
