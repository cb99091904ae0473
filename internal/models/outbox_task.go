package models

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxKind names a side effect that must eventually reach a collaborator.
type OutboxKind string

const (
	KindLedgerIssue  OutboxKind = "ledger.issue"
	KindFraudScore   OutboxKind = "fraud.score"
	KindLedgerFraud  OutboxKind = "ledger.fraud"
	KindLedgerRevoke OutboxKind = "ledger.revoke"
)

// OutboxTask is a durable unit of work written in the same transaction as the certificate change
// that requires it. At most one task of each kind exists per certificate.
type OutboxTask struct {
	BaseModel

	CertificateID string     `gorm:"type:uuid;not null;uniqueIndex:idx_outbox_certificate_kind,priority:1" json:"certificate_id"`
	Kind          OutboxKind `gorm:"size:32;not null;index;uniqueIndex:idx_outbox_certificate_kind,priority:2" json:"kind"`
	State         TaskState  `gorm:"size:16;not null;index" json:"state"`

	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int        `gorm:"not null" json:"max_attempts"`
	NextAttemptAt time.Time  `gorm:"index" json:"next_attempt_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	LastError     string     `json:"last_error,omitempty"`

	Payload     datatypes.JSON `json:"payload,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
