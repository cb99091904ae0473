package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Verification outcomes recorded in history.
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
)

// VerificationHistory is an append-only record of an employer-initiated check.
type VerificationHistory struct {
	ID               string       `gorm:"primaryKey;type:uuid" json:"id"`
	VerifierID       string       `gorm:"type:uuid;not null;index" json:"verifier_id"`
	CertificateID    string       `gorm:"type:uuid;not null;index" json:"certificate_id"`
	Certificate      *Certificate `gorm:"foreignKey:CertificateID" json:"certificate,omitempty"`
	CertificateTitle string       `json:"certificate_title"`
	Result           string       `gorm:"size:16;not null" json:"result"`
	LedgerVerified   bool         `json:"ledger_verified"`
	VerifiedAt       time.Time    `gorm:"index" json:"verified_at"`
}

// TableName keeps the singular table name used by reporting queries.
func (VerificationHistory) TableName() string {
	return "verification_history"
}

func (v *VerificationHistory) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.VerifiedAt.IsZero() {
		v.VerifiedAt = time.Now().UTC()
	}
	return nil
}

// BeforeUpdate rejects mutation of history rows.
func (v *VerificationHistory) BeforeUpdate(tx *gorm.DB) error {
	return gorm.ErrNotImplemented
}
