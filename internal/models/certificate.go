package models

import (
	"strings"
	"time"
)

// CertificateStatus is the lifecycle status of an issued credential.
type CertificateStatus string

const (
	StatusPending  CertificateStatus = "pending"
	StatusVerified CertificateStatus = "verified"
	StatusRejected CertificateStatus = "rejected"
	StatusFlagged  CertificateStatus = "flagged"
)

// CertificateStatuses lists every status, used for admin statistics.
var CertificateStatuses = []CertificateStatus{StatusPending, StatusVerified, StatusRejected, StatusFlagged}

// ParseCertificateStatus normalises a status filter value.
func ParseCertificateStatus(value string) (CertificateStatus, bool) {
	status := CertificateStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range CertificateStatuses {
		if status == known {
			return status, true
		}
	}
	return "", false
}

// Certificate is one issued credential. Exactly one of StudentID or InviteID is set.
type Certificate struct {
	BaseModel

	StudentID *string        `gorm:"type:uuid;index" json:"student_id"`
	Student   *User          `gorm:"foreignKey:StudentID" json:"student,omitempty"`
	InviteID  *string        `gorm:"type:uuid;index" json:"invite_id,omitempty"`
	Invite    *StudentInvite `gorm:"foreignKey:InviteID" json:"-"`

	InstitutionID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_certificates_idempotency,priority:1" json:"institution_id"`
	Institution   *User  `gorm:"foreignKey:InstitutionID" json:"institution,omitempty"`

	Title           string `gorm:"not null" json:"title"`
	Description     string `json:"description,omitempty"`
	CourseID        string `json:"course_id,omitempty"`
	RecipientName   string `json:"recipient_name"`
	RecipientEmail  string `gorm:"index" json:"recipient_email"`
	InstitutionName string `json:"institution_name"`

	IssueDate  time.Time  `gorm:"not null" json:"issue_date"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`

	Status           CertificateStatus `gorm:"size:16;not null;index" json:"status"`
	FraudScore       *float64          `json:"fraud_score"`
	BlockchainTxHash *string           `gorm:"size:128;index" json:"blockchain_tx_hash"`
	ContentHash      string            `gorm:"size:64" json:"content_hash"`
	LedgerState      TaskState         `gorm:"size:16" json:"ledger_state"`
	FraudState       TaskState         `gorm:"size:16" json:"fraud_state"`

	IdempotencyKey *string    `gorm:"size:128;uniqueIndex:idx_certificates_idempotency,priority:2" json:"-"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// OwnedBy reports whether the certificate belongs to the supplied student.
func (c Certificate) OwnedBy(userID string) bool {
	return c.StudentID != nil && *c.StudentID == userID
}
