package models

import "time"

// StudentInvite is a pending recipient for certificates issued to an email with no account.
// Registering with the invite token converts it into a real student and transfers ownership.
type StudentInvite struct {
	BaseModel

	Email      string     `gorm:"not null;index" json:"email"`
	Name       string     `json:"name"`
	TokenHash  string     `gorm:"uniqueIndex;not null" json:"-"`
	InvitedBy  string     `gorm:"type:uuid;index" json:"invited_by"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *string    `gorm:"type:uuid" json:"accepted_by,omitempty"`
}

// Pending reports whether the invite can still be claimed at the supplied instant.
func (i StudentInvite) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}
