package models

import (
	"strings"
	"time"
)

// Role enumerates the capabilities a user account can hold.
type Role string

const (
	RoleStudent     Role = "student"
	RoleInstitution Role = "institution"
	RoleEmployer    Role = "employer"
	RoleAdmin       Role = "admin"
)

// Roles lists every known role in display order.
var Roles = []Role{RoleStudent, RoleInstitution, RoleEmployer, RoleAdmin}

// ParseRole normalises a role string, reporting whether it is known.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Roles {
		if role == known {
			return role, true
		}
	}
	return "", false
}

// User is an account holder. The password hash never leaves the service layer.
type User struct {
	BaseModel

	Name        string `gorm:"not null" json:"name"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	Password    string `gorm:"not null" json:"-"`
	Role        Role   `gorm:"size:16;not null;index" json:"role"`
	Institution string `json:"institution,omitempty"`

	IsActive    bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}
