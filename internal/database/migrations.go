package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/pkg/crypto"
)

// AdminSeed describes the bootstrap administrator created on first start.
type AdminSeed struct {
	Name     string
	Email    string
	Password string
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.StudentInvite{},
		&models.Certificate{},
		&models.VerificationHistory{},
		&models.OutboxTask{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

// SeedAdmin creates the bootstrap administrator when no account uses the seed email.
// An empty seed is a no-op so deployments can provision admins out of band.
func SeedAdmin(db *gorm.DB, seed AdminSeed) error {
	email := strings.ToLower(strings.TrimSpace(seed.Email))
	if email == "" {
		return nil
	}
	if len(seed.Password) < 8 {
		return errors.New("admin seed password must be at least 8 characters")
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return fmt.Errorf("lookup admin: %w", err)
	}
	if count > 0 {
		return nil
	}

	hashed, err := crypto.HashPassword(seed.Password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name = "Administrator"
	}

	return db.Create(&models.User{
		Name:     name,
		Email:    email,
		Password: hashed,
		Role:     models.RoleAdmin,
		IsActive: true,
	}).Error
}
