package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/credverify/internal/models"
)

func TestAutoMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.User{},
		&models.StudentInvite{},
		&models.Certificate{},
		&models.VerificationHistory{},
		&models.OutboxTask{},
		&models.AuditLog{},
		&models.CacheEntry{},
	}
	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
}

func TestSeedAdminKeepsExistingAccount(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	existing := &models.User{Name: "Registrar", Email: "root@example.com", Password: "hashed", Role: models.RoleInstitution, IsActive: true}
	require.NoError(t, db.Create(existing).Error)

	require.NoError(t, SeedAdmin(db, AdminSeed{Email: " Root@Example.com ", Password: "ChangeMe123!"}))

	var users []models.User
	require.NoError(t, db.Where("email = ?", "root@example.com").Find(&users).Error)
	require.Len(t, users, 1)
	require.Equal(t, models.RoleInstitution, users[0].Role)
}

func TestSeedAdminDefaultsName(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	require.NoError(t, SeedAdmin(db, AdminSeed{Email: "ops@example.com", Password: "ChangeMe123!"}))

	var admin models.User
	require.NoError(t, db.Where("email = ?", "ops@example.com").First(&admin).Error)
	require.Equal(t, "Administrator", admin.Name)
}
