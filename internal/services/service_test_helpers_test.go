package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/auth"
	testutil "github.com/charlesng35/credverify/internal/database/testutil"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/pkg/crypto"
	"github.com/charlesng35/credverify/pkg/mail"
)

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.err
}

func (m *recordingMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	kics []string
}

func (d *recordingDispatcher) Kick(certificateID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kics = append(d.kics, certificateID)
}

func (d *recordingDispatcher) kicked() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.kics...)
}

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func seedAccount(t *testing.T, db *gorm.DB, name, email string, role models.Role) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password123")
	require.NoError(t, err)

	user := &models.User{Name: name, Email: email, Password: hashed, Role: role, IsActive: true}
	if role == models.RoleInstitution {
		user.Institution = name + " University"
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func principalOf(user *models.User) auth.Principal {
	return auth.Principal{ID: user.ID, Role: user.Role, Email: user.Email}
}

func issueDate() time.Time {
	return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
}
