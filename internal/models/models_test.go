package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" Institution ")
	require.True(t, ok)
	require.Equal(t, RoleInstitution, role)

	_, ok = ParseRole("superuser")
	require.False(t, ok)
}

func TestParseFilters(t *testing.T) {
	status, ok := ParseCertificateStatus("Flagged")
	require.True(t, ok)
	require.Equal(t, StatusFlagged, status)
	_, ok = ParseCertificateStatus("revoked")
	require.False(t, ok)

	state, ok := ParseTaskState(" failed")
	require.True(t, ok)
	require.Equal(t, TaskFailed, state)
	_, ok = ParseTaskState("done")
	require.False(t, ok)
}

func TestStudentInvitePending(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	invite := StudentInvite{ExpiresAt: now.Add(time.Hour)}
	require.True(t, invite.Pending(now))
	require.False(t, invite.Pending(now.Add(2*time.Hour)))

	accepted := now
	invite.AcceptedAt = &accepted
	require.False(t, invite.Pending(now))
}

func TestTaskStateTerminal(t *testing.T) {
	require.False(t, TaskPending.Terminal())
	require.False(t, TaskRunning.Terminal())
	require.True(t, TaskSucceeded.Terminal())
	require.True(t, TaskFailed.Terminal())
	require.True(t, TaskSkipped.Terminal())
}

func TestCertificateOwnedBy(t *testing.T) {
	student := "student-1"
	cert := Certificate{StudentID: &student}
	require.True(t, cert.OwnedBy("student-1"))
	require.False(t, cert.OwnedBy("student-2"))
	require.False(t, Certificate{}.OwnedBy("student-1"))
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Now()
	require.False(t, CacheEntry{}.Expired(now))
	require.True(t, CacheEntry{ExpiresAt: now.Add(-time.Second)}.Expired(now))
}
