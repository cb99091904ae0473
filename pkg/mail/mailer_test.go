package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewReturnsDisabledMailer(t *testing.T) {
	m, err := New(Settings{Enabled: false})
	require.NoError(t, err)
	require.ErrorIs(t, m.Send(context.Background(), Message{To: []string{"a@x.com"}}), ErrSMTPDisabled)
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(Settings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(Settings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	m, err := NewSMTPMailer(Settings{Enabled: true, Host: "smtp.example.com", Port: 587})
	require.NoError(t, err)

	sm, ok := m.(*smtpMailer)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, sm.cfg.Timeout)
}

func TestSMTPMailerSendValidatesAddresses(t *testing.T) {
	m, err := NewSMTPMailer(Settings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"})
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorContains(t, m.Send(ctx, Message{To: []string{"  ", "\t"}}), "at least one recipient")
	require.ErrorContains(t, m.Send(ctx, Message{From: "invalid-from", To: []string{"user@example.com"}}), "invalid from address")
	require.ErrorContains(t, m.Send(ctx, Message{To: []string{"user@example.com", "bad-address"}}), "invalid recipient address")
}

func TestFormatMessageSanitisesSubject(t *testing.T) {
	content := formatMessage("from@example.com", []string{"to@example.com"}, "Subject\r\nBreak", "Body")
	require.Contains(t, content, "From: from@example.com")
	require.Contains(t, content, "Subject: Subject  Break")
	require.True(t, len(content) > 4 && content[len(content)-4:] == "Body")
}

func TestInviteMessage(t *testing.T) {
	msg := InviteMessage("a@x.com", "State University", "B.Sc. Computer Science", "https://app.example.com/register?invite=tok")
	require.Equal(t, []string{"a@x.com"}, msg.To)
	require.Contains(t, msg.Body, "State University")
	require.Contains(t, msg.Body, `"B.Sc. Computer Science"`)
	require.Contains(t, msg.Body, "invite=tok")
}

func TestUniqueAddresses(t *testing.T) {
	result := uniqueAddresses([]string{"alice@example.com", "bob@example.com", " alice@example.com ", "", "bob@example.com"})
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, result)
}
