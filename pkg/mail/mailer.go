package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message represents an outbound email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Settings capture the runtime configuration required by the SMTP mailer.
type Settings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

// New returns an SMTP mailer when enabled and a disabled mailer otherwise.
func New(cfg Settings) (Mailer, error) {
	if !cfg.Enabled {
		return Disabled{}, nil
	}
	return NewSMTPMailer(cfg)
}

// Disabled drops every message and reports ErrSMTPDisabled.
type Disabled struct{}

// Send implements Mailer.
func (Disabled) Send(context.Context, Message) error {
	return ErrSMTPDisabled
}

// InviteMessage renders the notice sent to a recipient who has no account yet.
func InviteMessage(to, institution, title, link string) Message {
	if institution == "" {
		institution = "An institution"
	}
	body := fmt.Sprintf(
		"Hello,\n\n%s has issued you the certificate %q.\nCreate your account to claim it:\n%s\n\nIf you did not expect this email, you can ignore it.\n",
		institution, title, link,
	)
	return Message{
		To:      []string{to},
		Subject: "A certificate has been issued to you",
		Body:    body,
	}
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, exists := seen[addr]; exists {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}
