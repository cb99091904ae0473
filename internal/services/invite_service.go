package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/pkg/crypto"
	apperrors "github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/mail"
)

const (
	defaultInviteExpiry     = 30 * 24 * time.Hour
	defaultInviteTokenBytes = 32
)

var (
	// ErrInviteNotFound indicates no invite matches the provided token.
	ErrInviteNotFound = apperrors.New("INVITE_NOT_FOUND", "Invite not found", http.StatusNotFound)
	// ErrInviteExpired indicates the invite token has expired.
	ErrInviteExpired = apperrors.New("INVITE_EXPIRED", "Invite has expired", http.StatusGone)
	// ErrInviteAlreadyUsed signals that the invite has already been accepted.
	ErrInviteAlreadyUsed = apperrors.New("INVITE_USED", "Invite has already been accepted", http.StatusConflict)
	// ErrInviteEmailMismatch is returned when the registering email differs from the invited one.
	ErrInviteEmailMismatch = apperrors.New("INVITE_EMAIL_MISMATCH", "Invite was issued to a different email address", http.StatusBadRequest)
)

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteBaseURL configures the registration URL embedded in invite emails.
func WithInviteBaseURL(url string) InviteOption {
	return func(s *InviteService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithInviteExpiry overrides the invite token lifetime.
func WithInviteExpiry(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInviteClock injects a custom clock primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// PendingInvite is an invite created for a certificate recipient together with its raw token.
// The token is only available at creation time.
type PendingInvite struct {
	Invite models.StudentInvite
	Token  string
}

// InviteService manages student invites created when certificates target unknown recipients.
type InviteService struct {
	db      *gorm.DB
	mailer  mail.Mailer
	baseURL string
	expiry  time.Duration
	now     func() time.Time
}

// NewInviteService constructs an InviteService. A nil mailer disables invite emails.
func NewInviteService(db *gorm.DB, mailer mail.Mailer, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}
	if mailer == nil {
		mailer = mail.Disabled{}
	}

	service := &InviteService{
		db:     db,
		mailer: mailer,
		expiry: defaultInviteExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	service.now = utcClock(service.now)
	return service, nil
}

// Create inserts an invite inside the caller's transaction.
func (s *InviteService) Create(tx *gorm.DB, email, name, invitedBy string) (*PendingInvite, error) {
	email = normaliseEmail(email)
	if email == "" {
		return nil, apperrors.NewBadRequest("recipient email is required")
	}

	token, err := crypto.GenerateToken(defaultInviteTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("invite service: generate token: %w", err)
	}

	invite := models.StudentInvite{
		Email:     email,
		Name:      strings.TrimSpace(name),
		TokenHash: crypto.SHA256Hex(token),
		InvitedBy: invitedBy,
		ExpiresAt: s.now().Add(s.expiry),
	}
	if err := tx.Create(&invite).Error; err != nil {
		return nil, fmt.Errorf("invite service: create invite: %w", err)
	}
	return &PendingInvite{Invite: invite, Token: token}, nil
}

// Notify emails the registration link. Disabled SMTP is not an error.
func (s *InviteService) Notify(ctx context.Context, pending *PendingInvite, institution, title string) error {
	if pending == nil {
		return nil
	}
	message := mail.InviteMessage(pending.Invite.Email, institution, title, s.Link(pending.Token))
	if err := s.mailer.Send(ensureContext(ctx), message); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("invite service: send email: %w", err)
	}
	return nil
}

// Link builds the registration URL for a token.
func (s *InviteService) Link(token string) string {
	if s.baseURL == "" {
		return token
	}
	return s.baseURL + "?invite_token=" + url.QueryEscape(token)
}

// Claim accepts an invite for a newly registered student and moves the invite's certificates
// to that student. It must run inside the registration transaction.
func (s *InviteService) Claim(tx *gorm.DB, token, email, studentID string) (*models.StudentInvite, int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, ErrInviteNotFound
	}

	var invite models.StudentInvite
	if err := tx.Where("token_hash = ?", crypto.SHA256Hex(token)).Take(&invite).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrInviteNotFound
		}
		return nil, 0, fmt.Errorf("invite service: find invite: %w", err)
	}

	now := s.now()
	switch {
	case invite.AcceptedAt != nil:
		return nil, 0, ErrInviteAlreadyUsed
	case !invite.Pending(now):
		return nil, 0, ErrInviteExpired
	case invite.Email != normaliseEmail(email):
		return nil, 0, ErrInviteEmailMismatch
	}

	// Guard against a concurrent claim of the same token.
	result := tx.Model(&models.StudentInvite{}).
		Where("id = ? AND accepted_at IS NULL", invite.ID).
		Updates(map[string]any{"accepted_at": now, "accepted_by": studentID})
	if result.Error != nil {
		return nil, 0, fmt.Errorf("invite service: accept invite: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, 0, ErrInviteAlreadyUsed
	}

	moved := tx.Model(&models.Certificate{}).
		Where("invite_id = ?", invite.ID).
		Updates(map[string]any{"student_id": studentID, "invite_id": nil})
	if moved.Error != nil {
		return nil, 0, fmt.Errorf("invite service: transfer certificates: %w", moved.Error)
	}

	invite.AcceptedAt = &now
	invite.AcceptedBy = &studentID
	return &invite, moved.RowsAffected, nil
}
