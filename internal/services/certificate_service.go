package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/events"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/outbox"
	"github.com/charlesng35/credverify/pkg/crypto"
	apperrors "github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/logger"
	"github.com/charlesng35/credverify/pkg/metrics"
)

// IdempotencyMode selects how duplicate issuance requests are detected.
type IdempotencyMode string

const (
	// IdempotencyOff inserts a new certificate for every request.
	IdempotencyOff IdempotencyMode = "off"
	// IdempotencyHeader de-duplicates only requests carrying an Idempotency-Key header.
	IdempotencyHeader IdempotencyMode = "header"
	// IdempotencyDerived also derives a key from institution, recipient, title and issue date.
	IdempotencyDerived IdempotencyMode = "derived"
)

const maxIdempotencyKeyLength = 128

var (
	// ErrCertificateNotFound is returned when a certificate id or hash is unknown.
	ErrCertificateNotFound = apperrors.New("CERTIFICATE_NOT_FOUND", "Certificate not found", http.StatusNotFound)
	// ErrCertificateRevoked is returned when revoking twice.
	ErrCertificateRevoked = apperrors.New("CERTIFICATE_REVOKED", "Certificate has already been revoked", http.StatusConflict)
	// ErrInstitutionNotFound is returned when the issuing account is missing or suspended.
	ErrInstitutionNotFound = apperrors.New("INSTITUTION_NOT_FOUND", "Institution not found", http.StatusNotFound)
	// ErrStudentNotFound is returned when student_id does not name a student account.
	ErrStudentNotFound = apperrors.New("STUDENT_NOT_FOUND", "Student not found", http.StatusNotFound)
)

// Dispatcher runs a certificate's outbox tasks ahead of the scheduled pass.
type Dispatcher interface {
	Kick(certificateID string)
}

// IssueInput is a validated issuance request.
type IssueInput struct {
	StudentID      string
	RecipientEmail string
	RecipientName  string
	Title          string
	Description    string
	CourseID       string
	IssueDate      time.Time
	ExpiryDate     *time.Time
	IdempotencyKey string
	IPAddress      string
	UserAgent      string
}

// ListCertificatesOptions controls the role-scoped listing.
type ListCertificatesOptions struct {
	Page     int
	PageSize int
	Status   models.CertificateStatus
}

// CertificateOption customises CertificateService.
type CertificateOption func(*CertificateService)

// WithIdempotencyMode sets duplicate detection. Unknown modes fall back to derived.
func WithIdempotencyMode(mode IdempotencyMode) CertificateOption {
	return func(s *CertificateService) {
		switch mode {
		case IdempotencyOff, IdempotencyHeader, IdempotencyDerived:
			s.mode = mode
		}
	}
}

// WithDispatcher kicks the outbox after every issuance and revocation.
func WithDispatcher(d Dispatcher) CertificateOption {
	return func(s *CertificateService) {
		s.dispatcher = d
	}
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) CertificateOption {
	return func(s *CertificateService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithTaskAttempts sets the attempt budget of enqueued outbox tasks.
func WithTaskAttempts(n int) CertificateOption {
	return func(s *CertificateService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCertificateClock injects a clock for tests.
func WithCertificateClock(now func() time.Time) CertificateOption {
	return func(s *CertificateService) {
		if now != nil {
			s.now = now
		}
	}
}

// CertificateService issues, lists and revokes certificates. Ledger and fraud side effects are
// written as outbox tasks in the same transaction and never fail a request.
type CertificateService struct {
	db          *gorm.DB
	invites     *InviteService
	audit       *AuditService
	publisher   events.Publisher
	dispatcher  Dispatcher
	mode        IdempotencyMode
	maxAttempts int
	now         func() time.Time
	log         *zap.Logger
}

// NewCertificateService constructs a CertificateService.
func NewCertificateService(db *gorm.DB, invites *InviteService, audit *AuditService, opts ...CertificateOption) (*CertificateService, error) {
	if db == nil {
		return nil, errors.New("certificate service: db is required")
	}
	if invites == nil {
		return nil, errors.New("certificate service: invite service is required")
	}

	s := &CertificateService{
		db:          db,
		invites:     invites,
		audit:       audit,
		publisher:   events.Noop{},
		mode:        IdempotencyDerived,
		maxAttempts: outbox.DefaultMaxAttempts,
		now:         time.Now,
		log:         logger.WithModule("certificates"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.now = utcClock(s.now)
	return s, nil
}

type recipient struct {
	student *models.User
	email   string
	name    string
}

func (r recipient) key() string {
	if r.student != nil {
		return r.student.ID
	}
	return r.email
}

// Issue creates a certificate for a student account or, when the recipient has no account, for a
// new invite. The bool result is false when an idempotent replay returned an existing certificate.
func (s *CertificateService) Issue(ctx context.Context, principal auth.Principal, input IssueInput) (*models.Certificate, bool, error) {
	ctx = ensureContext(ctx)

	if principal.Role != models.RoleInstitution {
		return nil, false, apperrors.NewForbidden("only institutions can issue certificates")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, false, apperrors.NewBadRequest("title is required")
	}
	if input.IssueDate.IsZero() {
		return nil, false, apperrors.NewBadRequest("issue date is required")
	}
	issueDate := truncateDate(input.IssueDate)
	var expiry *time.Time
	if input.ExpiryDate != nil {
		value := truncateDate(*input.ExpiryDate)
		if !value.After(issueDate) {
			return nil, false, apperrors.NewBadRequest("expiry date must be after issue date")
		}
		expiry = &value
	}
	if len(input.IdempotencyKey) > maxIdempotencyKeyLength {
		return nil, false, apperrors.NewBadRequest("idempotency key is too long")
	}

	var institution models.User
	if err := s.db.WithContext(ctx).Take(&institution, "id = ?", principal.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrInstitutionNotFound
		}
		return nil, false, fmt.Errorf("certificate service: load institution: %w", err)
	}
	if !institution.IsActive || institution.Role != models.RoleInstitution {
		return nil, false, ErrInstitutionNotFound
	}

	target, err := s.resolveRecipient(ctx, input)
	if err != nil {
		return nil, false, err
	}

	key := s.idempotencyKey(institution.ID, target, title, issueDate, input.IdempotencyKey)
	if key != nil {
		existing, err := s.findByIdempotencyKey(ctx, institution.ID, *key)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			metrics.CertificatesIssued.WithLabelValues("duplicate").Inc()
			return existing, false, nil
		}
	}

	institutionName := strings.TrimSpace(institution.Institution)
	if institutionName == "" {
		institutionName = institution.Name
	}

	cert := &models.Certificate{
		BaseModel:       models.BaseModel{ID: uuid.NewString()},
		InstitutionID:   institution.ID,
		Title:           title,
		Description:     strings.TrimSpace(input.Description),
		CourseID:        strings.TrimSpace(input.CourseID),
		RecipientName:   target.name,
		RecipientEmail:  target.email,
		InstitutionName: institutionName,
		IssueDate:       issueDate,
		ExpiryDate:      expiry,
		Status:          models.StatusVerified,
		LedgerState:     models.TaskPending,
		FraudState:      models.TaskPending,
		IdempotencyKey:  key,
	}
	cert.ContentHash = ledger.ContentHash(ledger.NewCanonicalContent(cert.ID, cert.Title, cert.RecipientEmail, cert.InstitutionID, cert.IssueDate))

	var pending *PendingInvite
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if target.student != nil {
			cert.StudentID = &target.student.ID
		} else {
			invite, err := s.invites.Create(tx, target.email, target.name, institution.ID)
			if err != nil {
				return err
			}
			pending = invite
			cert.InviteID = &invite.Invite.ID
		}

		if err := tx.Create(cert).Error; err != nil {
			return err
		}
		for _, kind := range []models.OutboxKind{models.KindLedgerIssue, models.KindFraudScore} {
			if _, err := outbox.Enqueue(tx, cert.ID, kind, s.maxAttempts, now, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if key != nil && isUniqueConstraintError(err) {
			// A concurrent request with the same key won the insert.
			existing, findErr := s.findByIdempotencyKey(ctx, institution.ID, *key)
			if findErr == nil && existing != nil {
				metrics.CertificatesIssued.WithLabelValues("duplicate").Inc()
				return existing, false, nil
			}
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("certificate service: issue: %w", err)
	}

	metrics.CertificatesIssued.WithLabelValues("created").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    &institution.ID,
		Email:     institution.Email,
		Action:    "certificate.issue",
		Resource:  "certificate:" + cert.ID,
		Result:    AuditSuccess,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Metadata:  map[string]any{"recipient": cert.RecipientEmail, "invite": pending != nil},
	})
	s.publish(ctx, events.Event{
		Type:          events.CertificateIssued,
		CertificateID: cert.ID,
		InstitutionID: cert.InstitutionID,
		ActorID:       institution.ID,
		OccurredAt:    now,
		Data:          map[string]any{"title": cert.Title, "recipient_email": cert.RecipientEmail},
	})
	if err := s.invites.Notify(ctx, pending, institutionName, cert.Title); err != nil {
		s.log.Warn("invite email failed", zap.String("certificate_id", cert.ID), zap.Error(err))
	}
	s.kick(cert.ID)

	return cert, true, nil
}

func (s *CertificateService) resolveRecipient(ctx context.Context, input IssueInput) (recipient, error) {
	db := s.db.WithContext(ctx)
	studentID := strings.TrimSpace(input.StudentID)
	email := normaliseEmail(input.RecipientEmail)
	name := strings.TrimSpace(input.RecipientName)

	switch {
	case studentID != "":
		var student models.User
		if err := db.Take(&student, "id = ?", studentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return recipient{}, ErrStudentNotFound
			}
			return recipient{}, fmt.Errorf("certificate service: load student: %w", err)
		}
		if student.Role != models.RoleStudent {
			return recipient{}, ErrStudentNotFound
		}
		return recipient{student: &student, email: student.Email, name: student.Name}, nil

	case email != "":
		var user models.User
		err := db.Where("email = ?", email).Take(&user).Error
		switch {
		case err == nil:
			if user.Role != models.RoleStudent {
				return recipient{}, apperrors.NewBadRequest("recipient email belongs to a non-student account")
			}
			if name == "" {
				name = user.Name
			}
			return recipient{student: &user, email: user.Email, name: name}, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			return recipient{email: email, name: name}, nil
		default:
			return recipient{}, fmt.Errorf("certificate service: load recipient: %w", err)
		}

	default:
		return recipient{}, apperrors.NewBadRequest("student_id or recipient_email is required")
	}
}

func (s *CertificateService) idempotencyKey(institutionID string, target recipient, title string, issueDate time.Time, header string) *string {
	header = strings.TrimSpace(header)
	switch {
	case s.mode == IdempotencyOff:
		return nil
	case header != "":
		return &header
	case s.mode == IdempotencyDerived:
		key := "derived:" + crypto.SHA256Hex(institutionID, target.key(), strings.ToLower(title), issueDate.Format("2006-01-02"))
		return &key
	default:
		return nil
	}
}

func (s *CertificateService) findByIdempotencyKey(ctx context.Context, institutionID, key string) (*models.Certificate, error) {
	var cert models.Certificate
	err := s.db.WithContext(ctx).
		Where("institution_id = ? AND idempotency_key = ?", institutionID, key).
		Take(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("certificate service: lookup idempotency key: %w", err)
	}
	return &cert, nil
}

// List returns certificates visible to the caller: students see their own, institutions those
// they issued, employers and administrators everything.
func (s *CertificateService) List(ctx context.Context, principal auth.Principal, opts ListCertificatesOptions) ([]models.Certificate, int64, error) {
	ctx = ensureContext(ctx)
	_, _, offset, limit := pagination(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.Certificate{})
	switch principal.Role {
	case models.RoleStudent:
		query = query.Where("student_id = ?", principal.ID)
	case models.RoleInstitution:
		query = query.Where("institution_id = ?", principal.ID)
	case models.RoleEmployer, models.RoleAdmin:
	default:
		return nil, 0, apperrors.ErrForbidden
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("certificate service: count certificates: %w", err)
	}

	var certs []models.Certificate
	if err := query.
		Preload("Student").
		Preload("Institution").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&certs).Error; err != nil {
		return nil, 0, fmt.Errorf("certificate service: list certificates: %w", err)
	}
	return certs, total, nil
}

// Get returns a certificate the caller is allowed to see.
func (s *CertificateService) Get(ctx context.Context, principal auth.Principal, id string) (*models.Certificate, error) {
	ctx = ensureContext(ctx)

	var cert models.Certificate
	if err := s.db.WithContext(ctx).Preload("Student").Preload("Institution").Take(&cert, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("certificate service: load certificate: %w", err)
	}

	switch principal.Role {
	case models.RoleStudent:
		if !cert.OwnedBy(principal.ID) {
			return nil, apperrors.NewForbidden("certificate belongs to another student")
		}
	case models.RoleInstitution:
		if cert.InstitutionID != principal.ID {
			return nil, apperrors.NewForbidden("certificate was issued by another institution")
		}
	case models.RoleEmployer, models.RoleAdmin:
	default:
		return nil, apperrors.ErrForbidden
	}
	return &cert, nil
}

// Revoke marks a certificate rejected and schedules the ledger revocation. Only the issuing
// institution or an administrator may revoke.
func (s *CertificateService) Revoke(ctx context.Context, principal auth.Principal, id, reason string) (*models.Certificate, error) {
	ctx = ensureContext(ctx)

	var cert models.Certificate
	if err := s.db.WithContext(ctx).Take(&cert, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("certificate service: load certificate: %w", err)
	}

	switch {
	case principal.Role == models.RoleAdmin:
	case principal.Role == models.RoleInstitution && cert.InstitutionID == principal.ID:
	default:
		return nil, apperrors.NewForbidden("only the issuing institution can revoke this certificate")
	}
	if cert.RevokedAt != nil {
		return nil, ErrCertificateRevoked
	}

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Certificate{}).
			Where("id = ? AND revoked_at IS NULL", cert.ID).
			Updates(map[string]any{"status": models.StatusRejected, "revoked_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCertificateRevoked
		}
		_, err := outbox.Enqueue(tx, cert.ID, models.KindLedgerRevoke, s.maxAttempts, now, nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrCertificateRevoked) {
			return nil, ErrCertificateRevoked
		}
		return nil, fmt.Errorf("certificate service: revoke: %w", err)
	}
	cert.Status = models.StatusRejected
	cert.RevokedAt = &now

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &principal.ID,
		Email:    principal.Email,
		Action:   "certificate.revoke",
		Resource: "certificate:" + cert.ID,
		Result:   AuditSuccess,
		Metadata: map[string]any{"reason": strings.TrimSpace(reason)},
	})
	s.publish(ctx, events.Event{
		Type:          events.CertificateRevoked,
		CertificateID: cert.ID,
		InstitutionID: cert.InstitutionID,
		ActorID:       principal.ID,
		OccurredAt:    now,
		Data:          map[string]any{"reason": strings.TrimSpace(reason)},
	})
	s.kick(cert.ID)
	return &cert, nil
}

func (s *CertificateService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.log.Warn("publish event failed", zap.String("type", event.Type), zap.String("certificate_id", event.CertificateID), zap.Error(err))
	}
}

func (s *CertificateService) kick(certificateID string) {
	if s.dispatcher != nil {
		s.dispatcher.Kick(certificateID)
	}
}

func truncateDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
