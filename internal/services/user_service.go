package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/pkg/crypto"
	apperrors "github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/metrics"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "An account with this email already exists", http.StatusConflict)
	// ErrSelfToggle prevents administrators from suspending their own account.
	ErrSelfToggle = apperrors.New("USER_SELF_TOGGLE", "You cannot change the status of your own account", http.StatusBadRequest)
)

// RegisterInput describes a self-service registration.
type RegisterInput struct {
	Name        string
	Email       string
	Password    string
	Role        models.Role
	Institution string
	InviteToken string
	IPAddress   string
	UserAgent   string
}

// RegisterResult reports the created account and any certificates claimed through an invite.
type RegisterResult struct {
	User                *models.User
	ClaimedCertificates int64
}

// ProfileInput lists the attributes a user may change about themselves.
type ProfileInput struct {
	Name        *string
	Institution *string
}

// ListUsersOptions controls pagination for the admin user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Role     models.Role
	Query    string
}

// Stats is the admin dashboard summary.
type Stats struct {
	Users             map[models.Role]int64              `json:"users"`
	TotalUsers        int64                              `json:"total_users"`
	ActiveUsers       int64                              `json:"active_users"`
	Certificates      map[models.CertificateStatus]int64 `json:"certificates"`
	TotalCertificates int64                              `json:"total_certificates"`
	Verifications     int64                              `json:"verifications"`
	FailedOutboxTasks int64                              `json:"failed_outbox_tasks"`
}

// UserService manages accounts: registration, login, profile and administration.
type UserService struct {
	db      *gorm.DB
	audit   *AuditService
	invites *InviteService
	now     func() time.Time
}

// NewUserService constructs a UserService. Without an invite service, invite tokens are rejected.
func NewUserService(db *gorm.DB, audit *AuditService, invites *InviteService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, audit: audit, invites: invites, now: utcClock(nil)}, nil
}

// Register creates an account. Administrators are provisioned by seeding only.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	ctx = ensureContext(ctx)

	email := normaliseEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	if email == "" || name == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("name, email and password are required")
	}
	if input.Role == models.RoleAdmin {
		return nil, apperrors.NewForbidden("administrator accounts cannot be self-registered")
	}
	if _, ok := models.ParseRole(string(input.Role)); !ok {
		return nil, apperrors.NewBadRequest("unknown role")
	}
	token := strings.TrimSpace(input.InviteToken)
	if token != "" && input.Role != models.RoleStudent {
		return nil, apperrors.NewBadRequest("invite tokens can only be used by students")
	}
	if token != "" && s.invites == nil {
		return nil, ErrInviteNotFound
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Name:        name,
		Email:       email,
		Password:    hashed,
		Role:        input.Role,
		Institution: strings.TrimSpace(input.Institution),
		IsActive:    true,
	}

	var claimed int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
			return fmt.Errorf("user service: check email: %w", err)
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		if err := tx.Create(user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("user service: create user: %w", err)
		}
		if token == "" {
			return nil
		}
		_, moved, err := s.invites.Claim(tx, token, email, user.ID)
		claimed = moved
		return err
	})
	if err != nil {
		recordAudit(s.audit, ctx, AuditEntry{
			Email:     email,
			Action:    "auth.register",
			Resource:  "user",
			Result:    AuditFailure,
			IPAddress: input.IPAddress,
			UserAgent: input.UserAgent,
			Metadata:  map[string]any{"role": input.Role, "reason": err.Error()},
		})
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    &user.ID,
		Email:     email,
		Action:    "auth.register",
		Resource:  "user:" + user.ID,
		Result:    AuditSuccess,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Metadata:  map[string]any{"role": user.Role, "claimed_certificates": claimed},
	})
	return &RegisterResult{User: user, ClaimedCertificates: claimed}, nil
}

// Authenticate checks credentials and records the login time.
func (s *UserService) Authenticate(ctx context.Context, email, password, ip, userAgent string) (*models.User, error) {
	ctx = ensureContext(ctx)
	email = normaliseEmail(email)

	fail := func(err error, reason string) (*models.User, error) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			Email:     email,
			Action:    "auth.login",
			Resource:  "session",
			Result:    AuditFailure,
			IPAddress: ip,
			UserAgent: userAgent,
			Metadata:  map[string]any{"reason": reason},
		})
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(apperrors.ErrInvalidCredentials, "unknown email")
		}
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	if !crypto.VerifyPassword(user.Password, password) {
		return fail(apperrors.ErrInvalidCredentials, "bad password")
	}
	if !user.IsActive {
		return fail(apperrors.ErrAccountDisabled, "account disabled")
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("user service: record login: %w", err)
	}
	user.LastLoginAt = &now

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:    &user.ID,
		Email:     user.Email,
		Action:    "auth.login",
		Resource:  "session",
		Result:    AuditSuccess,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	return &user, nil
}

// GetByID loads a user.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ensureContext(ctx)).Take(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// EnsureActive rejects tokens that belong to deleted or suspended accounts.
func (s *UserService) EnsureActive(ctx context.Context, id string) error {
	var user models.User
	err := s.db.WithContext(ensureContext(ctx)).Select("id", "is_active").Take(&user, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.ErrUnauthorized
	case err != nil:
		return fmt.Errorf("user service: check account: %w", err)
	case !user.IsActive:
		return apperrors.ErrAccountDisabled
	}
	return nil
}

// UpdateProfile changes the caller's own name or institution.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input ProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("name cannot be empty")
		}
		updates["name"] = name
	}
	if input.Institution != nil {
		updates["institution"] = strings.TrimSpace(*input.Institution)
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: update profile: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &user.ID,
		Email:    user.Email,
		Action:   "user.profile.update",
		Resource: "user:" + user.ID,
		Result:   AuditSuccess,
		Metadata: updates,
	})
	return s.GetByID(ctx, id)
}

// List returns accounts newest first.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)
	_, _, offset, limit := pagination(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.User{})
	if opts.Role != "" {
		query = query.Where("role = ?", opts.Role)
	}
	if q := strings.ToLower(strings.TrimSpace(opts.Query)); q != "" {
		like := "%" + q + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}
	return users, total, nil
}

// ToggleActive suspends an active account or reactivates a suspended one.
func (s *UserService) ToggleActive(ctx context.Context, actorID, targetID string) (*models.User, error) {
	ctx = ensureContext(ctx)
	if actorID == targetID {
		return nil, ErrSelfToggle
	}

	user, err := s.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	active := !user.IsActive
	if err := s.db.WithContext(ctx).Model(user).Update("is_active", active).Error; err != nil {
		return nil, fmt.Errorf("user service: toggle user: %w", err)
	}
	user.IsActive = active

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actorID,
		Action:   "user.toggle",
		Resource: "user:" + user.ID,
		Result:   AuditSuccess,
		Metadata: map[string]any{"is_active": active},
	})
	return user, nil
}

type groupCount struct {
	Bucket string
	Count  int64
}

// Stats summarises users, certificates and verification activity.
func (s *UserService) Stats(ctx context.Context) (*Stats, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	stats := &Stats{
		Users:        make(map[models.Role]int64, len(models.Roles)),
		Certificates: make(map[models.CertificateStatus]int64, len(models.CertificateStatuses)),
	}
	for _, role := range models.Roles {
		stats.Users[role] = 0
	}
	for _, status := range models.CertificateStatuses {
		stats.Certificates[status] = 0
	}

	var roles []groupCount
	if err := db.Model(&models.User{}).Select("role AS bucket, COUNT(*) AS count").Group("role").Scan(&roles).Error; err != nil {
		return nil, fmt.Errorf("user service: count users by role: %w", err)
	}
	for _, row := range roles {
		stats.Users[models.Role(row.Bucket)] = row.Count
		stats.TotalUsers += row.Count
	}

	if err := db.Model(&models.User{}).Where("is_active = ?", true).Count(&stats.ActiveUsers).Error; err != nil {
		return nil, fmt.Errorf("user service: count active users: %w", err)
	}

	var statuses []groupCount
	if err := db.Model(&models.Certificate{}).Select("status AS bucket, COUNT(*) AS count").Group("status").Scan(&statuses).Error; err != nil {
		return nil, fmt.Errorf("user service: count certificates by status: %w", err)
	}
	for _, row := range statuses {
		stats.Certificates[models.CertificateStatus(row.Bucket)] = row.Count
		stats.TotalCertificates += row.Count
	}

	if err := db.Model(&models.VerificationHistory{}).Count(&stats.Verifications).Error; err != nil {
		return nil, fmt.Errorf("user service: count verifications: %w", err)
	}
	if err := db.Model(&models.OutboxTask{}).Where("state = ?", models.TaskFailed).Count(&stats.FailedOutboxTasks).Error; err != nil {
		return nil, fmt.Errorf("user service: count failed tasks: %w", err)
	}
	return stats, nil
}
