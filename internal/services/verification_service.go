package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/events"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/models"
	apperrors "github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/logger"
	"github.com/charlesng35/credverify/pkg/metrics"
)

// Verification messages returned to callers.
const (
	MessageValid   = "Certificate is valid and verified"
	MessageInvalid = "Certificate is invalid or revoked"

	historyLimit = 50
)

// LookupBy selects how a verification identifier is interpreted.
type LookupBy string

const (
	LookupByID   LookupBy = "id"
	LookupByHash LookupBy = "hash"
)

// ValidityPolicy decides which certificate statuses count as valid.
type ValidityPolicy struct {
	valid map[models.CertificateStatus]struct{}
}

// NewValidityPolicy accepts verified certificates and, when pendingIsValid is set, pending ones.
// Rejected and flagged certificates are never valid.
func NewValidityPolicy(pendingIsValid bool) ValidityPolicy {
	valid := map[models.CertificateStatus]struct{}{models.StatusVerified: {}}
	if pendingIsValid {
		valid[models.StatusPending] = struct{}{}
	}
	return ValidityPolicy{valid: valid}
}

// IsValidStatus reports whether the status is valid under the policy.
func (p ValidityPolicy) IsValidStatus(status models.CertificateStatus) bool {
	if p.valid == nil {
		return status == models.StatusVerified
	}
	_, ok := p.valid[status]
	return ok
}

// BlockchainStatus is the ledger portion of a verification result.
type BlockchainStatus struct {
	IsVerified  bool    `json:"isVerified"`
	TxHash      *string `json:"txHash"`
	BlockNumber *uint64 `json:"blockNumber"`
}

// VerificationResult is returned by every verification route.
type VerificationResult struct {
	Certificate *models.Certificate `json:"certificate"`
	Blockchain  BlockchainStatus    `json:"blockchain"`
	IsValid     bool                `json:"isValid"`
	Message     string              `json:"message"`
}

// VerifyRequest identifies the certificate to check and, for employer checks, who is checking.
type VerifyRequest struct {
	Identifier string
	By         LookupBy
	Verifier   *auth.Principal
}

// VerificationService answers public and employer verification lookups.
type VerificationService struct {
	db        *gorm.DB
	ledger    ledger.Client
	policy    ValidityPolicy
	publisher events.Publisher
	now       func() time.Time
	log       *zap.Logger
}

// NewVerificationService constructs a VerificationService. A nil publisher drops events.
func NewVerificationService(db *gorm.DB, client ledger.Client, policy ValidityPolicy, publisher events.Publisher) (*VerificationService, error) {
	if db == nil {
		return nil, errors.New("verification service: db is required")
	}
	if client == nil {
		client = ledger.Disabled{}
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &VerificationService{
		db:        db,
		ledger:    client,
		policy:    policy,
		publisher: publisher,
		now:       utcClock(nil),
		log:       logger.WithModule("verification"),
	}, nil
}

// Verify looks a certificate up by id or ledger transaction hash. The ledger check is best
// effort and never changes validity. Employer checks are appended to the employer's history.
func (s *VerificationService) Verify(ctx context.Context, req VerifyRequest) (*VerificationResult, error) {
	ctx = ensureContext(ctx)

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		return nil, apperrors.NewBadRequest("certificate identifier is required")
	}

	query := s.db.WithContext(ctx).Preload("Student").Preload("Institution")
	switch req.By {
	case LookupByHash:
		query = query.Where("blockchain_tx_hash = ?", identifier)
	case LookupByID, "":
		query = query.Where("id = ?", identifier)
	default:
		return nil, apperrors.NewBadRequest("unsupported lookup")
	}

	var cert models.Certificate
	if err := query.Take(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("verification service: load certificate: %w", err)
	}

	result := &VerificationResult{
		Certificate: &cert,
		IsValid:     s.policy.IsValidStatus(cert.Status),
		Blockchain:  BlockchainStatus{TxHash: cert.BlockchainTxHash},
	}
	if cert.BlockchainTxHash != nil {
		s.checkLedger(ctx, &cert, &result.Blockchain)
	}
	result.Message = MessageInvalid
	if result.IsValid {
		result.Message = MessageValid
	}

	outcome := models.ResultInvalid
	if result.IsValid {
		outcome = models.ResultValid
	}
	channel := "public"
	if req.Verifier != nil && req.Verifier.Role == models.RoleEmployer {
		channel = "employer"
		s.appendHistory(ctx, req.Verifier.ID, &cert, outcome, result.Blockchain.IsVerified)
	}
	metrics.Verifications.WithLabelValues(channel, outcome).Inc()

	event := events.Event{
		Type:          events.CertificateVerified,
		CertificateID: cert.ID,
		InstitutionID: cert.InstitutionID,
		OccurredAt:    s.now(),
		Data:          map[string]any{"result": outcome, "channel": channel},
	}
	if req.Verifier != nil {
		event.ActorID = req.Verifier.ID
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.log.Warn("publish event failed", zap.String("type", event.Type), zap.Error(err))
	}

	return result, nil
}

func (s *VerificationService) checkLedger(ctx context.Context, cert *models.Certificate, out *BlockchainStatus) {
	status, err := s.ledger.VerifyCertificate(ctx, cert.ID)
	if err != nil {
		if !errors.Is(err, ledger.ErrDisabled) {
			s.log.Warn("ledger verification failed", zap.String("certificate_id", cert.ID), zap.Error(err))
		}
		return
	}

	out.IsVerified = status.Valid && !status.Revoked && strings.EqualFold(status.ContentHash, cert.ContentHash)
	if status.BlockNumber > 0 {
		block := status.BlockNumber
		out.BlockNumber = &block
	}
}

func (s *VerificationService) appendHistory(ctx context.Context, verifierID string, cert *models.Certificate, outcome string, ledgerVerified bool) {
	entry := models.VerificationHistory{
		VerifierID:       verifierID,
		CertificateID:    cert.ID,
		CertificateTitle: cert.Title,
		Result:           outcome,
		LedgerVerified:   ledgerVerified,
		VerifiedAt:       s.now(),
	}
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		s.log.Warn("failed to record verification history",
			zap.String("certificate_id", cert.ID),
			zap.String("verifier_id", verifierID),
			zap.Error(err),
		)
	}
}

// History returns the employer's most recent verifications, newest first.
func (s *VerificationService) History(ctx context.Context, employerID string) ([]models.VerificationHistory, error) {
	var entries []models.VerificationHistory
	if err := s.db.WithContext(ensureContext(ctx)).
		Where("verifier_id = ?", employerID).
		Order("verified_at DESC").
		Limit(historyLimit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("verification service: load history: %w", err)
	}
	return entries, nil
}
