// Package ledger mirrors issued certificates onto an append-only ledger. The
// relational store stays authoritative; every ledger call is best effort and is
// driven by the outbox worker.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDisabled is returned by every call of the disabled driver.
	ErrDisabled = errors.New("ledger: disabled")
	// ErrNotFound reports that no record exists for the certificate key.
	ErrNotFound = errors.New("ledger: certificate not recorded")
)

// DefaultTimeout bounds a single ledger call when none is configured.
const DefaultTimeout = 10 * time.Second

// IssueRequest carries the integrity record written for a certificate.
type IssueRequest struct {
	CertificateID  string
	ContentHash    string
	StudentAddress string
	ExpiresAt      *time.Time
}

// Receipt identifies the ledger transaction that applied a write.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
}

// Status is the ledger view of a certificate.
type Status struct {
	Valid       bool
	Revoked     bool
	ContentHash string
	FraudScore  int
	BlockNumber uint64
}

// Client is the contract consumed by the outbox handlers and verification lookup.
type Client interface {
	Name() string
	IssueCertificate(ctx context.Context, req IssueRequest) (Receipt, error)
	VerifyCertificate(ctx context.Context, certificateID string) (Status, error)
	RevokeCertificate(ctx context.Context, certificateID string) (Receipt, error)
	StoreFraudScore(ctx context.Context, certificateID string, score int) (Receipt, error)
	Health(ctx context.Context) error
}

// Config selects a driver.
type Config struct {
	// Driver is one of memory, solana or disabled.
	Driver  string
	Timeout time.Duration
	Solana  SolanaConfig
}

// New builds the configured ledger client.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryClient(), nil
	case "solana":
		return NewSolanaClient(cfg.Solana, cfg.Timeout)
	case "disabled":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", cfg.Driver)
	}
}

// Disabled is the driver used when no ledger is deployed.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) IssueCertificate(context.Context, IssueRequest) (Receipt, error) {
	return Receipt{}, ErrDisabled
}

func (Disabled) VerifyCertificate(context.Context, string) (Status, error) {
	return Status{}, ErrDisabled
}

func (Disabled) RevokeCertificate(context.Context, string) (Receipt, error) {
	return Receipt{}, ErrDisabled
}

func (Disabled) StoreFraudScore(context.Context, string, int) (Receipt, error) {
	return Receipt{}, ErrDisabled
}

func (Disabled) Health(context.Context) error { return nil }
