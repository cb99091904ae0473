package app

import (
	"strings"

	"github.com/charlesng35/credverify/internal/cache"
	"github.com/charlesng35/credverify/internal/events"
	"github.com/charlesng35/credverify/internal/fraud"
	"github.com/charlesng35/credverify/internal/ledger"
	"github.com/charlesng35/credverify/internal/outbox"
	"github.com/charlesng35/credverify/internal/services"
	"github.com/charlesng35/credverify/pkg/mail"
)

// ClientConfig converts LedgerConfig into the ledger package representation.
func (c LedgerConfig) ClientConfig() ledger.Config {
	return ledger.Config{
		Driver:  strings.ToLower(strings.TrimSpace(c.Driver)),
		Timeout: c.Timeout,
		Solana: ledger.SolanaConfig{
			RPCURL:      strings.TrimSpace(c.Solana.RPCURL),
			ProgramID:   strings.TrimSpace(c.Solana.ProgramID),
			PrivateKey:  strings.TrimSpace(c.Solana.PrivateKey),
			KeypairPath: strings.TrimSpace(c.Solana.KeypairPath),
			Commitment:  strings.TrimSpace(c.Solana.Commitment),
		},
	}
}

// ClientConfig converts FraudConfig into the fraud package representation.
func (c FraudConfig) ClientConfig() fraud.Config {
	return fraud.Config{
		BaseURL: strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"),
		Timeout: c.Timeout,
	}
}

// WorkerConfig merges the outbox and fraud sections into the worker options.
func (c *Config) WorkerConfig() outbox.Config {
	return outbox.Config{
		Schedule:        strings.TrimSpace(c.Outbox.Schedule),
		BatchSize:       c.Outbox.BatchSize,
		MaxAttempts:     c.Outbox.MaxAttempts,
		BaseDelay:       c.Outbox.BaseDelay,
		MaxDelay:        c.Outbox.MaxDelay,
		Lease:           c.Outbox.Lease,
		FraudThreshold:  c.Fraud.Threshold,
		FlagOnThreshold: c.Fraud.FlagOnThreshold,
	}
}

// PublisherConfig converts EventsConfig into the events package representation.
func (c EventsConfig) PublisherConfig() events.Config {
	return events.Config{
		Enabled:  c.RabbitMQ.Enabled,
		URL:      strings.TrimSpace(c.RabbitMQ.URL),
		Exchange: strings.TrimSpace(c.RabbitMQ.Exchange),
	}
}

// Policy converts VerificationConfig into the verification service policy.
func (c VerificationConfig) Policy() services.ValidityPolicy {
	return services.NewValidityPolicy(c.PendingIsValid)
}

// Mode converts the idempotency setting into the issuance mode.
func (c CertificateConfig) Mode() services.IdempotencyMode {
	return services.IdempotencyMode(strings.ToLower(strings.TrimSpace(c.Idempotency)))
}

// RedisClientConfig converts the rate-limit cache settings.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
		Prefix:   c.Redis.Prefix,
	}
}

// SMTPSettings converts the invite mailer settings.
func (c EmailConfig) SMTPSettings() mail.Settings {
	return mail.Settings{
		Enabled:  c.SMTP.Enabled,
		Host:     strings.TrimSpace(c.SMTP.Host),
		Port:     c.SMTP.Port,
		Username: strings.TrimSpace(c.SMTP.Username),
		Password: c.SMTP.Password,
		From:     strings.TrimSpace(c.SMTP.From),
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}
