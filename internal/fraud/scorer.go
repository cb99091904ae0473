// Package fraud talks to the external fraud-scoring service.
package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrDisabled is returned when no scoring service is configured.
	ErrDisabled = errors.New("fraud: scoring disabled")
	// ErrScoreOutOfRange reports a response outside [0,100].
	ErrScoreOutOfRange = errors.New("fraud: score out of range")
)

// DefaultTimeout bounds a single scoring request when none is configured.
const DefaultTimeout = 5 * time.Second

// Scorer returns a 0-100 fraud score for a certificate, higher meaning more suspicious.
type Scorer interface {
	Score(ctx context.Context, certificateID string, features []float64) (float64, error)
	Health(ctx context.Context) error
}

// Config configures the HTTP scorer.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New returns the HTTP scorer, or Disabled when no base URL is set.
func New(cfg Config) Scorer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Disabled{}
	}
	return NewHTTPScorer(cfg)
}

// Disabled never scores.
type Disabled struct{}

func (Disabled) Score(context.Context, string, []float64) (float64, error) {
	return 0, ErrDisabled
}

func (Disabled) Health(context.Context) error { return ErrDisabled }

// HTTPScorer calls POST {base}/fraud-detection.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

// Option customises the HTTPScorer.
type Option func(*HTTPScorer)

// WithHTTPClient replaces the default client. Its timeout is left untouched.
func WithHTTPClient(client *http.Client) Option {
	return func(s *HTTPScorer) {
		if client != nil {
			s.client = client
		}
	}
}

// NewHTTPScorer constructs a scorer bound to the configured service.
func NewHTTPScorer(cfg Config, opts ...Option) *HTTPScorer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	scorer := &HTTPScorer{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(scorer)
	}
	return scorer
}

type scoreRequest struct {
	Features      []float64 `json:"features"`
	CertificateID string    `json:"certificate_id"`
}

type scoreResponse struct {
	FraudScore *float64 `json:"fraud_score"`
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, certificateID string, features []float64) (float64, error) {
	body, err := json.Marshal(scoreRequest{Features: features, CertificateID: certificateID})
	if err != nil {
		return 0, fmt.Errorf("fraud: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/fraud-detection", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("fraud: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fraud: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("fraud: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return 0, fmt.Errorf("fraud: decode response: %w", err)
	}
	if payload.FraudScore == nil {
		return 0, errors.New("fraud: response missing fraud_score")
	}

	score := *payload.FraudScore
	if math.IsNaN(score) || score < 0 || score > 100 {
		return 0, fmt.Errorf("%w: %v", ErrScoreOutOfRange, score)
	}
	return score, nil
}

// Health probes GET {base}/health.
func (s *HTTPScorer) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("fraud: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fraud: health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fraud: health returned status %d", resp.StatusCode)
	}
	return nil
}

// ScorerFunc adapts a function to the Scorer interface. Its Health always succeeds.
type ScorerFunc func(ctx context.Context, certificateID string, features []float64) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, certificateID string, features []float64) (float64, error) {
	return f(ctx, certificateID, features)
}

func (f ScorerFunc) Health(context.Context) error { return nil }
