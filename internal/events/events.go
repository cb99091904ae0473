// Package events publishes certificate lifecycle events to a message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event types.
const (
	CertificateIssued   = "certificate.issued"
	CertificateVerified = "certificate.verified"
	CertificateFlagged  = "certificate.flagged"
	CertificateRevoked  = "certificate.revoked"
)

// Event is the JSON body published for every lifecycle change.
type Event struct {
	Type          string         `json:"type"`
	CertificateID string         `json:"certificate_id"`
	InstitutionID string         `json:"institution_id,omitempty"`
	ActorID       string         `json:"actor_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data,omitempty"`
}

// Publisher delivers events. Callers treat failures as best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Config configures the RabbitMQ publisher.
type Config struct {
	Enabled  bool
	URL      string
	Exchange string
}

// New dials RabbitMQ when enabled and returns Noop otherwise.
func New(cfg Config) (Publisher, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewRabbitPublisher(cfg)
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes persistent JSON messages to a topic exchange, routed by event type.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	now      func() time.Time
}

// NewRabbitPublisher connects and declares the exchange.
func NewRabbitPublisher(cfg Config) (*RabbitPublisher, error) {
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		return nil, errors.New("events: exchange is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events: dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}

	publisher := newRabbitPublisher(ch, exchange)
	publisher.conn = conn
	return publisher, nil
}

func newRabbitPublisher(ch amqpChannel, exchange string) *RabbitPublisher {
	return &RabbitPublisher{channel: ch, exchange: exchange, now: time.Now}
}

// Publish implements Publisher.
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("events: event type is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// amqp channels are not safe for concurrent publishing.
	if err := p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    event.OccurredAt,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.CertificateID + ":" + event.Type,
	}); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		err = errors.Join(err, p.channel.Close())
	}
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}

// Recorder keeps published events in memory. It is used by tests and local tooling.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the published event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}
