package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credverify_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// RoleChecks counts role gate evaluations by required roles and outcome (allowed|denied).
	RoleChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credverify_role_checks_total",
			Help: "Total number of role authorisation checks",
		},
		[]string{"roles", "result"},
	)

	// CertificatesIssued counts issuance requests by outcome (created|duplicate).
	CertificatesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credverify_certificates_issued_total",
			Help: "Total number of certificate issuance requests",
		},
		[]string{"outcome"},
	)

	// Verifications counts verification lookups by channel (public|employer) and result (valid|invalid).
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credverify_verifications_total",
			Help: "Total number of certificate verifications",
		},
		[]string{"channel", "result"},
	)

	// OutboxTasks counts processed outbox attempts by kind and result (succeeded|retry|failed|skipped).
	OutboxTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credverify_outbox_tasks_total",
			Help: "Total number of outbox task attempts",
		},
		[]string{"kind", "result"},
	)

	// OutboxLatency measures collaborator call duration per task kind.
	OutboxLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credverify_outbox_task_seconds",
			Help:    "Duration of outbox task execution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// FraudScores records the distribution of scores returned by the fraud service.
	FraudScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credverify_fraud_score",
			Help:    "Fraud scores returned by the scoring service",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credverify_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// APIInFlight tracks requests currently being served.
	APIInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credverify_api_in_flight_requests",
			Help: "Requests currently being served",
		},
	)
)
