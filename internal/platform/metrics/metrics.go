// Package metrics holds the Prometheus instruments for the platform.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	Transitions         *prometheus.CounterVec
	TransitionsRejected *prometheus.CounterVec
	ReconcilerSweeps    prometheus.Counter
	ReconcilerExpired   prometheus.Counter
	ReconcilerReminders prometheus.Counter
	NotificationsQueued prometheus.Counter
	LoginFailures       prometheus.Counter
	SecurityEvents      prometheus.Counter
	OutboxPublished     prometheus.Counter
	OutboxPublishErrors prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests pass a fresh
// registry so suites can construct metrics repeatedly.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bima_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bima_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bima_lifecycle_transitions_total",
			Help: "Lifecycle transitions applied, by entity kind and transition",
		}, []string{"kind", "transition"}),
		TransitionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bima_lifecycle_transitions_rejected_total",
			Help: "Lifecycle transitions rejected by a guard, by entity kind and reason",
		}, []string{"kind", "reason"}),
		ReconcilerSweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "bima_reconciler_sweeps_total",
			Help: "Completed reconciler sweeps",
		}),
		ReconcilerExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "bima_reconciler_expired_total",
			Help: "Records expired by the reconciler",
		}),
		ReconcilerReminders: factory.NewCounter(prometheus.CounterOpts{
			Name: "bima_reconciler_reminders_total",
			Help: "Expiry reminders enqueued by the reconciler",
		}),
		NotificationsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "bima_notifications_enqueued_total",
			Help: "In-app notifications enqueued",
		}),
		LoginFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bima_login_failures_total",
			Help: "Failed authentication attempts",
		}),
		SecurityEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "bima_security_events_total",
			Help: "Security events such as super-admin business-write attempts",
		}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "bima_audit_outbox_published_total",
			Help: "Audit outbox rows published to the broker",
		}),
		OutboxPublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bima_audit_outbox_publish_errors_total",
			Help: "Audit outbox publish failures",
		}),
	}
}
