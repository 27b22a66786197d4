package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records processing outcomes for inbound processor events.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Webhook outcome labels.
const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeSkipped   = "skipped"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeFailed    = "failed"
	WebhookOutcomeRejected  = "rejected"
)

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_event_duration_seconds",
		Help:    "Processing duration of inbound webhook events.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(events, duration)
	return &WebhookMetrics{
		events:   events,
		duration: duration,
	}
}

// IncEvent increments the counter for the given event type and outcome.
func (m *WebhookMetrics) IncEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveDuration records how long processing an event took.
func (m *WebhookMetrics) ObserveDuration(eventType string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}
