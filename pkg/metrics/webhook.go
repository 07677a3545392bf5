package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records delivery outcomes for the payment-provider webhook.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_event_duration_seconds",
		Help:    "Time spent reconciling a webhook event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(events, duration)
	return &WebhookMetrics{
		events:   events,
		duration: duration,
	}
}

// ObserveEvent records one delivery outcome.
func (m *WebhookMetrics) ObserveEvent(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if m.events != nil {
		m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
	}
	if m.duration != nil {
		m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
	}
}
