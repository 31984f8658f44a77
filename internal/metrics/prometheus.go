// Package metrics provides Prometheus metrics for keygate.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keygate"

// Metrics holds the Prometheus collectors updated by request handlers and
// background workers.
type Metrics struct {
	BillingEvents       *prometheus.CounterVec
	ActivationResults   *prometheus.CounterVec
	WebhookDeliveries   *prometheus.CounterVec
	WebhookLatency      *prometheus.HistogramVec
	SignatureRejections *prometheus.CounterVec
	HTTPRequests        *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BillingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_total",
			Help:      "Inbound billing events by type and outcome.",
		}, []string{"type", "outcome"}),
		ActivationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activation_results_total",
			Help:      "Activation attempts by outcome.",
		}, []string{"outcome"}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_attempts_total",
			Help:      "Outbound webhook delivery attempts by event and outcome.",
		}, []string{"event", "outcome"}),
		WebhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Outbound webhook delivery latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"event"}),
		SignatureRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_rejections_total",
			Help:      "Rejected inbound signatures by scheme and reason.",
		}, []string{"scheme", "reason"}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.BillingEvents,
		m.ActivationResults,
		m.WebhookDeliveries,
		m.WebhookLatency,
		m.SignatureRejections,
		m.HTTPRequests,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveBillingEvent counts a processed billing event.
func (m *Metrics) ObserveBillingEvent(eventType, outcome string) {
	m.BillingEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordActivation counts an activation attempt outcome.
func (m *Metrics) RecordActivation(outcome string) {
	m.ActivationResults.WithLabelValues(outcome).Inc()
}

// ObserveWebhookDelivery counts one delivery attempt and records its latency.
func (m *Metrics) ObserveWebhookDelivery(event string, delivered bool, d time.Duration) {
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	m.WebhookDeliveries.WithLabelValues(event, outcome).Inc()
	m.WebhookLatency.WithLabelValues(event).Observe(d.Seconds())
}

// RecordSignatureRejection counts a rejected inbound signature.
func (m *Metrics) RecordSignatureRejection(scheme, reason string) {
	m.SignatureRejections.WithLabelValues(scheme, reason).Inc()
}

// ObserveHTTPRequest records the latency of a handled request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
