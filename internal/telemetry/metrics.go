package telemetry

import (
	"errors"
	"net/http"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	CheckoutAttempts *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	SagaSteps        *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
}

// NewMetrics creates the service metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckoutAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		SagaSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "saga_steps_total",
			Help:      "Fulfilment saga step executions by step and outcome.",
		}, []string{"step", "outcome"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	reg.MustRegister(m.CheckoutAttempts, m.WebhookEvents, m.SagaSteps, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) ObserveCheckout(err error) {
	if m == nil {
		return
	}
	m.CheckoutAttempts.WithLabelValues(Outcome(err)).Inc()
}

func (m *Metrics) ObserveWebhook(eventType string, err error) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, Outcome(err)).Inc()
}

func (m *Metrics) ObserveSagaStep(step string, err error) {
	if m == nil {
		return
	}
	m.SagaSteps.WithLabelValues(step, Outcome(err)).Inc()
}

// Outcome maps an error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrLockAcquisitionFailed):
		return "conflict"
	case errors.Is(err, domain.ErrResourceNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "failure"
	}
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
