// Package metrics holds the Prometheus collectors of the service. Every
// recorder is nil-safe so components can run without a registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tixpay"

// Metrics groups the recorders handed to each component.
type Metrics struct {
	HTTP    *HTTPMetrics
	Webhook *WebhookMetrics
	Gateway *GatewayMetrics
	Retry   *RetryMetrics
}

// New registers all collectors on reg. A nil reg yields no-op recorders.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		HTTP:    NewHTTPMetrics(reg),
		Webhook: NewWebhookMetrics(reg),
		Gateway: NewGatewayMetrics(reg),
		Retry:   NewRetryMetrics(reg),
	}
}

type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		return &HTTPMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	reg.MustRegister(requests, duration)
	return &HTTPMetrics{requests: requests, duration: duration}
}

func (m *HTTPMetrics) Observe(method, route string, code int, d time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	route = normalizeLabel(route)
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WebhookMetrics counts webhook deliveries by how they were resolved.
type WebhookMetrics struct {
	results *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhooks_total",
		Help:      "Gateway webhooks by result.",
	}, []string{"result"})
	reg.MustRegister(results)
	return &WebhookMetrics{results: results}
}

func (m *WebhookMetrics) Inc(result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(result)).Inc()
}

type GatewayMetrics struct {
	calls    *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_intents_total",
		Help:      "Payment intent calls by result.",
	}, []string{"result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_intent_duration_seconds",
		Help:      "Payment intent call latency in seconds.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
	})
	reg.MustRegister(calls, duration)
	return &GatewayMetrics{calls: calls, duration: duration}
}

func (m *GatewayMetrics) Observe(result string, d time.Duration) {
	if m == nil || m.calls == nil {
		return
	}
	m.calls.WithLabelValues(normalizeLabel(result)).Inc()
	m.duration.Observe(d.Seconds())
}

// RetryMetrics tracks the retry sweep.
type RetryMetrics struct {
	attempts  *prometheus.CounterVec
	exhausted prometheus.Counter
	sweep     prometheus.Histogram
	tickets   *prometheus.GaugeVec
}

func NewRetryMetrics(reg prometheus.Registerer) *RetryMetrics {
	if reg == nil {
		return &RetryMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_attempts_total",
		Help:      "Payment retry attempts by result.",
	}, []string{"result"})
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_exhausted_total",
		Help:      "Retry tickets that ran out of attempts.",
	})
	sweep := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retry_sweep_duration_seconds",
		Help:      "Duration of a retry sweep in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
	tickets := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retry_tickets",
		Help:      "Retry tickets by status as of the last sweep.",
	}, []string{"status"})
	reg.MustRegister(attempts, exhausted, sweep, tickets)
	return &RetryMetrics{
		attempts:  attempts,
		exhausted: exhausted,
		sweep:     sweep,
		tickets:   tickets,
	}
}

func (m *RetryMetrics) IncAttempt(result string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *RetryMetrics) IncExhausted() {
	if m == nil || m.exhausted == nil {
		return
	}
	m.exhausted.Inc()
}

func (m *RetryMetrics) ObserveSweep(d time.Duration) {
	if m == nil || m.sweep == nil {
		return
	}
	m.sweep.Observe(d.Seconds())
}

// SetTickets publishes a status -> count snapshot.
func (m *RetryMetrics) SetTickets(counts map[string]int64) {
	if m == nil || m.tickets == nil {
		return
	}
	for status, n := range counts {
		m.tickets.WithLabelValues(normalizeLabel(status)).Set(float64(n))
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
