// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ask outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeAgentError = "agent_error"
	OutcomeInvalid    = "invalid"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry, so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	AskTotal    *prometheus.CounterVec
	AskDuration prometheus.Histogram
	StoreErrors *prometheus.CounterVec
	AgentErrors *prometheus.CounterVec
	WSClients   prometheus.Gauge
}

// New registers the instruments under namespace, plus the Go runtime and
// process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AskTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_total",
			Help:      "Questions answered, by outcome.",
		}, []string{"outcome"}),
		AskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "End-to-end latency of an ask exchange.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Key-value store failures, by operation.",
		}, []string{"op"}),
		AgentErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_errors_total",
			Help:      "Agent invocation failures, by provider.",
		}, []string{"provider"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}
}

// ObserveAsk records one exchange.
func (m *Metrics) ObserveAsk(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AskTotal.WithLabelValues(outcome).Inc()
	m.AskDuration.Observe(d.Seconds())
}

// StoreError counts a failed store operation.
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

// AgentError counts a failed agent invocation.
func (m *Metrics) AgentError(provider string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "unknown"
	}
	m.AgentErrors.WithLabelValues(provider).Inc()
}

// ClientConnected adjusts the WebSocket client gauge by delta.
func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.WSClients.Add(float64(delta))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
