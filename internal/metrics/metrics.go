package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the bridge.
type Metrics struct {
	// Requests counts façade calls by action and outcome.
	Requests *prometheus.CounterVec

	// RequestDuration observes end-to-end request latency by action.
	RequestDuration *prometheus.HistogramVec

	// InFlight tracks currently pending requests.
	InFlight prometheus.Gauge

	// Tokens counts partial token events delivered to callers.
	Tokens prometheus.Counter

	// Reconnects counts backend reconnection attempts.
	Reconnects prometheus.Counter

	// ConnectionState exposes the backend connection state machine
	// (0=disconnected, 1=connecting, 2=open, 3=closing).
	ConnectionState prometheus.Gauge
}

// Outcome labels for the Requests counter.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// New registers the bridge collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pillama_requests_total",
				Help: "Total number of bridge requests by action and outcome",
			},
			[]string{"action", "outcome"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pillama_request_duration_seconds",
				Help:    "End-to-end request latency by action",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"action"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pillama_requests_in_flight",
				Help: "Current number of pending requests",
			},
		),

		Tokens: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pillama_tokens_total",
				Help: "Total number of token events delivered to callers",
			},
		),

		Reconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pillama_backend_reconnects_total",
				Help: "Total number of backend reconnection attempts",
			},
		),

		ConnectionState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pillama_backend_connection_state",
				Help: "Backend connection state (0=disconnected, 1=connecting, 2=open, 3=closing)",
			},
		),
	}
}
