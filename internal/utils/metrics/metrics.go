package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Presence metrics
	ConnectionsActive *prometheus.GaugeVec
	MessagesTotal     *prometheus.CounterVec
	BroadcastsTotal   prometheus.Counter
	EvictionsTotal    *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry.
func New(namespace string) *Metrics {
	return NewWith(namespace, nil)
}

// NewWith creates a new Metrics instance registered on reg. A nil reg uses
// the default registry.
func NewWith(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "schemastudio"
	}
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Presence metrics
		ConnectionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "presence",
				Name:      "connections_active",
				Help:      "Current number of live collaboration connections",
			},
			[]string{"workspace"},
		),
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "presence",
				Name:      "messages_total",
				Help:      "Total number of protocol messages handled",
			},
			[]string{"type"},
		),
		BroadcastsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "presence",
				Name:      "broadcasts_total",
				Help:      "Total number of workspace broadcasts",
			},
		),
		EvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "presence",
				Name:      "evictions_total",
				Help:      "Total number of evicted connections",
			},
			[]string{"reason"}, // send_failed, liveness, closed
		),
	}
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMessage counts one handled protocol message.
func (m *Metrics) RecordMessage(msgType string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(msgType).Inc()
}

// RecordEviction counts one evicted connection.
func (m *Metrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.EvictionsTotal.WithLabelValues(reason).Inc()
}

// RecordBroadcast counts one workspace broadcast.
func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
}

// SetConnections sets the live connection gauge for a workspace.
func (m *Metrics) SetConnections(workspace string, n int) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(workspace).Set(float64(n))
}
