// Package prometheus implements the metrics interfaces on top of
// prometheus/client_golang.
package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics implements metrics.ServerMetrics with prometheus
// collectors registered on a private registry.
type ServerMetrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	bytesTransferred *prometheus.CounterVec

	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
}

// NewServerMetrics creates the collectors and registers them.
func NewServerMetrics() *ServerMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &ServerMetrics{
		registry: registry,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zippynfs",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total RPC requests by procedure and error code.",
		}, []string{"procedure", "error"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zippynfs",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "RPC request latency by procedure.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"procedure"}),

		requestsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zippynfs",
			Subsystem: "server",
			Name:      "requests_in_flight",
			Help:      "Requests currently being processed by procedure.",
		}, []string{"procedure"}),

		bytesTransferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zippynfs",
			Subsystem: "server",
			Name:      "bytes_transferred_total",
			Help:      "Payload bytes moved by direction (read/write).",
		}, []string{"direction"}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "zippynfs",
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Currently open client connections.",
		}),

		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zippynfs",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Total accepted client connections.",
		}),

		connectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zippynfs",
			Subsystem: "server",
			Name:      "connections_closed_total",
			Help:      "Total closed client connections.",
		}),
	}
}

// Handler returns an http.Handler serving the registry in the prometheus
// exposition format.
func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request.
func (m *ServerMetrics) RecordRequest(procedure string, duration time.Duration, errorCode string) {
	m.requestsTotal.WithLabelValues(procedure, errorCode).Inc()
	m.requestDuration.WithLabelValues(procedure).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (m *ServerMetrics) RecordRequestStart(procedure string) {
	m.requestsInFlight.WithLabelValues(procedure).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (m *ServerMetrics) RecordRequestEnd(procedure string) {
	m.requestsInFlight.WithLabelValues(procedure).Dec()
}

// RecordBytesTransferred records payload bytes moved.
func (m *ServerMetrics) RecordBytesTransferred(direction string, bytes uint64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

// SetActiveConnections updates the connection gauge.
func (m *ServerMetrics) SetActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

// RecordConnectionAccepted increments the accepted counter.
func (m *ServerMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

// RecordConnectionClosed increments the closed counter.
func (m *ServerMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}
