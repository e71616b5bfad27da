// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector receives observations from the session, the paint
// pipelines and the stream buffers. Implementations must be safe for
// concurrent use.
type MetricsCollector interface {
	PacketReceived(command string)
	PacketSent(command string)
	PaintCompleted(encoding string, elapsed time.Duration, err error)
	QueueDepth(queue string, depth int)
	StreamTeardown(stream, reason string)
	PingLatency(latency time.Duration)
}

// NoOpMetrics is a MetricsCollector implementation that discards all metrics.
type NoOpMetrics struct{}

func (m *NoOpMetrics) PacketReceived(command string)                            {}
func (m *NoOpMetrics) PacketSent(command string)                                {}
func (m *NoOpMetrics) PaintCompleted(encoding string, _ time.Duration, _ error) {}
func (m *NoOpMetrics) QueueDepth(queue string, depth int)                       {}
func (m *NoOpMetrics) StreamTeardown(stream, reason string)                     {}
func (m *NoOpMetrics) PingLatency(latency time.Duration)                        {}

// MetricsConfig configures PrometheusMetrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "xpra").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for decode durations in seconds.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures PrometheusMetrics.
type MetricsOption func(*MetricsConfig)

// WithMetricsNamespace sets the metrics namespace.
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithMetricsSubsystem sets the metrics subsystem.
func WithMetricsSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithMetricsConstLabels sets constant labels for all metrics.
func WithMetricsConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithMetricsBuckets sets the decode duration histogram buckets.
func WithMetricsBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithMetricsRegistry sets the Prometheus registry.
func WithMetricsRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "xpra",
		Subsystem: "client",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// PrometheusMetrics is a MetricsCollector backed by client_golang.
type PrometheusMetrics struct {
	packetsReceived *prometheus.CounterVec
	packetsSent     *prometheus.CounterVec
	paintDuration   *prometheus.HistogramVec
	paintErrors     *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	teardowns       *prometheus.CounterVec
	pingLatency     prometheus.Histogram
}

// NewPrometheusMetrics registers the client metrics on the configured registry.
// Registering twice on the same registry panics, as with promauto.
func NewPrometheusMetrics(opts ...MetricsOption) *PrometheusMetrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Buckets == nil {
		config.Buckets = prometheus.DefBuckets
	}

	factory := promauto.With(config.Registry)

	return &PrometheusMetrics{
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_received_total",
			Help:        "Total number of packets received, by command",
			ConstLabels: config.ConstLabels,
		}, []string{"command"}),

		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Total number of packets sent, by command",
			ConstLabels: config.ConstLabels,
		}, []string{"command"}),

		paintDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "paint_duration_seconds",
			Help:        "Paint decode duration in seconds, by encoding",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"encoding"}),

		paintErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "paint_errors_total",
			Help:        "Total number of failed paint decodes, by encoding",
			ConstLabels: config.ConstLabels,
		}, []string{"encoding"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "queue_depth",
			Help:        "Last observed depth of the paint, video and audio queues",
			ConstLabels: config.ConstLabels,
		}, []string{"queue"}),

		teardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "stream_teardowns_total",
			Help:        "Total number of video and audio stream teardowns",
			ConstLabels: config.ConstLabels,
		}, []string{"stream", "reason"}),

		pingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "ping_latency_seconds",
			Help:        "Round trip time of client pings",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
	}
}

// PacketReceived counts an inbound packet.
func (m *PrometheusMetrics) PacketReceived(command string) {
	m.packetsReceived.WithLabelValues(command).Inc()
}

// PacketSent counts an outbound packet.
func (m *PrometheusMetrics) PacketSent(command string) {
	m.packetsSent.WithLabelValues(command).Inc()
}

// PaintCompleted records a finished decode. Failed decodes only count errors.
func (m *PrometheusMetrics) PaintCompleted(encoding string, elapsed time.Duration, err error) {
	if err != nil {
		m.paintErrors.WithLabelValues(encoding).Inc()
		return
	}
	m.paintDuration.WithLabelValues(encoding).Observe(elapsed.Seconds())
}

// QueueDepth records the current length of a queue.
func (m *PrometheusMetrics) QueueDepth(queue string, depth int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// StreamTeardown counts a torn down video or audio stream.
func (m *PrometheusMetrics) StreamTeardown(stream, reason string) {
	m.teardowns.WithLabelValues(stream, reason).Inc()
}

// PingLatency records a ping round trip.
func (m *PrometheusMetrics) PingLatency(latency time.Duration) {
	m.pingLatency.Observe(latency.Seconds())
}
