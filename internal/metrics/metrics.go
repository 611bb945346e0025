// Package metrics exposes Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ollama_relay"

// Collector owns the relay's metrics and the registry they are registered with. A nil *Collector is valid
// and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	backendErrors  *prometheus.CounterVec
	fragments      prometheus.Counter
	droppedFrames  prometheus.Counter
	streams        *prometheus.CounterVec
	streamDuration prometheus.Histogram
	activeStreams  prometheus.Gauge
}

// NewCollector creates a Collector registered with registry. If registry is nil, a new one is created.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests handled, by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Failed backend calls, by endpoint.",
		}, []string{"endpoint"}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Fragment events sent to stream clients.",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Backend stream lines that could not be decoded.",
		}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Finished streams, by outcome.",
		}, []string{"outcome"}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Time from opening the backend stream to closing the client stream.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streams currently in flight.",
		}),
	}

	registry.MustRegister(
		c.requests,
		c.backendErrors,
		c.fragments,
		c.droppedFrames,
		c.streams,
		c.streamDuration,
		c.activeStreams,
	)
	return c
}

// Registry returns the registry the collector's metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts a handled request.
func (c *Collector) RecordRequest(endpoint string, code int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// RecordBackendError counts a failed backend call.
func (c *Collector) RecordBackendError(endpoint string) {
	if c == nil {
		return
	}
	c.backendErrors.WithLabelValues(endpoint).Inc()
}

// StreamStarted marks a stream as in flight until the matching StreamFinished.
func (c *Collector) StreamStarted() {
	if c == nil {
		return
	}
	c.activeStreams.Inc()
}

// FragmentSent counts a fragment event.
func (c *Collector) FragmentSent() {
	if c == nil {
		return
	}
	c.fragments.Inc()
}

// FrameDropped counts an undecodable backend line.
func (c *Collector) FrameDropped() {
	if c == nil {
		return
	}
	c.droppedFrames.Inc()
}

// StreamFinished records the outcome and duration of a stream.
func (c *Collector) StreamFinished(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.activeStreams.Dec()
	c.streams.WithLabelValues(outcome).Inc()
	c.streamDuration.Observe(elapsed.Seconds())
}
