// Package metrics exposes Prometheus metrics for bridged calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame directions.
const (
	DirectionTelephonyIn  = "telephony_in"
	DirectionTelephonyOut = "telephony_out"
	DirectionUpstreamIn   = "upstream_in"
	DirectionUpstreamOut  = "upstream_out"
)

// Metrics holds all Prometheus metrics for the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CallsActive    prometheus.Gauge
	CallsTotal     *prometheus.CounterVec
	CallDuration   prometheus.Histogram
	FramesTotal    *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	Interruptions  prometheus.Counter
	ParseErrors    *prometheus.CounterVec
	UpstreamErrors prometheus.Counter
	Deliveries     *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "realtime_bridge"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of media streams currently bridged",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of bridged media streams by outcome",
		}, []string{"outcome"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Bridged media stream duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Audio frames relayed by direction",
		}, []string{"direction"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames dropped by reason",
		}, []string{"reason"}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Assistant responses truncated by caller barge-in",
		}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Malformed inbound frames by source",
		}, []string{"source"}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Realtime API connections that failed or closed unexpectedly",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_deliveries_total",
			Help:      "Transcript processing stage results",
		}, []string{"stage", "status"}),
	}

	registry.MustRegister(
		m.CallsActive,
		m.CallsTotal,
		m.CallDuration,
		m.FramesTotal,
		m.FramesDropped,
		m.Interruptions,
		m.ParseErrors,
		m.UpstreamErrors,
		m.Deliveries,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CallStarted records a media stream being bridged.
func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

// CallEnded records a bridged media stream ending.
func (m *Metrics) CallEnded(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(outcome).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

// Frame records one relayed frame.
func (m *Metrics) Frame(direction string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction).Inc()
}

// FrameDropped records one dropped frame.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// Interruption records one barge-in truncation.
func (m *Metrics) Interruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// ParseError records one malformed inbound frame.
func (m *Metrics) ParseError(source string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(source).Inc()
}

// UpstreamError records one failed or lost realtime API connection.
func (m *Metrics) UpstreamError() {
	if m == nil {
		return
	}
	m.UpstreamErrors.Inc()
}

// Delivery records the result of one transcript processing stage.
func (m *Metrics) Delivery(stage string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Deliveries.WithLabelValues(stage, status).Inc()
}
