// Package metrics exposes ingestion counters and gauges for Prometheus.
//
// Every method is safe to call on a nil *Metrics, so components can run
// without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "den"

// Metrics holds the collectors of one ingester process
type Metrics struct {
	// FramesTotal counts stream lines by frame kind.
	// Labels: kind (event, data, ignored, other)
	FramesTotal *prometheus.CounterVec

	// PointsWrittenTotal counts points accepted by the sink.
	// Labels: measurement
	PointsWrittenTotal *prometheus.CounterVec

	// SinkErrorsTotal counts failed sink writes.
	// Labels: sink
	SinkErrorsTotal *prometheus.CounterVec

	// ReconnectsTotal counts pipeline restarts.
	// Labels: reason (transport cause, sink, eof)
	ReconnectsTotal *prometheus.CounterVec

	SessionsTotal  prometheus.Counter
	BackoffSeconds prometheus.Gauge
	StreamUp       prometheus.Gauge

	registry *prometheus.Registry
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "frames_total",
				Help:      "Stream lines received by frame kind",
			},
			[]string{"kind"},
		),
		PointsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "points_written_total",
				Help:      "Points written by measurement",
			},
			[]string{"measurement"},
		),
		SinkErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Failed sink writes by sink",
			},
			[]string{"sink"},
		),
		ReconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "reconnects_total",
				Help:      "Pipeline restarts by reason",
			},
			[]string{"reason"},
		),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Stream sessions opened",
		}),
		BackoffSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "backoff_seconds",
			Help:      "Delay before the pending reconnect",
		}),
		StreamUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "up",
			Help:      "1 while a stream session is open",
		}),
		registry: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFrame counts one decoded line of the given kind
func (m *Metrics) ObserveFrame(kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind).Inc()
}

// ObservePoints counts n points written for measurement
func (m *Metrics) ObservePoints(measurement string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PointsWrittenTotal.WithLabelValues(measurement).Add(float64(n))
}

// ObserveSinkError counts a failed write to the named sink
func (m *Metrics) ObserveSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveReconnect counts a reconnect and records the delay before it
func (m *Metrics) ObserveReconnect(reason string, backoffSeconds float64) {
	if m == nil {
		return
	}
	m.ReconnectsTotal.WithLabelValues(reason).Inc()
	m.BackoffSeconds.Set(backoffSeconds)
}

// SessionStarted marks a stream as open
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.StreamUp.Set(1)
}

// SessionEnded marks the stream as closed
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.StreamUp.Set(0)
}
