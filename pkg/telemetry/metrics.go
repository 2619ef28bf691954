package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the conduit controller.
type Metrics struct {
	config MetricsConfig

	// Dispatch metrics
	dispatchesStarted *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	transportErrors   *prometheus.CounterVec

	// Pipeline metrics
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	pipelineSteps    *prometheus.CounterVec

	// Convergence metrics
	convergenceUnits *prometheus.CounterVec
	convergenceRuns  *prometheus.CounterVec

	// System metrics
	activeDispatches prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		dispatchesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of dispatched commands by backend and status",
			},
			[]string{"backend", "status"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of command dispatch in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Total number of transport-level errors by backend and kind",
			},
			[]string{"backend", "kind"},
		),

		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total number of pipeline runs by status",
			},
			[]string{"status"},
		),
		pipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		pipelineSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_steps_total",
				Help:      "Total number of executed pipeline steps by phase and status",
			},
			[]string{"phase", "status"},
		),

		convergenceUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "convergence_units_total",
				Help:      "Total number of convergence units by outcome",
			},
			[]string{"outcome"},
		),
		convergenceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "convergence_runs_total",
				Help:      "Total number of convergence runs by status",
			},
			[]string{"status"},
		),

		activeDispatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_dispatches",
				Help:      "Current number of in-flight dispatches",
			},
		),
	}

	registry.MustRegister(
		m.dispatchesStarted,
		m.dispatchDuration,
		m.transportErrors,
		m.pipelineRuns,
		m.pipelineDuration,
		m.pipelineSteps,
		m.convergenceUnits,
		m.convergenceRuns,
		m.activeDispatches,
	)

	return m, nil
}

// RecordDispatchStarted increments the in-flight dispatch gauge.
func (m *Metrics) RecordDispatchStarted() {
	if m.activeDispatches == nil {
		return
	}
	m.activeDispatches.Inc()
}

// RecordDispatchCompleted records a finished dispatch with its outcome.
func (m *Metrics) RecordDispatchCompleted(backend, status string, duration time.Duration) {
	if m.dispatchesStarted == nil {
		return
	}
	m.dispatchesStarted.WithLabelValues(backend, status).Inc()
	m.dispatchDuration.WithLabelValues(backend).Observe(duration.Seconds())
	m.activeDispatches.Dec()
}

// RecordTransportError counts a transport-level failure.
// kind is one of "unavailable", "auth", "command".
func (m *Metrics) RecordTransportError(backend, kind string) {
	if m.transportErrors == nil {
		return
	}
	m.transportErrors.WithLabelValues(backend, kind).Inc()
}

// RecordPipelineRun records a completed pipeline run.
func (m *Metrics) RecordPipelineRun(status string, duration time.Duration) {
	if m.pipelineRuns == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(status).Inc()
	m.pipelineDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPipelineStep records a single executed pipeline step.
func (m *Metrics) RecordPipelineStep(phase, status string) {
	if m.pipelineSteps == nil {
		return
	}
	m.pipelineSteps.WithLabelValues(phase, status).Inc()
}

// RecordConvergenceUnit records a convergence unit outcome
// ("applied", "skipped", "failed").
func (m *Metrics) RecordConvergenceUnit(outcome string) {
	if m.convergenceUnits == nil {
		return
	}
	m.convergenceUnits.WithLabelValues(outcome).Inc()
}

// RecordConvergenceRun records a completed convergence run.
func (m *Metrics) RecordConvergenceRun(status string) {
	if m.convergenceRuns == nil {
		return
	}
	m.convergenceRuns.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
