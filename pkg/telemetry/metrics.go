package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// Metrics is the Prometheus sink for engine execution counters. A
// disabled instance has nil collectors and records nothing.
type Metrics struct {
	config MetricsConfig

	runsCompleted  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	actionOutcomes *prometheus.CounterVec
	serviceStartup *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ engine.MetricsSink = (*Metrics)(nil)

// NewMetrics creates the metrics sink.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		tasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks completed",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
		actionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_outcomes_total",
				Help:      "Total number of action outcomes, including idempotent skips",
			},
			[]string{"outcome"},
		),
		serviceStartup: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_startup_seconds",
				Help:      "Time for a service to reach healthy",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.tasksCompleted,
		m.taskDuration,
		m.actionOutcomes,
		m.serviceStartup,
	)
	return m
}

// RunCompleted records a finished run.
func (m *Metrics) RunCompleted(status engine.RunStatus, d time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// TaskCompleted records a finished task.
func (m *Metrics) TaskCompleted(task string, status engine.TaskStatus, d time.Duration) {
	if m.tasksCompleted == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(task, string(status)).Inc()
	m.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

// ActionCompleted records an action outcome.
func (m *Metrics) ActionCompleted(_ string, outcome engine.ActionOutcome) {
	if m.actionOutcomes == nil {
		return
	}
	m.actionOutcomes.WithLabelValues(string(outcome)).Inc()
}

// ServiceStarted records how long a service took to turn healthy.
func (m *Metrics) ServiceStarted(service string, d time.Duration) {
	if m.serviceStartup == nil {
		return
	}
	m.serviceStartup.WithLabelValues(service).Observe(d.Seconds())
}

// Handler returns the exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics endpoint in the background. It returns
// immediately; serve errors are ignored since metrics are best-effort.
func (m *Metrics) Serve() {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
}
