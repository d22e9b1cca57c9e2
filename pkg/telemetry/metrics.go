package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Fleetyard.
type Metrics struct {
	config MetricsConfig

	// Mission metrics
	missionsStarted   *prometheus.CounterVec
	missionsCompleted *prometheus.CounterVec

	// Service dispatch metrics
	serviceDispatches      *prometheus.CounterVec
	serviceDispatchSeconds *prometheus.HistogramVec

	// Assignment metrics
	assignmentsTerminal        *prometheus.CounterVec
	assignmentDispatchFailures prometheus.Counter

	// Failure policy metrics
	failurePolicyResolutions *prometheus.CounterVec

	// Event handler metrics
	handlerErrors *prometheus.CounterVec

	// System metrics
	activeMissions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		missionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missions_started_total",
				Help:      "Total number of missions that entered calculation",
			},
			[]string{"type"},
		),
		missionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missions_completed_total",
				Help:      "Total number of missions reaching a terminal status",
			},
			[]string{"status"},
		),

		serviceDispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_dispatches_total",
				Help:      "Total number of microservice dispatches",
			},
			[]string{"service_type", "outcome"},
		),
		serviceDispatchSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_dispatch_duration_seconds",
				Help:      "Duration of microservice dispatch calls in seconds",
				Buckets:   buckets,
			},
			[]string{"service_type"},
		),

		assignmentsTerminal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assignments_terminal_total",
				Help:      "Total number of assignments reaching a terminal status",
			},
			[]string{"status"},
		),
		assignmentDispatchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assignment_dispatch_failures_total",
				Help:      "Total number of assignment deliveries that failed",
			},
		),

		failurePolicyResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failure_policy_resolutions_total",
				Help:      "Total number of failure policy executions by action",
			},
			[]string{"action"},
		),

		handlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Total number of notification handler failures",
			},
			[]string{"channel"},
		),

		activeMissions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_missions",
				Help:      "Current number of missions between dispatch and terminal status",
			},
		),
	}

	registry.MustRegister(
		m.missionsStarted,
		m.missionsCompleted,
		m.serviceDispatches,
		m.serviceDispatchSeconds,
		m.assignmentsTerminal,
		m.assignmentDispatchFailures,
		m.failurePolicyResolutions,
		m.handlerErrors,
		m.activeMissions,
	)

	return m, nil
}

// Mission Metrics

// IncMissionStarted increments the counter for started missions.
func (m *Metrics) IncMissionStarted(missionType string) {
	if m.missionsStarted == nil {
		return
	}
	m.missionsStarted.WithLabelValues(missionType).Inc()
	m.activeMissions.Inc()
}

// IncMissionCompleted records a mission reaching a terminal status.
func (m *Metrics) IncMissionCompleted(status string) {
	if m.missionsCompleted == nil {
		return
	}
	m.missionsCompleted.WithLabelValues(status).Inc()
	m.activeMissions.Dec()
}

// Service Dispatch Metrics

// ObserveServiceDispatch records a microservice dispatch with its outcome
// and duration.
func (m *Metrics) ObserveServiceDispatch(serviceType string, ok bool, duration time.Duration) {
	if m.serviceDispatches == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.serviceDispatches.WithLabelValues(serviceType, outcome).Inc()
	m.serviceDispatchSeconds.WithLabelValues(serviceType).Observe(duration.Seconds())
}

// Assignment Metrics

// IncAssignmentTerminal records an assignment reaching a terminal status.
func (m *Metrics) IncAssignmentTerminal(status string) {
	if m.assignmentsTerminal == nil {
		return
	}
	m.assignmentsTerminal.WithLabelValues(status).Inc()
}

// IncAssignmentDispatchFailure records a failed assignment delivery.
func (m *Metrics) IncAssignmentDispatchFailure() {
	if m.assignmentDispatchFailures == nil {
		return
	}
	m.assignmentDispatchFailures.Inc()
}

// Failure Policy Metrics

// IncFailurePolicy records a failure policy execution.
func (m *Metrics) IncFailurePolicy(action string) {
	if m.failurePolicyResolutions == nil {
		return
	}
	m.failurePolicyResolutions.WithLabelValues(action).Inc()
}

// Event Handler Metrics

// IncHandlerError records a notification handler failure.
func (m *Metrics) IncHandlerError(channel string) {
	if m.handlerErrors == nil {
		return
	}
	m.handlerErrors.WithLabelValues(channel).Inc()
}

// SetActiveMissions sets the current number of active missions.
func (m *Metrics) SetActiveMissions(count float64) {
	if m.activeMissions == nil {
		return
	}
	m.activeMissions.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
