// Package metrics provides Prometheus instrumentation for workflow runs,
// stage latencies, backend calls and background persistence.
//
// Metrics are registered on a caller-supplied registry so that every test and
// every server instance gets an isolated set. All methods are safe to call on
// a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nevra"

// Metrics holds all collectors for one process.
type Metrics struct {
	// WorkflowRuns counts finished workflows.
	// Labels: final_state, mode
	WorkflowRuns *prometheus.CounterVec

	// WorkflowDuration tracks end-to-end workflow latency.
	WorkflowDuration prometheus.Histogram

	// StageDuration tracks per-stage latency.
	// Labels: stage
	StageDuration *prometheus.HistogramVec

	// LoopAttempts tracks attempts per workflow.
	// Labels: kind (execution, revision, total)
	LoopAttempts *prometheus.HistogramVec

	// CircuitBreakerTrips counts workflows stopped by the circuit breaker.
	CircuitBreakerTrips prometheus.Counter

	// BackendCalls counts generative backend calls.
	// Labels: model, outcome (success, error)
	BackendCalls *prometheus.CounterVec

	// BackendRetries counts retried backend attempts.
	// Labels: reason (rate_limited, server_error, transport)
	BackendRetries *prometheus.CounterVec

	// BackendLatency tracks backend call latency including retries.
	BackendLatency prometheus.Histogram

	// SideEffectFailures counts failed fire-and-forget operations.
	// Labels: operation (memory, agent_memory, knowledge, reflection, audit)
	SideEffectFailures *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WorkflowRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "runs_total",
				Help:      "Total number of finished workflows by final state",
			},
			[]string{"final_state", "mode"},
		),
		WorkflowDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "duration_seconds",
				Help:      "End-to-end workflow duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "stage_duration_seconds",
				Help:      "Duration of individual workflow stages in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		LoopAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "loop_attempts",
				Help:      "Execution, revision and total loop attempts per workflow",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
			},
			[]string{"kind"},
		),
		CircuitBreakerTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of workflows stopped by the circuit breaker",
			},
		),
		BackendCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "calls_total",
				Help:      "Total number of generative backend calls",
			},
			[]string{"model", "outcome"},
		),
		BackendRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "retries_total",
				Help:      "Total number of retried backend attempts",
			},
			[]string{"reason"},
		),
		BackendLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "call_duration_seconds",
				Help:      "Backend call duration including retries in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		SideEffectFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "persistence",
				Name:      "side_effect_failures_total",
				Help:      "Total number of failed background persistence operations",
			},
			[]string{"operation"},
		),
	}
}

// RecordWorkflow records a finished workflow.
func (m *Metrics) RecordWorkflow(finalState, mode string, d time.Duration, exec, revise, total int, tripped bool) {
	if m == nil {
		return
	}
	m.WorkflowRuns.WithLabelValues(finalState, mode).Inc()
	m.WorkflowDuration.Observe(d.Seconds())
	m.LoopAttempts.WithLabelValues("execution").Observe(float64(exec))
	m.LoopAttempts.WithLabelValues("revision").Observe(float64(revise))
	m.LoopAttempts.WithLabelValues("total").Observe(float64(total))
	if tripped {
		m.CircuitBreakerTrips.Inc()
	}
}

// ObserveStage records the duration of one stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordBackendCall records the outcome of one backend call.
func (m *Metrics) RecordBackendCall(model string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.BackendCalls.WithLabelValues(model, outcome).Inc()
	m.BackendLatency.Observe(d.Seconds())
}

// RecordBackendRetry records one retried attempt.
func (m *Metrics) RecordBackendRetry(reason string) {
	if m == nil {
		return
	}
	m.BackendRetries.WithLabelValues(reason).Inc()
}

// RecordSideEffectFailure records a failed fire-and-forget operation.
func (m *Metrics) RecordSideEffectFailure(operation string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(operation).Inc()
}
