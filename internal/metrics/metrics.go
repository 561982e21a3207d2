// Package metrics exposes the orchestrator's Prometheus surface: plan
// lifecycle counters, step outcome counters, replan counts, approval
// latency, and HTTP request metrics, registered the same way the
// teacher's metrics package registers its agent/coordination gauges.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"modelops/orchestrator/internal/domain"
)

// Metrics holds every Prometheus collector the orchestrator reports.
type Metrics struct {
	PlanStatusTotal  *prometheus.CounterVec
	StepOutcomeTotal *prometheus.CounterVec
	ReplansTotal     prometheus.Counter
	ApprovalLatency  prometheus.Histogram

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuditBufferDepth prometheus.GaugeFunc
}

// New creates and registers every orchestrator metric. bufferDepth
// reports the current audit sink buffer occupancy (nil disables it).
func New(bufferDepth func() float64) *Metrics {
	m := &Metrics{
		PlanStatusTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_plan_status_transitions_total",
				Help: "Total number of plan status transitions, by resulting status",
			},
			[]string{"status"},
		),
		StepOutcomeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_step_outcomes_total",
				Help: "Total number of step executions, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		ReplansTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_replans_total",
				Help: "Total number of plan replans triggered",
			},
		),
		ApprovalLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_approval_latency_seconds",
				Help:    "Time between plan creation and an approval decision",
				Buckets: []float64{1, 5, 30, 60, 300, 900, 3600, 14400, 86400},
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "path"},
		),
	}

	if bufferDepth != nil {
		m.AuditBufferDepth = promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "orchestrator_audit_buffer_depth",
				Help: "Current number of records queued in the audit sink buffer",
			},
			bufferDepth,
		)
	}

	return m
}

// ObservePlanStatus implements orchestrator.Metrics.
func (m *Metrics) ObservePlanStatus(status domain.PlanStatus) {
	m.PlanStatusTotal.WithLabelValues(string(status)).Inc()
}

// ObserveStepOutcome implements orchestrator.Metrics.
func (m *Metrics) ObserveStepOutcome(action string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.StepOutcomeTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveReplan implements orchestrator.Metrics.
func (m *Metrics) ObserveReplan() {
	m.ReplansTotal.Inc()
}

// ObserveApprovalLatency implements orchestrator.Metrics.
func (m *Metrics) ObserveApprovalLatency(d time.Duration) {
	m.ApprovalLatency.Observe(d.Seconds())
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
