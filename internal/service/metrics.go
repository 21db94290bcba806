package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates engine operation durations and work-item outcomes.
// It satisfies the engine's MetricsRecorder seam, so one instance serves
// both the runner and the service.
type Metrics struct {
	operations *prometheus.HistogramVec
	workItems  *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "bdqcore_operation_duration_seconds",
			Help: "Duration of engine operations (label \"operation\" is job or provider_invoke, label \"outcome\" is success or failure)",
		}, []string{"operation", "outcome"}),
		workItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bdqcore_work_items_total",
			Help: "Work items processed (label \"result\" is succeeded, failed, or duplicate)",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.operations, m.workItems} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one engine operation.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.operations.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// CountWorkItem tallies one processed work item by result.
func (m *Metrics) CountWorkItem(result string) {
	m.workItems.WithLabelValues(result).Inc()
}
