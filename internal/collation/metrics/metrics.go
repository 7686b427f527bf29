// Package metrics provides observability for the aggregation engine and the
// collation result workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks aggregation runs and collation workflow transitions. All
// helper methods are safe on a nil receiver so services can run without
// metrics wired.
type Metrics struct {
	// Aggregation runs by target level, labelled by outcome.
	AggregationRuns *prometheus.CounterVec

	// Duration of one full-level aggregation pass, by target level.
	AggregationLatency *prometheus.HistogramVec

	// Parent units recomputed across all runs.
	UnitsAggregated prometheus.Counter

	// Parent units whose recomputation failed; siblings still complete.
	UnitFailures prometheus.Counter

	// Collation result workflow transitions by action.
	Transitions *prometheus.CounterVec
}

// New creates a Metrics instance with all collation metrics registered.
func New() *Metrics {
	return &Metrics{
		AggregationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collate_aggregation_runs_total",
			Help: "Aggregation passes by target level and outcome",
		}, []string{"level", "outcome"}),
		AggregationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collate_aggregation_duration_seconds",
			Help:    "Duration of one full-level aggregation pass",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"level"}),
		UnitsAggregated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collate_aggregation_units_total",
			Help: "Parent units recomputed by the aggregation engine",
		}),
		UnitFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collate_aggregation_unit_failures_total",
			Help: "Parent units whose recomputation failed",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collate_result_transitions_total",
			Help: "Collation result workflow transitions by action",
		}, []string{"action"}),
	}
}

// ObserveRun records one completed aggregation pass.
func (m *Metrics) ObserveRun(level string, failed bool, start time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "partial"
	}
	m.AggregationRuns.WithLabelValues(level, outcome).Inc()
	m.AggregationLatency.WithLabelValues(level).Observe(time.Since(start).Seconds())
}

// AddUnits records recomputed parent units.
func (m *Metrics) AddUnits(n int) {
	if m != nil {
		m.UnitsAggregated.Add(float64(n))
	}
}

// IncrementUnitFailure records one failed parent unit.
func (m *Metrics) IncrementUnitFailure() {
	if m != nil {
		m.UnitFailures.Inc()
	}
}

// IncrementTransition records a completed workflow transition.
func (m *Metrics) IncrementTransition(action string) {
	if m != nil {
		m.Transitions.WithLabelValues(action).Inc()
	}
}
