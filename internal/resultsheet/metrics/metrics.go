// Package metrics provides observability for the result-sheet workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks sheet creation, workflow transitions, and submit-path
// latency. All helper methods are safe on a nil receiver so services can
// run without metrics wired.
type Metrics struct {
	SheetsCreated prometheus.Counter

	// Workflow transitions by action (submit, verify, approve, ...).
	Transitions *prometheus.CounterVec

	// Submit latency covers the precondition checks, the discrepancy
	// detector pass, and the conditional update.
	SubmitLatency prometheus.Histogram

	// Quality scores stamped on submit.
	QualityScore prometheus.Histogram

	// Detector findings persisted during submit, by discrepancy type.
	DetectorFindings *prometheus.CounterVec
}

// New creates a Metrics instance with all result-sheet metrics registered.
func New() *Metrics {
	return &Metrics{
		SheetsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collate_sheets_created_total",
			Help: "Total result sheets created",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collate_sheet_transitions_total",
			Help: "Total result-sheet workflow transitions by action",
		}, []string{"action"}),
		SubmitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collate_sheet_submit_duration_seconds",
			Help:    "Duration of sheet submission including discrepancy checks",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		QualityScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collate_sheet_quality_score",
			Help:    "Data quality scores stamped at submission",
			Buckets: []float64{0, 25, 50, 60, 70, 80, 90, 95, 100},
		}),
		DetectorFindings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collate_sheet_detector_findings_total",
			Help: "Discrepancy detector findings raised during submission by type",
		}, []string{"type"}),
	}
}

// IncrementCreated records a successful sheet creation.
func (m *Metrics) IncrementCreated() {
	if m != nil {
		m.SheetsCreated.Inc()
	}
}

// IncrementTransition records a completed workflow transition.
func (m *Metrics) IncrementTransition(action string) {
	if m != nil {
		m.Transitions.WithLabelValues(action).Inc()
	}
}

// ObserveSubmit records the duration of a submit operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSubmit(start time.Time) {
	if m != nil {
		m.SubmitLatency.Observe(time.Since(start).Seconds())
	}
}

// ObserveQualityScore records a stamped quality score.
func (m *Metrics) ObserveQualityScore(score int) {
	if m != nil {
		m.QualityScore.Observe(float64(score))
	}
}

// IncrementFinding records one persisted detector finding.
func (m *Metrics) IncrementFinding(findingType string) {
	if m != nil {
		m.DetectorFindings.WithLabelValues(findingType).Inc()
	}
}
