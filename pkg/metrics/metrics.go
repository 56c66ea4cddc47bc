// Package metrics exposes prometheus collectors for refinement runs.
//
// A nil *Metrics is valid and records nothing, so library callers that do not
// scrape metrics can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "mosaicsolvent"
	subsystem = "refinement"
)

// Bin outcomes.
const (
	OutcomeSolved       = "solved"
	OutcomeSkipped      = "skipped"
	OutcomeSingular     = "singular"
	OutcomeNotConverged = "nonconverged"
	OutcomeFallback     = "fallback"
)

// Metrics holds the refinement collectors.
type Metrics struct {
	// BinsTotal counts bin solves. Labels: algorithm, outcome.
	BinsTotal *prometheus.CounterVec

	// SolverIterations observes iterations per bin solve. Labels: algorithm.
	SolverIterations *prometheus.HistogramVec

	// RetainedRegions is the number of contributor regions still in the model.
	RetainedRegions prometheus.Gauge

	// PrunedRegions counts regions dropped for negligible coefficients.
	PrunedRegions prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		BinsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bins_total",
			Help:      "Resolution-bin solves by algorithm and outcome",
		}, []string{"algorithm", "outcome"}),
		SolverIterations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solver_iterations",
			Help:      "Iterations used by one bin solve",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		}, []string{"algorithm"}),
		RetainedRegions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retained_regions",
			Help:      "Contributor regions currently in the model",
		}),
		PrunedRegions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pruned_regions_total",
			Help:      "Regions dropped for negligible coefficients",
		}),
	}
}

// RecordBin counts one bin outcome and, for solved bins, its iterations.
func (m *Metrics) RecordBin(algorithm, outcome string, iterations int) {
	if m == nil {
		return
	}
	m.BinsTotal.WithLabelValues(algorithm, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.SolverIterations.WithLabelValues(algorithm).Observe(float64(iterations))
	}
}

// SetRetained records the current number of contributor regions.
func (m *Metrics) SetRetained(n int) {
	if m == nil {
		return
	}
	m.RetainedRegions.Set(float64(n))
}

// RecordPruned counts pruned regions.
func (m *Metrics) RecordPruned(n int) {
	if m == nil {
		return
	}
	m.PrunedRegions.Add(float64(n))
}
