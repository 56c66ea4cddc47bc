package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBin(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordBin("alternating", OutcomeSolved, 12)
	m.RecordBin("alternating", OutcomeSolved, 3)
	m.RecordBin("alternating", OutcomeSkipped, 0)
	m.RecordBin("closed-form", OutcomeSingular, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BinsTotal.WithLabelValues("alternating", OutcomeSolved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BinsTotal.WithLabelValues("alternating", OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BinsTotal.WithLabelValues("closed-form", OutcomeSingular)))

	count, err := testutil.GatherAndCount(reg, "mosaicsolvent_refinement_solver_iterations")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGaugesAndCounters(t *testing.T) {
	m := New(nil)
	m.SetRetained(4)
	m.RecordPruned(2)
	m.RecordPruned(1)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RetainedRegions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PrunedRegions))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBin("grid-search", OutcomeSolved, 1)
		m.SetRetained(1)
		m.RecordPruned(1)
	})
}
