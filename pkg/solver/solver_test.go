package solver

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mosaicsolvent/internal/models"
)

func randomTerms(seed int64, count, n int) [][]complex128 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]complex128, count)
	for j := range out {
		out[j] = make([]complex128, n)
		for i := range out[j] {
			out[j][i] = cmplx.Rect(0.5+rng.Float64(), 2*math.Pi*rng.Float64())
		}
	}
	return out
}

// synthetic builds a problem whose observations are exactly |Σ cᵢFᵢ|.
func synthetic(seed int64, truth models.CoefficientVector) Problem {
	terms := randomTerms(seed, len(truth), 300)
	p := Problem{Reference: terms[0], Contributors: terms[1:]}
	p.FObs = Amplitudes(Composite(p.Reference, p.Contributors, truth))
	return p
}

func mustNew(t *testing.T, alg Algorithm, opts Options) Solver {
	t.Helper()
	s, err := New(alg, opts)
	require.NoError(t, err)
	assert.Equal(t, string(alg), s.Name())
	return s
}

func TestProblemValidate(t *testing.T) {
	base := synthetic(1, models.CoefficientVector{1, 0.2})

	tests := []struct {
		name   string
		modify func(p *Problem)
		shape  bool
	}{
		{"short contributor", func(p *Problem) { p.Contributors[0] = p.Contributors[0][:10] }, true},
		{"short observations", func(p *Problem) { p.FObs = p.FObs[1:] }, true},
		{"empty reference", func(p *Problem) { p.Reference = nil }, true},
		{"bad initial", func(p *Problem) { p.Initial = models.CoefficientVector{1} }, true},
		{"negative observation", func(p *Problem) { p.FObs = append([]float64{-1}, p.FObs[1:]...) }, false},
		{"nan observation", func(p *Problem) { p.FObs = append([]float64{math.NaN()}, p.FObs[1:]...) }, false},
		{"infinite observation", func(p *Problem) { p.FObs = append([]float64{math.Inf(1)}, p.FObs[1:]...) }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			p.Contributors = append([][]complex128(nil), base.Contributors...)
			tc.modify(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.Equal(t, tc.shape, errors.Is(err, ErrShapeMismatch))
			if strings.Contains(tc.name, "nan") || strings.Contains(tc.name, "infinite") {
				assert.ErrorIs(t, err, ErrNumeric)
			}

			for _, alg := range Algorithms() {
				_, err := mustNew(t, alg, DefaultOptions()).Solve(p)
				assert.Error(t, err, alg)
			}
		})
	}
	assert.NoError(t, base.Validate())
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	_, err := New("simplex", DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	opts := DefaultOptions()
	opts.GridSearch.Step = 0
	_, err = New(AlgGridSearch, opts)
	assert.Error(t, err)
}

func TestGridSearchRecovers(t *testing.T) {
	p := synthetic(2, models.CoefficientVector{1, 0.2})
	res, err := mustNew(t, AlgGridSearch, DefaultOptions()).Solve(p)
	require.NoError(t, err)
	require.Len(t, res.Coefficients, 2)
	assert.Equal(t, 1.0, res.Coefficients[0])
	assert.InDelta(t, 0.2, res.Coefficients[1], 0.001)
	assert.True(t, res.Converged)
}

func TestGridSearchTrials(t *testing.T) {
	s := &GridSearch{opts: DefaultOptions().GridSearch}
	trials := s.trials()
	require.Len(t, trials, 400)
	assert.Equal(t, 0.0, trials[0])
	assert.InDelta(t, 0.399, trials[399], 1e-12)
}

func TestClosedFormRecovers(t *testing.T) {
	for _, truth := range []models.CoefficientVector{{1, 0.2}, {1, 0.3, 0.1}, {2}} {
		p := synthetic(3, truth)
		res, err := mustNew(t, AlgClosedForm, DefaultOptions()).Solve(p)
		require.NoError(t, err)
		require.Len(t, res.Coefficients, len(truth))
		for i := range truth {
			assert.InDelta(t, truth[i], res.Coefficients[i], 1e-6, "coefficient %d of %v", i, truth)
		}
	}
}

func TestClosedFormSingular(t *testing.T) {
	p := synthetic(4, models.CoefficientVector{1, 0.2})
	p.Contributors[0] = append([]complex128(nil), p.Reference...)
	_, err := mustNew(t, AlgClosedForm, DefaultOptions()).Solve(p)
	assert.ErrorIs(t, err, ErrSingular)
}

func TestClosedFormNonPositiveProduct(t *testing.T) {
	// |F₀ − 0.2F₁|² needs X₀₁ = −0.2.
	p := synthetic(5, models.CoefficientVector{1, -0.2})
	_, err := mustNew(t, AlgClosedForm, DefaultOptions()).Solve(p)
	assert.ErrorIs(t, err, ErrNonPositiveProduct)
}

func TestNonlinearRecovers(t *testing.T) {
	truth := models.CoefficientVector{1, 0.3, 0.1}
	for _, curv := range []bool{false, true} {
		opts := DefaultOptions()
		opts.Nonlinear.UseCurvatures = curv
		p := synthetic(6, truth)
		p.Initial = models.CoefficientVector{1, 0.35, 0.1}

		res, err := mustNew(t, AlgNonlinear, opts).Solve(p)
		require.NoError(t, err)
		for i := range truth {
			assert.InDelta(t, truth[i], res.Coefficients[i], 5e-3, "curvatures=%v coefficient %d", curv, i)
		}
		assert.Positive(t, res.Iterations)
	}
}

func TestNonlinearStartsOnLowerBound(t *testing.T) {
	truth := models.CoefficientVector{1, 0.3}
	p := synthetic(13, truth)
	p.Initial = models.CoefficientVector{1, 0}

	res, err := mustNew(t, AlgNonlinear, DefaultOptions()).Solve(p)
	require.NoError(t, err)
	for i := range truth {
		assert.InDelta(t, truth[i], res.Coefficients[i], 5e-3, "coefficient %d", i)
	}
}

func TestNonlinearRespectsBounds(t *testing.T) {
	p := synthetic(7, models.CoefficientVector{1, 0.9})
	res, err := mustNew(t, AlgNonlinear, DefaultOptions()).Solve(p)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Coefficients[1], 0.65)
	assert.GreaterOrEqual(t, res.Coefficients[0], 0.1)
	assert.LessOrEqual(t, res.Coefficients[0], 10.0)
}

func TestIntensityTargetGradient(t *testing.T) {
	p := synthetic(8, models.CoefficientVector{1, 0.3, 0.1})
	target := newIntensityTarget(p.terms(), p.intensities())
	x := []float64{0.9, 0.2, 0.3}
	g := make([]float64, 3)
	d := make([]float64, 3)
	target.gradient(g, x)
	target.curvature(d, x)

	const h = 1e-5
	for j := range x {
		up := append([]float64(nil), x...)
		dn := append([]float64(nil), x...)
		up[j] += h
		dn[j] -= h
		fu, f0, fd := target.value(up), target.value(x), target.value(dn)
		assert.InEpsilon(t, (fu-fd)/(2*h), g[j], 1e-4, "gradient %d", j)
		assert.InEpsilon(t, (fu-2*f0+fd)/(h*h), d[j], 1e-3, "curvature %d", j)
	}
	assert.InDelta(t, 0, target.value([]float64{1, 0.3, 0.1}), 1e-20)
}

func TestAlternatingRecovers(t *testing.T) {
	truth := models.CoefficientVector{1, 0.2, 0.1}
	p := synthetic(9, truth)
	s := mustNew(t, AlgAlternating, DefaultOptions())

	res, err := s.Solve(p)
	require.NoError(t, err)
	require.True(t, res.Converged)
	for i := range truth {
		assert.InDelta(t, truth[i], res.Coefficients[i], 1e-3, "coefficient %d", i)
	}

	// One more cycle from the fixed point moves nothing by more than epsilon.
	opts := DefaultOptions()
	opts.Alternating.MaxCycles = 1
	again := p
	again.Initial = res.Coefficients
	next, err := mustNew(t, AlgAlternating, opts).Solve(again)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Iterations)
	assert.False(t, next.Converged)
	for i := range truth {
		assert.InDelta(t, res.Coefficients[i], next.Coefficients[i], opts.Alternating.Epsilon)
	}
}

func TestAlternatingSingular(t *testing.T) {
	p := synthetic(10, models.CoefficientVector{1, 0.2})
	p.Contributors[0] = append([]complex128(nil), p.Reference...)
	_, err := mustNew(t, AlgAlternating, DefaultOptions()).Solve(p)
	assert.ErrorIs(t, err, ErrSingular)
}

func TestCompositeRoundTrip(t *testing.T) {
	for _, truth := range []models.CoefficientVector{
		{1, 0.2},
		{1.5, 0.3},
		{0.7, 0.2},
		{2.5, 0.3},
		{2, 0.3, 0.1},
	} {
		p := synthetic(11, truth)
		for _, alg := range []Algorithm{AlgClosedForm, AlgAlternating} {
			res, err := mustNew(t, alg, DefaultOptions()).Solve(p)
			require.NoError(t, err, "%s %v", alg, truth)
			for i := range truth {
				assert.InDelta(t, truth[i], res.Coefficients[i], 1e-3, "%s %v coefficient %d", alg, truth, i)
			}
			model := Amplitudes(Composite(p.Reference, p.Contributors, res.Coefficients))
			for i := range model {
				assert.InDelta(t, p.FObs[i], model[i], 1e-2, "%s %v reflection %d", alg, truth, i)
			}
		}
	}
}

func TestAlternatingInitialWithOverallScale(t *testing.T) {
	truth := models.CoefficientVector{2, 0.4}
	p := synthetic(12, truth)
	p.Initial = truth
	opts := DefaultOptions()
	opts.Alternating.MaxCycles = 1

	res, err := mustNew(t, AlgAlternating, opts).Solve(p)
	require.NoError(t, err)
	for i := range truth {
		assert.InDelta(t, truth[i], res.Coefficients[i], 1e-6, "coefficient %d", i)
	}
}

func TestClamp(t *testing.T) {
	c := models.CoefficientVector{1, -0.01, 0.2}
	assert.True(t, clamp(c))
	assert.Equal(t, models.CoefficientVector{1, 0, 0.2}, c)
	assert.False(t, clamp(c))
}
