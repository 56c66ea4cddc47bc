package solver

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"mosaicsolvent/internal/models"
)

// GridSearch fits contributors one at a time. For each contributor it scans
// the coefficient over [0, Max) with an overall scale solved in closed form
// at every trial, keeps the value with the lowest amplitude R-factor, and
// adds the fitted contribution to the running model before moving on. The
// reference coefficient is fixed at 1.
type GridSearch struct {
	opts GridSearchOptions
}

// Name implements Solver.
func (s *GridSearch) Name() string { return string(AlgGridSearch) }

// Solve implements Solver.
func (s *GridSearch) Solve(p Problem) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	trials := s.trials()
	running := append([]complex128(nil), p.Reference...)
	coeffs := models.ReferenceOnly(len(p.Contributors))

	for j, fm := range p.Contributors {
		best, bestR := 0.0, math.Inf(1)
		for _, k := range trials {
			if r := rFactor(p.FObs, running, fm, k); r < bestR {
				best, bestR = k, r
			}
		}
		coeffs[j+1] = best
		for i := range running {
			running[i] += complex(best, 0) * fm[i]
		}
	}
	return Result{
		Coefficients: coeffs,
		Iterations:   len(p.Contributors),
		Converged:    true,
	}, nil
}

func (s *GridSearch) trials() []float64 {
	n := int(math.Ceil(s.opts.Max/s.opts.Step - 1e-9))
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * s.opts.Step
	}
	return out
}

// rFactor returns Σ|Fo − k·|Fc + kmask·Fm|| / Σ Fo with k minimising the
// squared residual.
func rFactor(fobs []float64, fc, fm []complex128, kmask float64) float64 {
	model := make([]float64, len(fobs))
	for i := range fobs {
		model[i] = cmplx.Abs(fc[i] + complex(kmask, 0)*fm[i])
	}
	den := floats.Dot(model, model)
	sum := floats.Sum(fobs)
	if den == 0 || sum == 0 {
		return math.Inf(1)
	}
	k := floats.Dot(fobs, model) / den
	r := 0.0
	for i, fo := range fobs {
		r += math.Abs(fo - k*model[i])
	}
	return r / sum
}
