package solver

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"mosaicsolvent/internal/models"
)

// Alternating is the phased solver. The composite is F0 + Σ accj·Fj. Each
// cycle borrows the phases of the composite for the observed amplitudes and
// fits x0·composite + Σ xj·Fj to that phased pseudo-observation. The
// increments are folded into the composite as xj/x0, so the emitted vector
// [x0, x0·acc] reproduces the fitted model. It stops when no coefficient
// moves by more than Epsilon between cycles.
type Alternating struct {
	opts   AlternatingOptions
	linear LinearOptions
}

// Name implements Solver.
func (s *Alternating) Name() string { return string(AlgAlternating) }

// Solve implements Solver. An initial guess [c0, c...] seeds the composite
// with c/c0.
func (s *Alternating) Solve(p Problem) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	nc := len(p.Contributors)
	composite := append([]complex128(nil), p.Reference...)
	acc := make([]float64, nc)
	if p.Initial != nil {
		copy(acc, p.Initial[1:])
		if c0 := p.Initial[0]; c0 > 0 {
			floats.Scale(1/c0, acc)
		}
		for j, fj := range p.Contributors {
			k := complex(acc[j], 0)
			for i, f := range fj {
				composite[i] += k * f
			}
		}
	}

	terms := make([][]complex128, nc+1)
	copy(terms[1:], p.Contributors)
	phased := make([]complex128, len(composite))

	var prev models.CoefficientVector
	res := Result{}
	for res.Iterations < s.opts.MaxCycles {
		for i, c := range composite {
			phased[i] = complex(p.FObs[i], 0)
			if a := cmplx.Abs(c); a > 0 {
				phased[i] *= c / complex(a, 0)
			}
		}
		terms[0] = composite
		b := make([]float64, nc+1)
		for j := range terms {
			b[j] = realDot(terms[j], phased)
		}
		x, err := solveChecked(realGram(terms), b, s.linear.MaxCondition)
		if err != nil {
			return Result{}, err
		}

		step := 1.0
		if x[0] > 0 {
			step = 1 / x[0]
		}
		floats.AddScaled(acc, step, x[1:])
		current := make(models.CoefficientVector, nc+1)
		current[0] = x[0]
		floats.ScaleTo(current[1:], x[0], acc)
		for j, fj := range p.Contributors {
			k := complex(step*x[j+1], 0)
			for i, f := range fj {
				composite[i] += k * f
			}
		}
		res.Iterations++
		res.Coefficients = current

		if prev != nil && floats.Distance(prev, current, math.Inf(1)) <= s.opts.Epsilon {
			res.Converged = true
			break
		}
		prev = current
	}
	res.Clamped = clamp(res.Coefficients)
	return res, nil
}
