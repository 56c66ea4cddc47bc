package solver

import (
	"fmt"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/minimize"
)

// Nonlinear fits coefficients to observed intensities without phases. The
// model intensity |Σ cᵢFᵢ|² is a quadratic form in the coefficients, so the
// target, gradient and diagonal curvature are all analytic.
type Nonlinear struct {
	opts NonlinearOptions
}

// Name implements Solver.
func (s *Nonlinear) Name() string { return string(AlgNonlinear) }

// intensityTarget is Σ(I_model − I_obs)²/4 normalised by Σ I_obs.
type intensityTarget struct {
	iobs []float64
	sum  float64

	// cross[j][m] holds Re(Fj·conj(Fm)) per reflection.
	cross [][][]float64
}

func newIntensityTarget(terms [][]complex128, iobs []float64) *intensityTarget {
	t := &intensityTarget{iobs: iobs, cross: make([][][]float64, len(terms))}
	for _, v := range iobs {
		t.sum += v
	}
	if t.sum == 0 {
		t.sum = 1
	}
	for j := range terms {
		t.cross[j] = make([][]float64, len(terms))
		for m := range terms {
			if m < j {
				t.cross[j][m] = t.cross[m][j]
				continue
			}
			row := make([]float64, len(iobs))
			for i := range row {
				a, b := terms[j][i], terms[m][i]
				row[i] = real(a)*real(b) + imag(a)*imag(b)
			}
			t.cross[j][m] = row
		}
	}
	return t
}

// residual returns I_model − I_obs and, per term, Σ_m x_m Re(Fj·conj(Fm)).
func (t *intensityTarget) residual(x []float64) (diff []float64, partial [][]float64) {
	n := len(t.iobs)
	diff = make([]float64, n)
	partial = make([][]float64, len(x))
	for j := range x {
		partial[j] = make([]float64, n)
		for m, km := range x {
			row := t.cross[j][m]
			for i := range row {
				partial[j][i] += km * row[i]
			}
		}
		for i := range diff {
			diff[i] += x[j] * partial[j][i]
		}
	}
	for i := range diff {
		diff[i] -= t.iobs[i]
	}
	return diff, partial
}

func (t *intensityTarget) value(x []float64) float64 {
	diff, _ := t.residual(x)
	s := 0.0
	for _, d := range diff {
		s += d * d
	}
	return s / 4 / t.sum
}

func (t *intensityTarget) gradient(g, x []float64) {
	diff, partial := t.residual(x)
	for j := range g {
		s := 0.0
		for i, d := range diff {
			s += d * partial[j][i]
		}
		g[j] = s / t.sum
	}
}

func (t *intensityTarget) curvature(d, x []float64) {
	diff, partial := t.residual(x)
	for j := range d {
		s := 0.0
		self := t.cross[j][j]
		for i, r := range diff {
			s += 2*partial[j][i]*partial[j][i] + r*self[i]
		}
		d[j] = s / t.sum
	}
}

func (s *Nonlinear) bounds(n int) *minimize.Bounds {
	b := &minimize.Bounds{Lower: make([]float64, n), Upper: make([]float64, n)}
	b.Lower[0], b.Upper[0] = s.opts.ScaleBounds[0], s.opts.ScaleBounds[1]
	for i := 1; i < n; i++ {
		b.Lower[i], b.Upper[i] = s.opts.RegionBounds[0], s.opts.RegionBounds[1]
	}
	return b
}

// Solve implements Solver. It runs MacroCycles bounded minimisations, each
// restarted from the previous result, and with UseCurvatures follows them
// with alternating rounds of plain and curvature-driven refinement.
func (s *Nonlinear) Solve(p Problem) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	terms := p.terms()
	target := newIntensityTarget(terms, p.intensities())
	obj := minimize.Objective{Func: target.value, Grad: target.gradient}
	bounds := s.bounds(len(terms))
	settings := minimize.Settings{MaxIterations: s.opts.MaxIterations, GradientTolerance: 1e-10}

	x := []float64(p.Initial)
	if x == nil {
		x = models.ReferenceOnly(len(p.Contributors))
		for i := 1; i < len(x); i++ {
			x[i] = 0.1
		}
	}
	x = append([]float64(nil), x...)

	res := Result{}
	for cycle := 0; cycle < s.opts.MacroCycles; cycle++ {
		m, err := minimize.Minimize(obj, x, bounds, settings)
		if err != nil {
			return Result{}, fmt.Errorf("%w: nonlinear macro-cycle %d: %w", ErrNumeric, cycle+1, err)
		}
		x = m.X
		res.Iterations += m.Iterations
		res.Converged = m.Converged
	}

	if s.opts.UseCurvatures {
		curv := minimize.Curvature{Diag: target.curvature}
		for cycle := 0; cycle < s.opts.MacroCycles; cycle++ {
			m, err := minimize.Minimize(obj, x, bounds, settings)
			if err != nil {
				return Result{}, fmt.Errorf("%w: nonlinear refinement round %d: %w", ErrNumeric, cycle+1, err)
			}
			r, err := minimize.RefineDiagonal(obj, curv, m.X, bounds, settings)
			if err != nil {
				return Result{}, fmt.Errorf("%w: nonlinear curvature round %d: %w", ErrNumeric, cycle+1, err)
			}
			x = r.X
			res.Iterations += m.Iterations + r.Iterations
			res.Converged = r.Converged
		}
	}

	res.Coefficients = models.CoefficientVector(x)
	res.Clamped = clamp(res.Coefficients)
	return res, nil
}
