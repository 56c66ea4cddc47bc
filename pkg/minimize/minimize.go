// Package minimize provides the bounded quasi-Newton minimizer used by the
// nonlinear coefficient solver.
package minimize

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Objective is a smooth scalar function with its gradient.
type Objective struct {
	Func func(x []float64) float64
	Grad func(grad, x []float64)
}

// Curvature supplies the diagonal of the Hessian.
type Curvature struct {
	Diag func(diag, x []float64)
}

// Bounds holds per-parameter box constraints. Infinite entries leave a
// parameter unconstrained on that side.
type Bounds struct {
	Lower, Upper []float64
}

// Settings controls termination.
type Settings struct {
	MaxIterations     int
	GradientTolerance float64
}

// DefaultSettings returns the settings used by the nonlinear solver.
func DefaultSettings() Settings {
	return Settings{MaxIterations: 100, GradientTolerance: 1e-8}
}

// Result is the final iterate.
type Result struct {
	X          []float64
	F          float64
	Iterations int
	Converged  bool
}

func (b *Bounds) check(n int) error {
	if b == nil {
		return nil
	}
	if len(b.Lower) != n || len(b.Upper) != n {
		return fmt.Errorf("bounds have %d/%d entries for %d parameters", len(b.Lower), len(b.Upper), n)
	}
	for i := range b.Lower {
		if b.Lower[i] > b.Upper[i] {
			return fmt.Errorf("parameter %d: lower bound %g above upper bound %g", i, b.Lower[i], b.Upper[i])
		}
	}
	return nil
}

func (b *Bounds) clamp(x []float64) {
	if b == nil {
		return
	}
	for i := range x {
		x[i] = math.Max(b.Lower[i], math.Min(b.Upper[i], x[i]))
	}
}

// boundMargin keeps a start point off the ends of the sine map, where
// cos u = 0 would give the parameter a zero gradient.
const boundMargin = 0.05

// boxMap maps unconstrained variables u onto the box with
// x = lo + (hi-lo)(1+sin u)/2 on every finite interval.
type boxMap struct {
	lo, hi []float64
}

func (m boxMap) boxed(i int) bool {
	return m.lo != nil && !math.IsInf(m.lo[i], 0) && !math.IsInf(m.hi[i], 0)
}

func (m boxMap) toX(x, u []float64) {
	for i := range u {
		if !m.boxed(i) {
			x[i] = u[i]
			continue
		}
		x[i] = m.lo[i] + (m.hi[i]-m.lo[i])*(1+math.Sin(u[i]))/2
	}
	if m.lo != nil {
		for i := range x {
			x[i] = math.Max(m.lo[i], math.Min(m.hi[i], x[i]))
		}
	}
}

func (m boxMap) toU(u, x []float64) {
	for i := range x {
		if !m.boxed(i) || m.hi[i] == m.lo[i] {
			u[i] = x[i]
			if m.boxed(i) {
				u[i] = 0
			}
			continue
		}
		t := 2*(x[i]-m.lo[i])/(m.hi[i]-m.lo[i]) - 1
		edge := math.Pi/2 - boundMargin
		u[i] = math.Max(-edge, math.Min(edge, math.Asin(math.Max(-1, math.Min(1, t)))))
	}
}

// chain converts a gradient in x to a gradient in u.
func (m boxMap) chain(gu, gx, u []float64) {
	for i := range u {
		if !m.boxed(i) {
			gu[i] = gx[i]
			continue
		}
		gu[i] = gx[i] * (m.hi[i] - m.lo[i]) * math.Cos(u[i]) / 2
	}
}

// Minimize runs L-BFGS from x0 inside bounds. A nil bounds pointer means the
// problem is unconstrained. Hitting the iteration limit is not an error; the
// last iterate is returned with Converged false.
func Minimize(obj Objective, x0 []float64, bounds *Bounds, s Settings) (Result, error) {
	n := len(x0)
	if n == 0 {
		return Result{}, errors.New("minimize: no parameters")
	}
	if obj.Func == nil || obj.Grad == nil {
		return Result{}, errors.New("minimize: objective needs both function and gradient")
	}
	if err := bounds.check(n); err != nil {
		return Result{}, fmt.Errorf("minimize: %w", err)
	}

	var m boxMap
	if bounds != nil {
		m = boxMap{lo: bounds.Lower, hi: bounds.Upper}
	}
	start := append([]float64(nil), x0...)
	bounds.clamp(start)
	u0 := make([]float64, n)
	m.toU(u0, start)

	x := make([]float64, n)
	gx := make([]float64, n)
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			m.toX(x, u)
			return obj.Func(x)
		},
		Grad: func(grad, u []float64) {
			m.toX(x, u)
			obj.Grad(gx, x)
			m.chain(grad, gx, u)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: s.GradientTolerance,
		MajorIterations:   s.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-10,
			Iterations: 10,
		},
	}

	res, err := optimize.Minimize(problem, u0, settings, &optimize.LBFGS{})
	if res == nil || res.X == nil {
		if err == nil {
			err = errors.New("no result")
		}
		return Result{}, fmt.Errorf("minimize: %w", err)
	}

	out := Result{X: make([]float64, n), Iterations: res.Stats.MajorIterations}
	m.toX(out.X, res.X)
	out.F = obj.Func(out.X)
	if math.IsNaN(out.F) {
		return Result{}, errors.New("minimize: objective is NaN at the final iterate")
	}
	switch res.Status {
	case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold,
		optimize.StepConvergence, optimize.MethodConverge, optimize.Success:
		out.Converged = true
	}
	// A line search that can make no further progress leaves a usable point.
	return out, nil
}

// RefineDiagonal polishes x0 with projected Newton steps that use only the
// diagonal of the Hessian. Parameters whose curvature is not positive are
// held fixed. Each step is halved until the objective decreases.
func RefineDiagonal(obj Objective, curv Curvature, x0 []float64, bounds *Bounds, s Settings) (Result, error) {
	n := len(x0)
	if n == 0 {
		return Result{}, errors.New("refine: no parameters")
	}
	if obj.Func == nil || obj.Grad == nil || curv.Diag == nil {
		return Result{}, errors.New("refine: objective needs function, gradient and curvature")
	}
	if err := bounds.check(n); err != nil {
		return Result{}, fmt.Errorf("refine: %w", err)
	}

	x := append([]float64(nil), x0...)
	bounds.clamp(x)
	f := obj.Func(x)
	g := make([]float64, n)
	d := make([]float64, n)
	step := make([]float64, n)
	trial := make([]float64, n)

	res := Result{X: x, F: f}
	for res.Iterations < s.MaxIterations {
		obj.Grad(g, x)
		curv.Diag(d, x)
		for i := range step {
			step[i] = 0
			if d[i] > 0 {
				step[i] = -g[i] / d[i]
			}
		}
		if floats.Norm(step, math.Inf(1)) < s.GradientTolerance {
			res.Converged = true
			break
		}

		improved := false
		for alpha, tries := 1.0, 0; tries < 20; alpha, tries = alpha/2, tries+1 {
			copy(trial, x)
			floats.AddScaled(trial, alpha, step)
			bounds.clamp(trial)
			if ft := obj.Func(trial); ft < f {
				copy(x, trial)
				f = ft
				improved = true
				break
			}
		}
		res.Iterations++
		if !improved {
			res.Converged = true
			break
		}
	}
	res.F = f
	return res, nil
}
