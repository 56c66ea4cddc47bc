// Package solver fits per-bin scale coefficients of a reference structure
// factor and a set of region contributors against observed data.
package solver

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"mosaicsolvent/internal/models"
)

var (
	// ErrShapeMismatch reports arrays that are not aligned with the
	// reflection set. It is a precondition failure.
	ErrShapeMismatch = errors.New("array shape mismatch")

	// ErrSingular reports an ill-conditioned normal-equations matrix.
	ErrSingular = errors.New("singular normal matrix")

	// ErrNonPositiveProduct reports a fitted pairwise product that has no
	// real logarithm.
	ErrNonPositiveProduct = errors.New("non-positive pairwise product")

	// ErrNumeric reports a non-finite observation or objective value met
	// while solving one bin.
	ErrNumeric = errors.New("non-finite value")

	// ErrUnknownAlgorithm reports an unrecognised algorithm name.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
)

// Algorithm names one of the coefficient solvers.
type Algorithm string

const (
	AlgGridSearch  Algorithm = "grid-search"
	AlgNonlinear   Algorithm = "nonlinear"
	AlgClosedForm  Algorithm = "closed-form"
	AlgAlternating Algorithm = "alternating"
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{AlgGridSearch, AlgNonlinear, AlgClosedForm, AlgAlternating}
}

// Problem is the input of one bin solve. All arrays are restricted to the
// bin and aligned with each other.
type Problem struct {
	// Reference is the macromolecule term F₀.
	Reference []complex128

	// Contributors holds one structure-factor array per retained region.
	Contributors [][]complex128

	// FObs holds observed amplitudes. Intensity-based solvers square them.
	FObs []float64

	// Initial is an optional starting CoefficientVector of length
	// 1+len(Contributors).
	Initial models.CoefficientVector
}

// Validate checks that every array is aligned with the reference.
func (p *Problem) Validate() error {
	n := len(p.Reference)
	if n == 0 {
		return fmt.Errorf("%w: empty reference array", ErrShapeMismatch)
	}
	if len(p.FObs) != n {
		return fmt.Errorf("%w: %d observations for %d reflections", ErrShapeMismatch, len(p.FObs), n)
	}
	for i, c := range p.Contributors {
		if len(c) != n {
			return fmt.Errorf("%w: contributor %d has %d reflections, reference has %d", ErrShapeMismatch, i+1, len(c), n)
		}
	}
	if p.Initial != nil && len(p.Initial) != 1+len(p.Contributors) {
		return fmt.Errorf("%w: initial guess has %d coefficients, need %d", ErrShapeMismatch, len(p.Initial), 1+len(p.Contributors))
	}
	for i, f := range p.FObs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: observation %d is %g", ErrNumeric, i, f)
		}
		if f < 0 {
			return fmt.Errorf("observation %d is %g, want a non-negative amplitude", i, f)
		}
	}
	return nil
}

// terms returns reference and contributors as one slice.
func (p *Problem) terms() [][]complex128 {
	return append([][]complex128{p.Reference}, p.Contributors...)
}

func (p *Problem) intensities() []float64 {
	iobs := make([]float64, len(p.FObs))
	for i, f := range p.FObs {
		iobs[i] = f * f
	}
	return iobs
}

// Result is the output of one bin solve.
type Result struct {
	Coefficients models.CoefficientVector
	Iterations   int
	Converged    bool

	// Clamped is set when negative coefficients were raised to zero.
	Clamped bool
}

// Solver fits one CoefficientVector per call.
type Solver interface {
	Name() string
	Solve(p Problem) (Result, error)
}

// GridSearchOptions configures GridSearch.
type GridSearchOptions struct {
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// NonlinearOptions configures Nonlinear.
type NonlinearOptions struct {
	MacroCycles   int        `yaml:"macroCycles"`
	MaxIterations int        `yaml:"maxIterations"`
	UseCurvatures bool       `yaml:"useCurvatures"`
	ScaleBounds   [2]float64 `yaml:"scaleBounds"`
	RegionBounds  [2]float64 `yaml:"regionBounds"`
}

// LinearOptions configures the Gram-matrix solves of ClosedForm and
// Alternating.
type LinearOptions struct {
	MaxCondition float64 `yaml:"maxCondition"`
}

// AlternatingOptions configures Alternating.
type AlternatingOptions struct {
	MaxCycles int     `yaml:"maxCycles"`
	Epsilon   float64 `yaml:"epsilon"`
}

// Options holds the settings of every algorithm.
type Options struct {
	GridSearch  GridSearchOptions  `yaml:"gridSearch"`
	Nonlinear   NonlinearOptions   `yaml:"nonlinear"`
	Linear      LinearOptions      `yaml:"linear"`
	Alternating AlternatingOptions `yaml:"alternating"`
}

// DefaultOptions returns the reference settings.
func DefaultOptions() Options {
	return Options{
		GridSearch: GridSearchOptions{Max: 0.4, Step: 0.001},
		Nonlinear: NonlinearOptions{
			MacroCycles:   10,
			MaxIterations: 100,
			ScaleBounds:   [2]float64{0.1, 10},
			RegionBounds:  [2]float64{0, 0.65},
		},
		Linear:      LinearOptions{MaxCondition: 1e12},
		Alternating: AlternatingOptions{MaxCycles: 100, Epsilon: 1e-4},
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	switch {
	case o.GridSearch.Step <= 0 || o.GridSearch.Max <= 0:
		return fmt.Errorf("grid search needs positive max and step, got %g and %g", o.GridSearch.Max, o.GridSearch.Step)
	case o.Nonlinear.MacroCycles < 1 || o.Nonlinear.MaxIterations < 1:
		return errors.New("nonlinear solver needs at least one macro-cycle and one iteration")
	case o.Nonlinear.ScaleBounds[0] > o.Nonlinear.ScaleBounds[1] || o.Nonlinear.RegionBounds[0] > o.Nonlinear.RegionBounds[1]:
		return errors.New("nonlinear bounds have lower above upper")
	case o.Linear.MaxCondition <= 1:
		return fmt.Errorf("max condition must exceed 1, got %g", o.Linear.MaxCondition)
	case o.Alternating.MaxCycles < 1 || o.Alternating.Epsilon <= 0:
		return errors.New("alternating solver needs at least one cycle and a positive epsilon")
	}
	return nil
}

// New returns the solver for alg.
func New(alg Algorithm, opts Options) (Solver, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid solver options: %w", err)
	}
	switch alg {
	case AlgGridSearch:
		return &GridSearch{opts: opts.GridSearch}, nil
	case AlgNonlinear:
		return &Nonlinear{opts: opts.Nonlinear}, nil
	case AlgClosedForm:
		return &ClosedForm{opts: opts.Linear}, nil
	case AlgAlternating:
		return &Alternating{opts: opts.Alternating, linear: opts.Linear}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
}

// Composite returns c₀·F₀ + Σ cᵢ·Fᵢ.
func Composite(reference []complex128, contributors [][]complex128, c models.CoefficientVector) []complex128 {
	out := make([]complex128, len(reference))
	for i, f := range reference {
		out[i] = complex(c[0], 0) * f
	}
	for j, fj := range contributors {
		k := complex(c[j+1], 0)
		for i, f := range fj {
			out[i] += k * f
		}
	}
	return out
}

// Amplitudes returns |F| for every reflection.
func Amplitudes(f []complex128) []float64 {
	out := make([]float64, len(f))
	for i, v := range f {
		out[i] = cmplx.Abs(v)
	}
	return out
}

// clamp raises negative coefficients to zero and reports whether any was.
func clamp(c models.CoefficientVector) bool {
	clamped := false
	for i, v := range c {
		if v < 0 {
			c[i] = 0
			clamped = true
		}
	}
	return clamped
}
