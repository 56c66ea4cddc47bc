package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mosaicsolvent/internal/models"
)

// ClosedForm fits observed intensities in two exact steps. It first solves a
// linear least-squares problem for the pairwise products Xnm = kn·km, with
// one unknown per unordered pair, then recovers each kj from the logarithms
// of the product matrix.
type ClosedForm struct {
	opts LinearOptions
}

// Name implements Solver.
func (s *ClosedForm) Name() string { return string(AlgClosedForm) }

// pair is one unordered term pair n ≤ m.
type pair struct{ n, m int }

// Solve implements Solver.
func (s *ClosedForm) Solve(p Problem) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	terms := p.terms()
	iobs := p.intensities()
	nt := len(terms)

	var pairs []pair
	slot := make([][]int, nt)
	for n := range slot {
		slot[n] = make([]int, nt)
	}
	var products [][]float64
	for n := 0; n < nt; n++ {
		for m := n; m < nt; m++ {
			slot[n][m] = len(pairs)
			slot[m][n] = len(pairs)
			pairs = append(pairs, pair{n, m})
			row := make([]float64, len(iobs))
			for i := range row {
				a, b := terms[n][i], terms[m][i]
				row[i] = real(a)*real(b) + imag(a)*imag(b)
			}
			products = append(products, row)
		}
	}

	// Off-diagonal products appear twice in |Σ kF|², hence the factor 2.
	np := len(pairs)
	a := mat.NewDense(np, np, nil)
	b := make([]float64, np)
	for u := 0; u < np; u++ {
		for v := 0; v < np; v++ {
			scale := 2.0
			if pairs[v].n == pairs[v].m {
				scale = 1
			}
			a.Set(u, v, floats.Dot(products[u], products[v])*scale)
		}
		b[u] = floats.Dot(products[u], iobs)
	}
	x, err := solveChecked(a, b, s.opts.MaxCondition)
	if err != nil {
		return Result{}, err
	}

	logs := make([][]float64, nt)
	total := 0.0
	for n := 0; n < nt; n++ {
		logs[n] = make([]float64, nt)
		for m := 0; m < nt; m++ {
			v := x[slot[n][m]]
			if v <= 0 {
				return Result{}, fmt.Errorf("%w: X[%d][%d] = %g", ErrNonPositiveProduct, n, m, v)
			}
			logs[n][m] = math.Log(v)
			total += logs[n][m]
		}
	}
	coeffs := make(models.CoefficientVector, nt)
	for j := range coeffs {
		row := 0.0
		for _, l := range logs[j] {
			row += l
		}
		coeffs[j] = math.Exp((row - total/float64(2*nt)) / float64(nt))
	}
	return Result{Coefficients: coeffs, Iterations: 1, Converged: true}, nil
}
