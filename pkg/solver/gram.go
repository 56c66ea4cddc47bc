package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// realGram returns G[j][n] = Σ Re(Fj·conj(Fn)).
func realGram(terms [][]complex128) *mat.SymDense {
	n := len(terms)
	g := mat.NewSymDense(n, nil)
	for j := 0; j < n; j++ {
		for k := j; k < n; k++ {
			g.SetSym(j, k, realDot(terms[j], terms[k]))
		}
	}
	return g
}

// realDot returns Σ Re(a·conj(b)).
func realDot(a, b []complex128) float64 {
	s := 0.0
	for i := range a {
		s += real(a[i])*real(b[i]) + imag(a[i])*imag(b[i])
	}
	return s
}

// solveChecked solves a·x = b with an LU factorisation and rejects systems
// whose condition number exceeds maxCond.
func solveChecked(a mat.Matrix, b []float64, maxCond float64) ([]float64, error) {
	var lu mat.LU
	lu.Factorize(a)
	cond := lu.Cond()
	if math.IsInf(cond, 0) || math.IsNaN(cond) || cond > maxCond {
		return nil, fmt.Errorf("%w: condition number %.3g exceeds %.3g", ErrSingular, cond, maxCond)
	}
	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, mat.NewVecDense(len(b), b)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	out := make([]float64, len(b))
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, nil
}
