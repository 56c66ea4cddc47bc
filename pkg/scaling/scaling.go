// Package scaling provides the global scale model applied to observed data
// between refinement cycles.
package scaling

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/stat"
)

// ErrNoData reports that no reflection could take part in the fit.
var ErrNoData = errors.New("no reflections with positive amplitudes")

// Scale is a fitted overall scale. PerReflection holds k_total for every
// reflection of the set the scale was fitted on.
type Scale struct {
	K             float64
	B             float64
	PerReflection []float64
}

// Unit returns the identity scale over n reflections.
func Unit(n int) Scale {
	s := Scale{K: 1, PerReflection: make([]float64, n)}
	for i := range s.PerReflection {
		s.PerReflection[i] = 1
	}
	return s
}

// Scaler updates the global scale from observed amplitudes and the current
// decomposition of the model into a macromolecule and a bulk term.
type Scaler interface {
	Update(fobs []float64, fcalc, fbulk []complex128) (Scale, error)
}

// Isotropic fits k_total(s) = K·exp(−B·s²/4).
type Isotropic struct {
	sSq []float64
}

// NewIsotropic returns a scaler over reflections with the given 1/d² values.
func NewIsotropic(sSq []float64) *Isotropic {
	return &Isotropic{sSq: sSq}
}

// Update fits ln(Fo/|Fcalc+Fbulk|) against s²/4 by least squares.
func (s *Isotropic) Update(fobs []float64, fcalc, fbulk []complex128) (Scale, error) {
	n := len(s.sSq)
	if len(fobs) != n || len(fcalc) != n || len(fbulk) != n {
		return Scale{}, fmt.Errorf("scale update: %d observations, %d calculated, %d bulk for %d reflections",
			len(fobs), len(fcalc), len(fbulk), n)
	}

	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := range fobs {
		fm := cmplx.Abs(fcalc[i] + fbulk[i])
		if fobs[i] <= 0 || fm <= 0 {
			continue
		}
		xs = append(xs, s.sSq[i]/4)
		ys = append(ys, math.Log(fobs[i]/fm))
	}
	if len(xs) == 0 {
		return Scale{}, ErrNoData
	}

	var lnK, slope float64
	if stat.Variance(xs, nil) > 0 {
		lnK, slope = stat.LinearRegression(xs, ys, nil, false)
	} else {
		lnK = stat.Mean(ys, nil)
	}
	out := Scale{K: math.Exp(lnK), B: -slope, PerReflection: make([]float64, n)}
	for i, v := range s.sSq {
		out.PerReflection[i] = out.K * math.Exp(-out.B*v/4)
	}
	return out, nil
}
