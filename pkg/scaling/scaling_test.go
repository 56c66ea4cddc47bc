package scaling

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsotropicRecoversScale(t *testing.T) {
	const k, b = 2.5, 12.0
	n := 50
	sSq := make([]float64, n)
	fobs := make([]float64, n)
	fcalc := make([]complex128, n)
	fbulk := make([]complex128, n)
	for i := range sSq {
		sSq[i] = 0.01 + float64(i)*0.005
		fcalc[i] = cmplx.Rect(10+float64(i%7), float64(i))
		fbulk[i] = cmplx.Rect(1, float64(2*i))
		fobs[i] = k * math.Exp(-b*sSq[i]/4) * cmplx.Abs(fcalc[i]+fbulk[i])
	}

	sc, err := NewIsotropic(sSq).Update(fobs, fcalc, fbulk)
	require.NoError(t, err)
	assert.InDelta(t, k, sc.K, 1e-9)
	assert.InDelta(t, b, sc.B, 1e-7)
	require.Len(t, sc.PerReflection, n)
	for i := range fobs {
		assert.InDelta(t, fobs[i], sc.PerReflection[i]*cmplx.Abs(fcalc[i]+fbulk[i]), 1e-7)
	}
}

func TestIsotropicSingleShell(t *testing.T) {
	sSq := []float64{0.1, 0.1, 0.1}
	fc := []complex128{1, 2, 4}
	fb := make([]complex128, 3)
	sc, err := NewIsotropic(sSq).Update([]float64{3, 6, 12}, fc, fb)
	require.NoError(t, err)
	assert.InDelta(t, 3, sc.K, 1e-12)
	assert.Zero(t, sc.B)
}

func TestIsotropicErrors(t *testing.T) {
	s := NewIsotropic([]float64{0.1, 0.2})
	_, err := s.Update([]float64{1}, []complex128{1, 1}, []complex128{0, 0})
	assert.Error(t, err)

	_, err = s.Update([]float64{0, 0}, []complex128{1, 1}, []complex128{0, 0})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestUnit(t *testing.T) {
	u := Unit(3)
	assert.Equal(t, []float64{1, 1, 1}, u.PerReflection)
	assert.Equal(t, 1.0, u.K)
}
