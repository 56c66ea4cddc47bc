// Package fourier converts between real-space unit-cell grids and
// reciprocal-space structure factors.
//
// Structure factors follow the crystallographic sign convention
//
//	F(h) = (V/N) Σ_x ρ(x) exp(+2πi h·x/n)
//	ρ(x) = (1/V) Σ_h F(h) exp(−2πi h·x/n)
//
// where V is the cell volume and N the number of grid points.
package fourier

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"mosaicsolvent/internal/models"
)

// fft3D performs an in-place 3D Fast Fourier Transform with the exp(-2πi)
// kernel of gonum's CmplxFFT, one axis at a time.
//
// Parameters:
//   - data: grid values in x-fastest order
//   - g: the grid sampling
//   - ffts: one plan per axis, sized NX, NY, NZ
func fft3D(data []complex128, g models.Grid, ffts [3]*fourier.CmplxFFT) {
	n := g.Dims()
	stride := [3]int{1, g.NX, g.NX * g.NY}

	for axis := 0; axis < 3; axis++ {
		length := n[axis]
		if length == 1 {
			continue
		}
		in := make([]complex128, length)
		out := make([]complex128, length)
		step := stride[axis]

		// Every line along this axis starts at a point whose coordinate on
		// the axis is zero.
		for start := 0; start < len(data); start++ {
			if (start/step)%length != 0 {
				continue
			}
			for i := 0; i < length; i++ {
				in[i] = data[start+i*step]
			}
			ffts[axis].Coefficients(out, in)
			for i := 0; i < length; i++ {
				data[start+i*step] = out[i]
			}
		}
	}
}

func newPlans(g models.Grid) [3]*fourier.CmplxFFT {
	return [3]*fourier.CmplxFFT{
		fourier.NewCmplxFFT(g.NX),
		fourier.NewCmplxFFT(g.NY),
		fourier.NewCmplxFFT(g.NZ),
	}
}
