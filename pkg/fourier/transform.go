package fourier

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"mosaicsolvent/internal/models"
)

// ErrIndexOutOfGrid is returned for a Miller index that the grid cannot
// represent without aliasing.
var ErrIndexOutOfGrid = errors.New("miller index beyond grid Nyquist limit")

// Transform is the discrete Fourier transform service for one unit cell grid.
type Transform struct {
	grid       models.Grid
	cellVolume float64
	plans      [3]*fourier.CmplxFFT
}

// NewTransform creates a transform for grid g. cellVolume scales the
// coefficients; pass 1 to obtain voxel-fraction units.
func NewTransform(g models.Grid, cellVolume float64) (*Transform, error) {
	if g.Size() == 0 {
		return nil, errors.New("fourier: empty grid")
	}
	if cellVolume <= 0 {
		return nil, fmt.Errorf("fourier: cell volume must be positive, got %g", cellVolume)
	}
	return &Transform{grid: g, cellVolume: cellVolume, plans: newPlans(g)}, nil
}

// Grid returns the sampling the transform was built for.
func (t *Transform) Grid() models.Grid {
	return t.grid
}

// wrap maps a Miller index onto grid coordinates, rejecting indices at or
// beyond half the sampling on any axis.
func (t *Transform) wrap(h models.Index) (int, error) {
	n := t.grid.Dims()
	for k := 0; k < 3; k++ {
		if 2*abs(h[k]) >= n[k] {
			return 0, fmt.Errorf("%w: %v on %dx%dx%d grid", ErrIndexOutOfGrid, h, n[0], n[1], n[2])
		}
	}
	return t.grid.Wrap(h[0], h[1], h[2]), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// StructureFactors transforms a real-space map and samples the result at the
// requested indices, in order.
func (t *Transform) StructureFactors(data []float64, indices []models.Index) ([]complex128, error) {
	if len(data) != t.grid.Size() {
		return nil, fmt.Errorf("fourier: map has %d points, grid has %d", len(data), t.grid.Size())
	}
	pos := make([]int, len(indices))
	for i, h := range indices {
		p, err := t.wrap(h)
		if err != nil {
			return nil, err
		}
		pos[i] = p
	}

	work := make([]complex128, len(data))
	for i, v := range data {
		work[i] = complex(v, 0)
	}
	fft3D(work, t.grid, t.plans)

	// ρ is real, so the exp(+2πi) sum is the conjugate of the exp(-2πi) one.
	scale := complex(t.cellVolume/float64(t.grid.Size()), 0)
	out := make([]complex128, len(indices))
	for i, p := range pos {
		out[i] = scale * cmplx.Conj(work[p])
	}
	return out, nil
}

// Map synthesises a real-space map from coefficients. Friedel mates F(−h) =
// F(h)* are added for every index whose mate is not listed.
func (t *Transform) Map(coeffs []complex128, indices []models.Index) ([]float64, error) {
	if len(coeffs) != len(indices) {
		return nil, fmt.Errorf("fourier: %d coefficients for %d indices", len(coeffs), len(indices))
	}
	present := make(map[models.Index]bool, len(indices))
	for _, h := range indices {
		present[h] = true
	}

	work := make([]complex128, t.grid.Size())
	for i, h := range indices {
		p, err := t.wrap(h)
		if err != nil {
			return nil, err
		}
		work[p] += coeffs[i]
		mate := h.Negate()
		if h.IsZero() || present[mate] {
			continue
		}
		q, _ := t.wrap(mate)
		work[q] += cmplx.Conj(coeffs[i])
	}
	fft3D(work, t.grid, t.plans)

	out := make([]float64, len(work))
	inv := 1 / t.cellVolume
	for i, v := range work {
		out[i] = real(v) * inv
	}
	return out, nil
}

// SigmaScale returns (ρ − mean)/sd. A flat map is returned as zeros.
func SigmaScale(data []float64) []float64 {
	mean, sd := stat.MeanStdDev(data, nil)
	out := make([]float64, len(data))
	if sd == 0 {
		return out
	}
	for i, v := range data {
		out[i] = (v - mean) / sd
	}
	return out
}
