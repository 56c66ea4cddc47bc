package models

import "fmt"

// Grid describes the sampling of one unit cell. Data is stored as a 1D array
// with x varying fastest: idx = z*NX*NY + y*NX + x.
type Grid struct {
	NX, NY, NZ int
}

// NewGrid returns a grid with the given sampling along a, b and c.
func NewGrid(nx, ny, nz int) (Grid, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return Grid{}, fmt.Errorf("grid dimensions must be positive, got %dx%dx%d", nx, ny, nz)
	}
	return Grid{NX: nx, NY: ny, NZ: nz}, nil
}

// Size returns the number of grid points in the cell.
func (g Grid) Size() int {
	return g.NX * g.NY * g.NZ
}

// Dims returns the sampling as an array, indexed by axis.
func (g Grid) Dims() [3]int {
	return [3]int{g.NX, g.NY, g.NZ}
}

// Index returns the linear index of an in-range grid point.
func (g Grid) Index(x, y, z int) int {
	return z*g.NX*g.NY + y*g.NX + x
}

// Wrap returns the linear index of a grid point, applying unit cell periodicity.
func (g Grid) Wrap(x, y, z int) int {
	return g.Index(mod(x, g.NX), mod(y, g.NY), mod(z, g.NZ))
}

// Coords is the inverse of Index.
func (g Grid) Coords(idx int) (x, y, z int) {
	plane := g.NX * g.NY
	z = idx / plane
	rem := idx - z*plane
	y = rem / g.NX
	x = rem - y*g.NX
	return x, y, z
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// IndicatorVolume is a binary (or low-valued) occupancy map over one P1 unit
// cell. Values above the labelling threshold are solvent.
type IndicatorVolume struct {
	Grid
	Data []float64
}

// NewIndicatorVolume allocates an all-zero indicator volume.
func NewIndicatorVolume(g Grid) *IndicatorVolume {
	return &IndicatorVolume{Grid: g, Data: make([]float64, g.Size())}
}

// SolventFraction is the fraction of grid points above threshold.
func (v *IndicatorVolume) SolventFraction(threshold float64) float64 {
	if len(v.Data) == 0 {
		return 0
	}
	n := 0
	for _, d := range v.Data {
		if d > threshold {
			n++
		}
	}
	return float64(n) / float64(len(v.Data))
}

// LabelVolume holds one region id per grid point. Id 0 marks points below the
// solvent threshold, which together form the macromolecule.
type LabelVolume struct {
	Grid
	Labels []int
}

// Counts returns the number of voxels carrying each label, indexed by id.
func (l *LabelVolume) Counts() []int {
	maxID := 0
	for _, id := range l.Labels {
		if id > maxID {
			maxID = id
		}
	}
	counts := make([]int, maxID+1)
	for _, id := range l.Labels {
		counts[id]++
	}
	return counts
}
