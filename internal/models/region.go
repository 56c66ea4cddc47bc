package models

// Region is one physically distinct connected component of the indicator
// volume, after symmetry merging.
type Region struct {
	// ID is the canonical label in the LabelVolume.
	ID int

	// Rank is the position in the volume-sorted list (0 = largest).
	Rank int

	// VoxelCount is the number of full-cell grid points in the region.
	VoxelCount int

	// Volume is VoxelCount times the volume of one voxel, in Å³.
	Volume float64

	// UCFraction is the percentage of the unit cell occupied by the region.
	UCFraction float64

	// Macromolecule marks the sub-threshold region. It is never a contributor.
	Macromolecule bool

	// Voxels lists the linear grid indices belonging to the region.
	Voxels []int

	// StructureFactors is aligned 1:1 with the reflection set of the run.
	StructureFactors []complex128
}

// Indicator returns a full-cell occupancy map that is 1 inside the region.
func (r *Region) Indicator(g Grid) []float64 {
	data := make([]float64, g.Size())
	for _, idx := range r.Voxels {
		data[idx] = 1
	}
	return data
}

// Index is a Miller index (h, k, l).
type Index [3]int

// Negate returns the Friedel mate of the index.
func (h Index) Negate() Index {
	return Index{-h[0], -h[1], -h[2]}
}

// IsZero reports whether h is the origin of reciprocal space.
func (h Index) IsZero() bool {
	return h[0] == 0 && h[1] == 0 && h[2] == 0
}

// BinSelection marks the reflections of one resolution shell.
type BinSelection []bool

// Count returns the number of selected reflections.
func (b BinSelection) Count() int {
	n := 0
	for _, s := range b {
		if s {
			n++
		}
	}
	return n
}

// Indices returns the positions of the selected reflections.
func (b BinSelection) Indices() []int {
	idx := make([]int, 0, b.Count())
	for i, s := range b {
		if s {
			idx = append(idx, i)
		}
	}
	return idx
}

// CoefficientVector holds non-negative scales. Index 0 is the reference
// (macromolecule) term; 1..N follow the contributor order of the bin.
type CoefficientVector []float64

// ReferenceOnly returns the coefficient vector that keeps the reference term
// and switches off n contributors.
func ReferenceOnly(n int) CoefficientVector {
	c := make(CoefficientVector, n+1)
	c[0] = 1
	return c
}
