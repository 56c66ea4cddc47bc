package regions

import (
	"fmt"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
)

// Transformer is the Fourier service used to turn a full-cell map into
// structure factors at given indices.
type Transformer interface {
	StructureFactors(data []float64, indices []models.Index) ([]complex128, error)
}

// Builder prepares region indicators and requests their structure factors.
type Builder struct {
	asu *crystal.AsymmetricUnit
	tr  Transformer
}

// NewBuilder returns a structure-factor builder over asu's grid.
func NewBuilder(asu *crystal.AsymmetricUnit, tr Transformer) *Builder {
	return &Builder{asu: asu, tr: tr}
}

// Build returns the structure factors of one region, aligned with indices.
// The region indicator is reduced to the asymmetric unit and re-expanded by
// symmetry before the transform, so every symmetry copy of the region
// contributes.
func (b *Builder) Build(r *models.Region, indices []models.Index) ([]complex128, error) {
	g := b.asu.Grid
	for _, idx := range r.Voxels {
		if idx < 0 || idx >= g.Size() {
			return nil, fmt.Errorf("region %d: voxel %d outside %dx%dx%d grid", r.ID, idx, g.NX, g.NY, g.NZ)
		}
	}
	asuMap, err := b.asu.Restrict(r.Indicator(g))
	if err != nil {
		return nil, fmt.Errorf("region %d: %w", r.ID, err)
	}
	full, err := b.asu.Expand(asuMap)
	if err != nil {
		return nil, fmt.Errorf("region %d: %w", r.ID, err)
	}
	f, err := b.tr.StructureFactors(full, indices)
	if err != nil {
		return nil, fmt.Errorf("region %d: %w", r.ID, err)
	}
	return f, nil
}

// BuildAll fills StructureFactors of every region in place.
func (b *Builder) BuildAll(regs []models.Region, indices []models.Index) error {
	for i := range regs {
		f, err := b.Build(&regs[i], indices)
		if err != nil {
			return err
		}
		regs[i].StructureFactors = f
	}
	return nil
}

// BaseMask sums the structure factors of the largest retained region and of
// every region filling more than fraction percent of the cell. The result is
// the single-mask bulk-solvent term. Regions must already carry structure
// factors; n is the reflection count.
func BaseMask(regs []models.Region, fraction float64, n int) []complex128 {
	out := make([]complex128, n)
	for i, r := range regs {
		if i != 0 && r.UCFraction <= fraction {
			continue
		}
		for j, f := range r.StructureFactors {
			out[j] += f
		}
	}
	return out
}
