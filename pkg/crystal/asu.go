package crystal

import (
	"fmt"

	"mosaicsolvent/internal/models"
)

// AsymmetricUnit is the set of orbit representatives of a grid under a space
// group: a point belongs to it when its linear index is the smallest among
// its symmetry images. The set generates the full cell under the group's
// operators, which is all downstream consumers rely on.
type AsymmetricUnit struct {
	Grid models.Grid
	Reps []int
	ops  []GridOp
}

// NewAsymmetricUnit enumerates the orbit representatives of g under sg.
func NewAsymmetricUnit(sg *SpaceGroup, g models.Grid) (*AsymmetricUnit, error) {
	ops, err := sg.GridOps(g)
	if err != nil {
		return nil, err
	}
	asu := &AsymmetricUnit{Grid: g, ops: ops}
	n := g.Size()
	for idx := 0; idx < n; idx++ {
		rep := true
		for _, op := range ops[1:] {
			if op.Apply(g, idx) < idx {
				rep = false
				break
			}
		}
		if rep {
			asu.Reps = append(asu.Reps, idx)
		}
	}
	return asu, nil
}

// Len returns the number of grid points in the asymmetric unit.
func (a *AsymmetricUnit) Len() int {
	return len(a.Reps)
}

// Restrict samples a full-cell map at the representatives.
func (a *AsymmetricUnit) Restrict(full []float64) ([]float64, error) {
	if len(full) != a.Grid.Size() {
		return nil, fmt.Errorf("restrict: map has %d points, grid has %d", len(full), a.Grid.Size())
	}
	out := make([]float64, len(a.Reps))
	for i, idx := range a.Reps {
		out[i] = full[idx]
	}
	return out, nil
}

// Expand writes every representative value onto all of its symmetry images.
func (a *AsymmetricUnit) Expand(asu []float64) ([]float64, error) {
	if len(asu) != len(a.Reps) {
		return nil, fmt.Errorf("expand: asymmetric map has %d points, expected %d", len(asu), len(a.Reps))
	}
	full := make([]float64, a.Grid.Size())
	for i, idx := range a.Reps {
		v := asu[i]
		if v == 0 {
			continue
		}
		for _, op := range a.ops {
			full[op.Apply(a.Grid, idx)] = v
		}
	}
	return full, nil
}
