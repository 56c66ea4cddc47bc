package reflections

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
)

// EqualCountBins splits the reflections into n resolution shells holding as
// close to the same number of reflections as possible. Bins are ordered from
// low to high resolution.
func EqualCountBins(cell crystal.UnitCell, indices []models.Index, n int) ([]models.BinSelection, error) {
	if n < 1 {
		return nil, fmt.Errorf("need at least one bin, got %d", n)
	}
	if len(indices) < n {
		return nil, fmt.Errorf("%d reflections cannot fill %d bins", len(indices), n)
	}
	d := cell.DSpacings(indices)
	order := make([]int, len(d))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return d[order[a]] > d[order[b]] })

	bins := make([]models.BinSelection, n)
	for b := range bins {
		bins[b] = make(models.BinSelection, len(indices))
		lo, hi := b*len(order)/n, (b+1)*len(order)/n
		for _, i := range order[lo:hi] {
			bins[b][i] = true
		}
	}
	return bins, nil
}

// ResolutionRange returns the largest and smallest d-spacing of the selected
// reflections.
func ResolutionRange(cell crystal.UnitCell, indices []models.Index, sel models.BinSelection) (dMax, dMin float64, err error) {
	if len(sel) != len(indices) {
		return 0, 0, fmt.Errorf("selection covers %d reflections, set has %d", len(sel), len(indices))
	}
	dMax, dMin = 0, math.Inf(1)
	for _, i := range sel.Indices() {
		d := cell.DSpacing(indices[i])
		dMax = math.Max(dMax, d)
		dMin = math.Min(dMin, d)
	}
	if math.IsInf(dMin, 1) {
		return 0, 0, errors.New("empty selection")
	}
	return dMax, dMin, nil
}
