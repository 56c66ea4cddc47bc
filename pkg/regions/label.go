// Package regions splits a solvent indicator volume into physically distinct
// regions and prepares their structure factors.
package regions

import (
	"fmt"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
)

// Connectivity is the neighbourhood used for connected-component labelling:
// 6 (faces), 18 (faces and edges) or 26 (faces, edges and corners).
type Connectivity int

const (
	Faces   Connectivity = 6
	Edges   Connectivity = 18
	Corners Connectivity = 26
)

func (c Connectivity) offsets() ([][3]int, error) {
	var out [][3]int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				n := abs(dx) + abs(dy) + abs(dz)
				if n == 0 {
					continue
				}
				switch c {
				case Faces:
					if n > 1 {
						continue
					}
				case Edges:
					if n > 2 {
						continue
					}
				case Corners:
				default:
					return nil, fmt.Errorf("unsupported connectivity %d (want 6, 18 or 26)", int(c))
				}
				out = append(out, [3]int{dx, dy, dz})
			}
		}
	}
	return out, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Label assigns a region id to every grid point above threshold. Ids start at
// 1 and follow discovery order in a scan of the grid; points at or below
// threshold keep id 0. Neighbourhoods wrap around the cell edges.
func Label(vol *models.IndicatorVolume, threshold float64, conn Connectivity) (*models.LabelVolume, error) {
	g := vol.Grid
	if len(vol.Data) != g.Size() {
		return nil, fmt.Errorf("indicator volume has %d points, grid has %d", len(vol.Data), g.Size())
	}
	offsets, err := conn.offsets()
	if err != nil {
		return nil, err
	}

	labels := &models.LabelVolume{Grid: g, Labels: make([]int, g.Size())}
	next := 0
	queue := make([]int, 0, 1024)
	for seed, v := range vol.Data {
		if v <= threshold || labels.Labels[seed] != 0 {
			continue
		}
		next++
		labels.Labels[seed] = next
		queue = append(queue[:0], seed)
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y, z := g.Coords(idx)
			for _, o := range offsets {
				nb := g.Wrap(x+o[0], y+o[1], z+o[2])
				if labels.Labels[nb] != 0 || vol.Data[nb] <= threshold {
					continue
				}
				labels.Labels[nb] = next
				queue = append(queue, nb)
			}
		}
	}
	return labels, nil
}

// unionFind keeps the smallest id of each set as its root.
type unionFind []int

func newUnionFind(n int) unionFind {
	uf := make(unionFind, n)
	for i := range uf {
		uf[i] = i
	}
	return uf
}

func (uf unionFind) find(a int) int {
	for uf[a] != a {
		uf[a] = uf[uf[a]]
		a = uf[a]
	}
	return a
}

func (uf unionFind) union(a, b int) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	uf[rb] = ra
	return true
}

// MergeSymmetryRelated relabels, in place, every region that is the image of
// another region under a non-identity operator of sg. Merging is transitive;
// each merged set takes its smallest id. It returns the number of merges.
func MergeSymmetryRelated(labels *models.LabelVolume, sg *crystal.SpaceGroup) (int, error) {
	ops, err := sg.GridOps(labels.Grid)
	if err != nil {
		return 0, err
	}
	counts := labels.Counts()
	uf := newUnionFind(len(counts))
	merges := 0
	for idx, a := range labels.Labels {
		if a == 0 {
			continue
		}
		for _, op := range ops[1:] {
			b := labels.Labels[op.Apply(labels.Grid, idx)]
			if b == 0 || b == a {
				continue
			}
			if uf.union(a, b) {
				merges++
			}
		}
	}
	if merges == 0 {
		return 0, nil
	}
	for i, a := range labels.Labels {
		labels.Labels[i] = uf.find(a)
	}
	return merges, nil
}
