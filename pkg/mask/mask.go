// Package mask computes the solvent indicator volume of a unit cell from
// atomic sites and radii.
//
// A grid point inside any atom's van der Waals sphere is macromolecule. A
// point within radius+SolventRadius of an atom but outside all spheres lies
// in the accessible boundary; it becomes solvent only when a bulk-solvent
// point is closer than ShrinkTruncationRadius, which trims the boundary back
// to the contact surface. All remaining points are solvent.
package mask

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
)

// Atom is one site in fractional coordinates with its van der Waals radius in Å.
type Atom struct {
	Site   [3]float64
	Radius float64
}

// Params controls the solvent boundary.
type Params struct {
	// SolventRadius is the probe radius added to every atom radius.
	SolventRadius float64

	// ShrinkTruncationRadius trims the accessible boundary. Zero disables
	// trimming and leaves the whole boundary as macromolecule.
	ShrinkTruncationRadius float64
}

// DefaultParams returns the conventional probe radii.
func DefaultParams() Params {
	return Params{SolventRadius: 1.1, ShrinkTruncationRadius: 0.9}
}

const (
	solvent  int8 = 1
	inside   int8 = 0
	boundary int8 = -1
)

// Result carries the indicator volume and its surface fractions.
type Result struct {
	Volume *models.IndicatorVolume

	// AccessibleFraction counts points outside every radius+probe sphere.
	AccessibleFraction float64

	// ContactFraction counts points that end up as solvent.
	ContactFraction float64
}

// Compute builds the P1 indicator volume of the cell. Atoms are expanded by
// the space group before masking.
func Compute(cell crystal.UnitCell, g models.Grid, sg *crystal.SpaceGroup, atoms []Atom, p Params) (*Result, error) {
	if err := cell.Validate(); err != nil {
		return nil, err
	}
	if p.SolventRadius < 0 || p.ShrinkTruncationRadius < 0 {
		return nil, fmt.Errorf("mask: radii must be non-negative: %+v", p)
	}
	if g.Size() == 0 {
		return nil, fmt.Errorf("mask: empty grid")
	}

	data := make([]int8, g.Size())
	for i := range data {
		data[i] = solvent
	}

	metric := cell.Metric()
	rp := cell.ReciprocalParameters()
	n := g.Dims()

	for _, at := range atoms {
		if at.Radius < 0 {
			return nil, fmt.Errorf("mask: negative radius %g", at.Radius)
		}
		cutoff := at.Radius + p.SolventRadius
		cutoffSq := cutoff * cutoff
		radSq := at.Radius * at.Radius

		for _, site := range sg.ExpandSites([][3]float64{at.Site}) {
			var lo, hi [3]int
			for k := 0; k < 3; k++ {
				lo[k] = int(math.Floor(float64(n[k]) * (site[k] - cutoff*rp[k])))
				hi[k] = int(math.Ceil(float64(n[k]) * (site[k] + cutoff*rp[k])))
			}
			for z := lo[2]; z <= hi[2]; z++ {
				dz := float64(z)/float64(n[2]) - site[2]
				for y := lo[1]; y <= hi[1]; y++ {
					dy := float64(y)/float64(n[1]) - site[1]
					for x := lo[0]; x <= hi[0]; x++ {
						dx := float64(x)/float64(n[0]) - site[0]
						d := metric.LengthSq(dx, dy, dz)
						if d >= cutoffSq {
							continue
						}
						idx := g.Wrap(x, y, z)
						if d < radSq {
							data[idx] = inside
						} else if data[idx] == solvent {
							data[idx] = boundary
						}
					}
				}
			}
		}
	}

	accessible := 0
	for _, v := range data {
		if v == solvent {
			accessible++
		}
	}

	final := contactSurface(data, g, cell, p.ShrinkTruncationRadius)
	vol := models.NewIndicatorVolume(g)
	nsolv := 0
	for i, v := range final {
		if v == solvent {
			vol.Data[i] = 1
			nsolv++
		}
	}
	total := float64(g.Size())
	return &Result{
		Volume:             vol,
		AccessibleFraction: float64(accessible) / total,
		ContactFraction:    float64(nsolv) / total,
	}, nil
}

// contactSurface converts boundary points near bulk solvent into solvent.
func contactSurface(data []int8, g models.Grid, cell crystal.UnitCell, shrink float64) []int8 {
	out := make([]int8, len(data))
	copy(out, data)
	if shrink == 0 {
		for i, v := range out {
			if v == boundary {
				out[i] = inside
			}
		}
		return out
	}

	neighbors := neighborOffsets(g, cell, shrink)
	for idx, v := range data {
		if v != boundary {
			continue
		}
		out[idx] = inside
		x, y, z := g.Coords(idx)
		for _, o := range neighbors {
			if data[g.Wrap(x+o[0], y+o[1], z+o[2])] == solvent {
				out[idx] = solvent
				break
			}
		}
	}
	return out
}

// neighborOffsets lists grid offsets closer than r.
func neighborOffsets(g models.Grid, cell crystal.UnitCell, r float64) [][3]int {
	rp := cell.ReciprocalParameters()
	metric := cell.Metric()
	n := g.Dims()
	var span [3]int
	for k := 0; k < 3; k++ {
		span[k] = int(math.Ceil(r * rp[k] * float64(n[k])))
	}
	rSq := r * r
	var out [][3]int
	for i := -span[0]; i <= span[0]; i++ {
		for j := -span[1]; j <= span[1]; j++ {
			for k := -span[2]; k <= span[2]; k++ {
				d := metric.LengthSq(float64(i)/float64(n[0]), float64(j)/float64(n[1]), float64(k)/float64(n[2]))
				if d < rSq {
					out = append(out, [3]int{i, j, k})
				}
			}
		}
	}
	return out
}

// ReadAtoms parses a whitespace table of "x y z radius" rows in fractional
// coordinates. Blank lines and lines starting with '#' are skipped.
func ReadAtoms(r io.Reader) ([]Atom, error) {
	var atoms []Atom
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 4 {
			return nil, fmt.Errorf("atoms line %d: expected 4 fields, got %d", line, len(fields))
		}
		var vals [4]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("atoms line %d: %w", line, err)
			}
			vals[i] = v
		}
		atoms = append(atoms, Atom{Site: [3]float64{vals[0], vals[1], vals[2]}, Radius: vals[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error reading atoms: %w", err)
	}
	return atoms, nil
}
