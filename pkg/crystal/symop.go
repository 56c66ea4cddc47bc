package crystal

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"mosaicsolvent/internal/models"
)

var (
	// ErrBadSymOp is returned for a symmetry operator that cannot be parsed.
	ErrBadSymOp = errors.New("invalid symmetry operator")

	// ErrGridIncompatible is returned when an operator does not map grid
	// points onto grid points.
	ErrGridIncompatible = errors.New("grid is incompatible with space group symmetry")
)

// SymOp is a symmetry operator x' = R·x + T acting on fractional coordinates.
type SymOp struct {
	R [3][3]int
	T [3]float64
}

// Identity is the operator x,y,z.
var Identity = SymOp{R: [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}

// ParseSymOp parses an xyz triplet such as "-x,y+1/2,-z".
func ParseSymOp(s string) (SymOp, error) {
	parts := strings.Split(strings.ToLower(strings.ReplaceAll(s, " ", "")), ",")
	if len(parts) != 3 {
		return SymOp{}, fmt.Errorf("%w: %q", ErrBadSymOp, s)
	}
	var op SymOp
	for row, p := range parts {
		if err := parseRow(p, row, &op); err != nil {
			return SymOp{}, fmt.Errorf("%w: %q: %v", ErrBadSymOp, s, err)
		}
	}
	op.T = [3]float64{frac(op.T[0]), frac(op.T[1]), frac(op.T[2])}
	return op, nil
}

func parseRow(p string, row int, op *SymOp) error {
	if p == "" {
		return errors.New("empty component")
	}
	seen := false
	for i := 0; i < len(p); {
		sign := 1
		switch p[i] {
		case '+':
			i++
		case '-':
			sign = -1
			i++
		}
		if i >= len(p) {
			return errors.New("dangling sign")
		}
		switch c := p[i]; c {
		case 'x', 'y', 'z':
			op.R[row][c-'x'] += sign
			i++
		default:
			j := i
			for j < len(p) && (p[j] >= '0' && p[j] <= '9' || p[j] == '.' || p[j] == '/') {
				j++
			}
			if j == i {
				return fmt.Errorf("unexpected %q", c)
			}
			v, err := parseFraction(p[i:j])
			if err != nil {
				return err
			}
			op.T[row] += float64(sign) * v
			i = j
		}
		seen = true
	}
	if !seen {
		return errors.New("empty component")
	}
	return nil
}

func parseFraction(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	if !ok {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, errors.New("zero denominator")
	}
	return n / d, nil
}

// frac reduces a translation into [0,1).
func frac(v float64) float64 {
	v -= math.Floor(v)
	if v >= 1-1e-9 {
		v = 0
	}
	return v
}

// IsIdentity reports whether op is x,y,z.
func (op SymOp) IsIdentity() bool {
	return op.R == Identity.R && op.T == [3]float64{}
}

// ApplyFrac maps a fractional coordinate.
func (op SymOp) ApplyFrac(x [3]float64) [3]float64 {
	var out [3]float64
	for k := 0; k < 3; k++ {
		out[k] = op.T[k]
		for l := 0; l < 3; l++ {
			out[k] += float64(op.R[k][l]) * x[l]
		}
	}
	return out
}

// String formats the operator as an xyz triplet.
func (op SymOp) String() string {
	axes := "xyz"
	rows := make([]string, 3)
	for k := 0; k < 3; k++ {
		var b strings.Builder
		for l := 0; l < 3; l++ {
			switch r := op.R[k][l]; {
			case r == 1:
				if b.Len() > 0 {
					b.WriteByte('+')
				}
				b.WriteByte(axes[l])
			case r == -1:
				b.WriteByte('-')
				b.WriteByte(axes[l])
			case r != 0:
				fmt.Fprintf(&b, "%+d%c", r, axes[l])
			}
		}
		if op.T[k] != 0 {
			fmt.Fprintf(&b, "+%s", strconv.FormatFloat(op.T[k], 'g', 6, 64))
		}
		rows[k] = b.String()
	}
	return strings.Join(rows, ",")
}

// GridOp is a SymOp expressed in integer grid units for one sampling.
type GridOp struct {
	M [3][3]int
	T [3]int
}

// OnGrid converts op to grid units. It fails when a rotation component mixes
// axes with incommensurate sampling or a translation is not a whole number of
// grid steps.
func (op SymOp) OnGrid(g models.Grid) (GridOp, error) {
	n := g.Dims()
	var gop GridOp
	for k := 0; k < 3; k++ {
		for l := 0; l < 3; l++ {
			r := op.R[k][l]
			if r == 0 {
				continue
			}
			if (r*n[k])%n[l] != 0 {
				return GridOp{}, fmt.Errorf("%w: %s mixes axes sampled %d and %d", ErrGridIncompatible, op, n[k], n[l])
			}
			gop.M[k][l] = r * n[k] / n[l]
		}
		t := op.T[k] * float64(n[k])
		rt := math.Round(t)
		if math.Abs(t-rt) > 1e-6 {
			return GridOp{}, fmt.Errorf("%w: translation %g of %s not on %d-point grid", ErrGridIncompatible, op.T[k], op, n[k])
		}
		gop.T[k] = int(rt)
	}
	return gop, nil
}

// Apply maps a linear grid index to the linear index of its image.
func (gop GridOp) Apply(g models.Grid, idx int) int {
	x, y, z := g.Coords(idx)
	c := [3]int{x, y, z}
	var out [3]int
	for k := 0; k < 3; k++ {
		out[k] = gop.T[k] + gop.M[k][0]*c[0] + gop.M[k][1]*c[1] + gop.M[k][2]*c[2]
	}
	return g.Wrap(out[0], out[1], out[2])
}
