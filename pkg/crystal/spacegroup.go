package crystal

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"mosaicsolvent/internal/models"
)

// ErrUnknownSpaceGroup is returned by Lookup for a symbol missing from the table.
var ErrUnknownSpaceGroup = errors.New("unknown space group")

// SpaceGroup is a named list of symmetry operators. The first operator is
// always the identity.
type SpaceGroup struct {
	Name   string
	Number int
	Ops    []SymOp
}

// NewSpaceGroup builds a group from xyz triplets. The identity is added when
// missing so callers may list only the non-trivial operators.
func NewSpaceGroup(name string, number int, triplets ...string) (*SpaceGroup, error) {
	sg := &SpaceGroup{Name: name, Number: number, Ops: []SymOp{Identity}}
	for _, t := range triplets {
		op, err := ParseSymOp(t)
		if err != nil {
			return nil, err
		}
		if op.IsIdentity() {
			continue
		}
		sg.Ops = append(sg.Ops, op)
	}
	return sg, nil
}

var builtin = map[string]struct {
	number int
	ops    []string
}{
	"P1":      {1, nil},
	"P-1":     {2, []string{"-x,-y,-z"}},
	"P2":      {3, []string{"-x,y,-z"}},
	"P21":     {4, []string{"-x,y+1/2,-z"}},
	"C2":      {5, []string{"-x,y,-z", "x+1/2,y+1/2,z", "-x+1/2,y+1/2,-z"}},
	"P222":    {16, []string{"-x,-y,z", "-x,y,-z", "x,-y,-z"}},
	"P212121": {19, []string{"-x+1/2,-y,z+1/2", "-x,y+1/2,-z+1/2", "x+1/2,-y+1/2,-z"}},
	"P4":      {75, []string{"-x,-y,z", "-y,x,z", "y,-x,z"}},
	"P41":     {76, []string{"-x,-y,z+1/2", "-y,x,z+1/4", "y,-x,z+3/4"}},
	"P43212": {96, []string{
		"-x,-y,z+1/2", "-y+1/2,x+1/2,z+3/4", "y+1/2,-x+1/2,z+1/4",
		"-x+1/2,y+1/2,-z+3/4", "x+1/2,-y+1/2,-z+1/4", "y,x,-z", "-y,-x,-z+1/2",
	}},
	"P3": {143, []string{"-y,x-y,z", "-x+y,-x,z"}},
	"P6": {168, []string{"-y,x-y,z", "-x+y,-x,z", "-x,-y,z", "y,-x+y,z", "x-y,x,z"}},
}

// Lookup returns a built-in space group by Hermann-Mauguin symbol. Spaces and
// case are ignored, so "P 21 21 21" and "p212121" both resolve.
func Lookup(symbol string) (*SpaceGroup, error) {
	key := strings.ToUpper(strings.ReplaceAll(symbol, " ", ""))
	entry, ok := builtin[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpaceGroup, symbol)
	}
	return NewSpaceGroup(key, entry.number, entry.ops...)
}

// Symbols lists the built-in space groups.
func Symbols() []string {
	names := make([]string, 0, len(builtin))
	for k := range builtin {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Order returns the number of operators.
func (sg *SpaceGroup) Order() int {
	return len(sg.Ops)
}

// GridOps converts all operators to grid units for g.
func (sg *SpaceGroup) GridOps(g models.Grid) ([]GridOp, error) {
	gops := make([]GridOp, len(sg.Ops))
	for i, op := range sg.Ops {
		gop, err := op.OnGrid(g)
		if err != nil {
			return nil, fmt.Errorf("space group %s: %w", sg.Name, err)
		}
		gops[i] = gop
	}
	return gops, nil
}

// CheckGrid reports whether every operator maps g onto itself.
func (sg *SpaceGroup) CheckGrid(g models.Grid) error {
	_, err := sg.GridOps(g)
	return err
}

// ExpandSites applies all operators to fractional sites. Images are not
// deduplicated; overlapping copies of special-position atoms are harmless for
// masking.
func (sg *SpaceGroup) ExpandSites(sites [][3]float64) [][3]float64 {
	out := make([][3]float64, 0, len(sites)*len(sg.Ops))
	for _, s := range sites {
		for _, op := range sg.Ops {
			out = append(out, op.ApplyFrac(s))
		}
	}
	return out
}
