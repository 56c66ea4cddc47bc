package crystal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mosaicsolvent/internal/models"
)

func TestParseSymOp(t *testing.T) {
	testCases := []struct {
		in string
		r  [3][3]int
		t  [3]float64
	}{
		{"x,y,z", Identity.R, [3]float64{}},
		{"-x,y+1/2,-z", [3][3]int{{-1, 0, 0}, {0, 1, 0}, {0, 0, -1}}, [3]float64{0, 0.5, 0}},
		{"-y, x-y, z+1/3", [3][3]int{{0, -1, 0}, {1, -1, 0}, {0, 0, 1}}, [3]float64{0, 0, 1.0 / 3}},
		{"1/2+x,-z,y-1/4", [3][3]int{{1, 0, 0}, {0, 0, -1}, {0, 1, 0}}, [3]float64{0.5, 0, 0.75}},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			op, err := ParseSymOp(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.r, op.R)
			for k := 0; k < 3; k++ {
				assert.InDelta(t, tc.t[k], op.T[k], 1e-12)
			}
		})
	}
}

func TestParseSymOpRejectsGarbage(t *testing.T) {
	for _, in := range []string{"x,y", "x,y,q", "x,y,z+", "x,,z", "x,y,1/0"} {
		_, err := ParseSymOp(in)
		assert.ErrorIs(t, err, ErrBadSymOp, in)
	}
}

func TestUnitCellMetric(t *testing.T) {
	uc, err := NewUnitCell(10, 20, 30, 90, 90, 90)
	require.NoError(t, err)

	assert.InDelta(t, 6000.0, uc.Volume(), 1e-9)
	assert.InDelta(t, 5.0, uc.DSpacing(models.Index{2, 0, 0}), 1e-12)
	assert.InDelta(t, 10.0, uc.DSpacing(models.Index{0, 2, 0}), 1e-12)
	assert.True(t, math.IsInf(uc.DSpacing(models.Index{}), 1))
	assert.InDelta(t, 1.0, uc.LengthSq([3]float64{0.1, 0, 0}), 1e-12)
	assert.InDelta(t, 4.0+9.0, uc.LengthSq([3]float64{0, 0.1, 0.1}), 1e-12)

	rp := uc.ReciprocalParameters()
	assert.InDelta(t, 0.1, rp[0], 1e-12)
	assert.InDelta(t, 0.05, rp[1], 1e-12)

	m := uc.Metric()
	assert.InDelta(t, uc.LengthSq([3]float64{0.1, 0.2, 0.3}), m.LengthSq(0.1, 0.2, 0.3), 1e-9)
}

func TestMonoclinicDSpacing(t *testing.T) {
	uc, err := NewUnitCell(30, 40, 50, 90, 100, 90)
	require.NoError(t, err)

	// For monoclinic b-unique, d(010) = b.
	assert.InDelta(t, 40.0, uc.DSpacing(models.Index{0, 1, 0}), 1e-9)
	// d(100) = a·sin(beta).
	assert.InDelta(t, 30*math.Sin(100*math.Pi/180), uc.DSpacing(models.Index{1, 0, 0}), 1e-9)

	d := uc.DSpacings([]models.Index{{1, 0, 0}, {0, 1, 0}})
	assert.InDelta(t, uc.DSpacing(models.Index{1, 0, 0}), d[0], 1e-12)
}

func TestInvalidUnitCell(t *testing.T) {
	_, err := NewUnitCell(10, -1, 10, 90, 90, 90)
	assert.Error(t, err)
	_, err = NewUnitCell(10, 10, 10, 170, 170, 170)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	sg, err := Lookup("P 21 21 21")
	require.NoError(t, err)
	assert.Equal(t, 4, sg.Order())
	assert.Equal(t, 19, sg.Number)
	assert.True(t, sg.Ops[0].IsIdentity())

	_, err = Lookup("P 65 2 2")
	assert.ErrorIs(t, err, ErrUnknownSpaceGroup)

	for _, name := range Symbols() {
		_, err := Lookup(name)
		assert.NoError(t, err, name)
	}
}

func TestGridCompatibility(t *testing.T) {
	p21, err := Lookup("P21")
	require.NoError(t, err)

	g, _ := models.NewGrid(8, 8, 8)
	assert.NoError(t, p21.CheckGrid(g))

	odd, _ := models.NewGrid(8, 7, 8)
	assert.ErrorIs(t, p21.CheckGrid(odd), ErrGridIncompatible)

	p4, err := Lookup("P4")
	require.NoError(t, err)
	rect, _ := models.NewGrid(8, 12, 8)
	assert.ErrorIs(t, p4.CheckGrid(rect), ErrGridIncompatible)
}

func TestGridOpApply(t *testing.T) {
	p2, err := Lookup("P2")
	require.NoError(t, err)
	g, _ := models.NewGrid(16, 16, 16)
	ops, err := p2.GridOps(g)
	require.NoError(t, err)

	img := ops[1].Apply(g, g.Index(3, 5, 7))
	x, y, z := g.Coords(img)
	assert.Equal(t, [3]int{13, 5, 9}, [3]int{x, y, z})
	assert.Equal(t, g.Index(3, 5, 7), ops[1].Apply(g, img))
}

func TestAsymmetricUnit(t *testing.T) {
	sg, err := Lookup("P212121")
	require.NoError(t, err)
	g, _ := models.NewGrid(8, 8, 8)

	asu, err := NewAsymmetricUnit(sg, g)
	require.NoError(t, err)
	// No point of P212121 lies on a special position, so orbits have full order.
	assert.Equal(t, g.Size()/4, asu.Len())

	ops, err := sg.GridOps(g)
	require.NoError(t, err)
	full := make([]float64, g.Size())
	seed := g.Index(1, 2, 3)
	for _, op := range ops {
		full[op.Apply(g, seed)] = 1
	}

	reduced, err := asu.Restrict(full)
	require.NoError(t, err)
	n := 0
	for _, v := range reduced {
		if v != 0 {
			n++
		}
	}
	assert.Equal(t, 1, n)

	back, err := asu.Expand(reduced)
	require.NoError(t, err)
	assert.Equal(t, full, back)

	_, err = asu.Expand(make([]float64, 3))
	assert.Error(t, err)
}

func TestExpandSites(t *testing.T) {
	sg, err := Lookup("P-1")
	require.NoError(t, err)
	sites := sg.ExpandSites([][3]float64{{0.1, 0.2, 0.3}})
	require.Len(t, sites, 2)
	assert.InDelta(t, -0.2, sites[1][1], 1e-12)
}
