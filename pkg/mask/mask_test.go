package mask

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
)

func cubicCell(t *testing.T, a float64) crystal.UnitCell {
	t.Helper()
	uc, err := crystal.NewUnitCell(a, a, a, 90, 90, 90)
	require.NoError(t, err)
	return uc
}

func TestSingleAtomNoProbe(t *testing.T) {
	cell := cubicCell(t, 20)
	g, _ := models.NewGrid(20, 20, 20)
	p1, _ := crystal.Lookup("P1")

	res, err := Compute(cell, g, p1, []Atom{{Site: [3]float64{0.5, 0.5, 0.5}, Radius: 2.9}}, Params{})
	require.NoError(t, err)

	vol := res.Volume
	assert.Equal(t, 0.0, vol.Data[g.Index(10, 10, 10)])
	assert.Equal(t, 0.0, vol.Data[g.Index(12, 10, 10)])
	assert.Equal(t, 1.0, vol.Data[g.Index(13, 10, 10)])
	assert.Equal(t, 1.0, vol.Data[g.Index(0, 0, 0)])

	// Points with x²+y²+z² < 2.9² on a 1 Å grid.
	inside := 0
	for x := -3; x <= 3; x++ {
		for y := -3; y <= 3; y++ {
			for z := -3; z <= 3; z++ {
				if x*x+y*y+z*z <= 8 {
					inside++
				}
			}
		}
	}
	assert.InDelta(t, 1-float64(inside)/float64(g.Size()), res.ContactFraction, 1e-12)
}

func TestProbeShrinksBack(t *testing.T) {
	cell := cubicCell(t, 20)
	g, _ := models.NewGrid(20, 20, 20)
	p1, _ := crystal.Lookup("P1")
	atoms := []Atom{{Site: [3]float64{0.5, 0.5, 0.5}, Radius: 2}}

	full, err := Compute(cell, g, p1, atoms, Params{SolventRadius: 1.1, ShrinkTruncationRadius: 0})
	require.NoError(t, err)
	trimmed, err := Compute(cell, g, p1, atoms, Params{SolventRadius: 1.1, ShrinkTruncationRadius: 1.5})
	require.NoError(t, err)

	// Without trimming the whole accessible boundary is macromolecule.
	assert.Equal(t, 0.0, full.Volume.Data[g.Index(13, 10, 10)])
	// A boundary point one step from bulk solvent is reclaimed.
	assert.Equal(t, 1.0, trimmed.Volume.Data[g.Index(13, 10, 10)])
	assert.Greater(t, trimmed.ContactFraction, full.ContactFraction)
	assert.InDelta(t, full.AccessibleFraction, trimmed.AccessibleFraction, 1e-12)
}

func TestSymmetryExpandsAtoms(t *testing.T) {
	cell := cubicCell(t, 20)
	g, _ := models.NewGrid(20, 20, 20)
	p2, _ := crystal.Lookup("P2")

	res, err := Compute(cell, g, p2, []Atom{{Site: [3]float64{0.2, 0.5, 0.2}, Radius: 1.5}}, Params{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Volume.Data[g.Index(4, 10, 4)])
	assert.Equal(t, 0.0, res.Volume.Data[g.Index(16, 10, 16)])
}

func TestComputeRejectsBadInput(t *testing.T) {
	cell := cubicCell(t, 20)
	g, _ := models.NewGrid(4, 4, 4)
	p1, _ := crystal.Lookup("P1")
	_, err := Compute(cell, g, p1, []Atom{{Radius: -1}}, Params{})
	assert.Error(t, err)
	_, err = Compute(cell, g, p1, nil, Params{SolventRadius: -1})
	assert.Error(t, err)
}

func TestReadAtoms(t *testing.T) {
	in := "# x y z r\n0.1 0.2 0.3 1.7\n\n0.5 0.5 0.5 1.52\n"
	atoms, err := ReadAtoms(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, atoms, 2)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, atoms[0].Site)
	assert.Equal(t, 1.52, atoms[1].Radius)

	_, err = ReadAtoms(strings.NewReader("0.1 0.2 0.3\n"))
	assert.Error(t, err)
	_, err = ReadAtoms(strings.NewReader("0.1 0.2 0.3 abc\n"))
	assert.Error(t, err)
}
