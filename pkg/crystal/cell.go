// Package crystal provides the unit cell metric, space-group symmetry
// operators and their action on a regular unit-cell grid.
package crystal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mosaicsolvent/internal/models"
)

// UnitCell holds the cell edges in Å and the inter-axial angles in degrees.
type UnitCell struct {
	A, B, C            float64
	Alpha, Beta, Gamma float64
}

// NewUnitCell validates the parameters and returns the cell.
func NewUnitCell(a, b, c, alpha, beta, gamma float64) (UnitCell, error) {
	uc := UnitCell{A: a, B: b, C: c, Alpha: alpha, Beta: beta, Gamma: gamma}
	if err := uc.Validate(); err != nil {
		return UnitCell{}, err
	}
	return uc, nil
}

// Validate checks that edges are positive and the angles describe a real cell.
func (uc UnitCell) Validate() error {
	if uc.A <= 0 || uc.B <= 0 || uc.C <= 0 {
		return fmt.Errorf("unit cell edges must be positive: %g %g %g", uc.A, uc.B, uc.C)
	}
	for _, ang := range []float64{uc.Alpha, uc.Beta, uc.Gamma} {
		if ang <= 0 || ang >= 180 {
			return fmt.Errorf("unit cell angle out of range: %g", ang)
		}
	}
	if uc.volumeFactor() <= 0 {
		return errors.New("unit cell angles do not form a valid cell")
	}
	return nil
}

func (uc UnitCell) cosines() (ca, cb, cg float64) {
	return cosDeg(uc.Alpha), cosDeg(uc.Beta), cosDeg(uc.Gamma)
}

func cosDeg(d float64) float64 {
	// exact zero for right angles keeps orthogonal metrics clean
	if d == 90 {
		return 0
	}
	return math.Cos(d * math.Pi / 180)
}

func (uc UnitCell) volumeFactor() float64 {
	ca, cb, cg := uc.cosines()
	return 1 - ca*ca - cb*cb - cg*cg + 2*ca*cb*cg
}

// Volume returns the cell volume in Å³.
func (uc UnitCell) Volume() float64 {
	return uc.A * uc.B * uc.C * math.Sqrt(uc.volumeFactor())
}

// MetricalMatrix returns the real-space metric tensor G.
func (uc UnitCell) MetricalMatrix() *mat.SymDense {
	ca, cb, cg := uc.cosines()
	return mat.NewSymDense(3, []float64{
		uc.A * uc.A, uc.A * uc.B * cg, uc.A * uc.C * cb,
		uc.A * uc.B * cg, uc.B * uc.B, uc.B * uc.C * ca,
		uc.A * uc.C * cb, uc.B * uc.C * ca, uc.C * uc.C,
	})
}

// reciprocalMetric returns G* = G⁻¹.
func (uc UnitCell) reciprocalMetric() *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(uc.MetricalMatrix()); err != nil {
		// Validate rules out singular metrics; a failure here means the
		// caller skipped it.
		panic(fmt.Sprintf("crystal: singular metric for cell %+v: %v", uc, err))
	}
	return &inv
}

// ReciprocalParameters returns a*, b*, c* in 1/Å.
func (uc UnitCell) ReciprocalParameters() [3]float64 {
	gs := uc.reciprocalMetric()
	return [3]float64{math.Sqrt(gs.At(0, 0)), math.Sqrt(gs.At(1, 1)), math.Sqrt(gs.At(2, 2))}
}

// LengthSq returns the squared length in Å² of a vector in fractional coordinates.
func (uc UnitCell) LengthSq(frac [3]float64) float64 {
	v := mat.NewVecDense(3, frac[:])
	return mat.Inner(v, uc.MetricalMatrix(), v)
}

// Metric caches G for hot loops that call LengthSq many times.
type Metric [6]float64

// Metric returns the six independent metric elements aa, bb, cc, ab, ac, bc.
func (uc UnitCell) Metric() Metric {
	g := uc.MetricalMatrix()
	return Metric{g.At(0, 0), g.At(1, 1), g.At(2, 2), g.At(0, 1), g.At(0, 2), g.At(1, 2)}
}

// LengthSq is the inlined equivalent of UnitCell.LengthSq.
func (m Metric) LengthSq(x, y, z float64) float64 {
	return m[0]*x*x + m[1]*y*y + m[2]*z*z + 2*(m[3]*x*y+m[4]*x*z+m[5]*y*z)
}

// InvDSpacingSq returns 1/d² for a Miller index.
func (uc UnitCell) InvDSpacingSq(h models.Index) float64 {
	v := mat.NewVecDense(3, []float64{float64(h[0]), float64(h[1]), float64(h[2])})
	return mat.Inner(v, uc.reciprocalMetric(), v)
}

// DSpacings returns d in Å for every index. The origin maps to +Inf.
func (uc UnitCell) DSpacings(indices []models.Index) []float64 {
	gs := uc.reciprocalMetric()
	d := make([]float64, len(indices))
	v := mat.NewVecDense(3, nil)
	for i, h := range indices {
		v.SetVec(0, float64(h[0]))
		v.SetVec(1, float64(h[1]))
		v.SetVec(2, float64(h[2]))
		s2 := mat.Inner(v, gs, v)
		if s2 <= 0 {
			d[i] = math.Inf(1)
			continue
		}
		d[i] = 1 / math.Sqrt(s2)
	}
	return d
}

// DSpacing returns d in Å for a single index.
func (uc UnitCell) DSpacing(h models.Index) float64 {
	s2 := uc.InvDSpacingSq(h)
	if s2 <= 0 {
		return math.Inf(1)
	}
	return 1 / math.Sqrt(s2)
}
