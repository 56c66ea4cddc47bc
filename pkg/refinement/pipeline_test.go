package refinement

import (
	"context"
	"math"
	"math/cmplx"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
	"mosaicsolvent/pkg/fourier"
)

func sphere(g models.Grid, cx, cy, cz, r int) []float64 {
	data := make([]float64, g.Size())
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if dx*dx+dy*dy+dz*dz <= r*r {
					data[g.Wrap(cx+dx, cy+dy, cz+dz)] = 1
				}
			}
		}
	}
	return data
}

// halfSphere lists indices up to |h| ≤ n, one of each Friedel pair.
func halfSphere(n int) []models.Index {
	var out []models.Index
	for l := 0; l <= n; l++ {
		for k := -n; k <= n; k++ {
			for h := -n; h <= n; h++ {
				if l == 0 && (k < 0 || (k == 0 && h <= 0)) {
					continue
				}
				out = append(out, models.Index{h, k, l})
			}
		}
	}
	return out
}

type pipelineFixture struct {
	input *PipelineInput
	large []float64
	small []float64
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	g, err := models.NewGrid(16, 16, 16)
	require.NoError(t, err)
	cell, err := crystal.NewUnitCell(32, 32, 32, 90, 90, 90)
	require.NoError(t, err)
	sg, err := crystal.Lookup("P1")
	require.NoError(t, err)

	large := sphere(g, 4, 4, 4, 3)
	small := sphere(g, 12, 12, 10, 2)
	vol := models.NewIndicatorVolume(g)
	for i := range vol.Data {
		vol.Data[i] = large[i] + small[i]
	}

	indices := halfSphere(3)
	tr, err := fourier.NewTransform(g, cell.Volume())
	require.NoError(t, err)
	fl, err := tr.StructureFactors(large, indices)
	require.NoError(t, err)
	fs, err := tr.StructureFactors(small, indices)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	fcalc := make([]complex128, len(indices))
	fobs := make([]float64, len(indices))
	for i := range fcalc {
		fcalc[i] = cmplx.Rect(200+400*rng.Float64(), 2*math.Pi*rng.Float64())
		fobs[i] = cmplx.Abs(fcalc[i] + 0.3*fl[i] + 0.2*fs[i])
	}
	return &pipelineFixture{
		input: &PipelineInput{
			Cell: cell, Group: sg, Indicator: vol,
			Indices: indices, FObs: fobs, FCalc: fcalc,
		},
		large: large,
		small: small,
	}
}

func testPipelineParams(t *testing.T) PipelineParams {
	p := DefaultPipelineParams()
	p.NumBins = 2
	p.OutputDir = t.TempDir()
	return p
}

func TestPipelineRun(t *testing.T) {
	fx := newPipelineFixture(t)
	params := testPipelineParams(t)
	params.WriteMasks = true
	pl, err := NewPipeline(params, nil, nil)
	require.NoError(t, err)

	res, err := pl.Run(context.Background(), fx.input)
	require.NoError(t, err)

	require.Len(t, res.Decomposition.Retained, 2)
	require.Len(t, res.Contributors, 2)
	assert.Greater(t, res.Contributors[0].VoxelCount, res.Contributors[1].VoxelCount)
	for _, r := range res.Contributors {
		assert.Len(t, r.StructureFactors, len(fx.input.Indices))
	}
	assert.InDelta(t, 32.0*32*32/4096, res.Contributors[0].Volume/float64(res.Contributors[0].VoxelCount), 1e-9)
	assert.Equal(t, res.Contributors[0].StructureFactors, res.BaseMask)
	assert.Nil(t, res.Screening)
	require.Len(t, res.Bins, 2)

	ref := res.Refinement
	require.NotNil(t, ref)
	rnum, rden := 0.0, 0.0
	for i, f := range fx.input.FObs {
		rnum += math.Abs(f - ref.Scale.PerReflection[i]*cmplx.Abs(ref.FModel[i]))
		rden += f
	}
	assert.Less(t, rnum/rden, 0.1)

	for _, name := range []string{"mask_whole.ccp4", "mask_1.ccp4", "mask_2.ccp4"} {
		_, err := os.Stat(filepath.Join(params.OutputDir, name))
		assert.NoError(t, err, name)
	}
}

func TestPipelineScreening(t *testing.T) {
	fx := newPipelineFixture(t)
	params := testPipelineParams(t)
	params.ScreenByDiffMap = true
	pl, err := NewPipeline(params, nil, nil)
	require.NoError(t, err)

	res, err := pl.Run(context.Background(), fx.input)
	require.NoError(t, err)

	// Only the small region is a screening candidate.
	require.Len(t, res.Screening, 1)
	s := res.Screening[0]
	assert.LessOrEqual(t, s.Min, s.Mean)
	assert.GreaterOrEqual(t, s.Max, s.Mean)
	want := 1
	if s.Mean > 0 {
		want = 2
	}
	assert.Len(t, res.Contributors, want)
}

func TestPipelineWithoutSolvent(t *testing.T) {
	fx := newPipelineFixture(t)
	for i := range fx.input.Indicator.Data {
		fx.input.Indicator.Data[i] = 0
	}
	pl, err := NewPipeline(testPipelineParams(t), nil, nil)
	require.NoError(t, err)

	res, err := pl.Run(context.Background(), fx.input)
	require.NoError(t, err)
	assert.Empty(t, res.Contributors)
	assert.Empty(t, res.Refinement.Retained)
	for _, b := range res.Refinement.Bins {
		assert.Len(t, b.Coefficients, 1)
	}
}

func TestPipelineRejectsMisalignedInput(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.input.FObs = fx.input.FObs[1:]
	pl, err := NewPipeline(testPipelineParams(t), nil, nil)
	require.NoError(t, err)
	_, err = pl.Run(context.Background(), fx.input)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	p := testPipelineParams(t)
	p.NumBins = 0
	_, err = NewPipeline(p, nil, nil)
	assert.Error(t, err)
}
