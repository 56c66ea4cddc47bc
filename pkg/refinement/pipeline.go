package refinement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/cmplx"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
	"mosaicsolvent/pkg/fourier"
	"mosaicsolvent/pkg/metrics"
	"mosaicsolvent/pkg/reflections"
	"mosaicsolvent/pkg/regions"
	"mosaicsolvent/pkg/scaling"
	"mosaicsolvent/pkg/solver"
	"mosaicsolvent/pkg/visualization"
)

// PipelineParams configures a full run from indicator volume to refined
// coefficients.
type PipelineParams struct {
	// Decomposition configures region labelling. A zero VoxelVolume is
	// derived from the cell volume and the grid.
	Decomposition regions.Params

	// BaseMaskFraction is the cell percentage above which a region joins the
	// largest region in the single bulk-solvent mask.
	BaseMaskFraction float64

	// ScreenByDiffMap drops small regions whose mean difference density is
	// not positive.
	ScreenByDiffMap bool

	// NumBins is the number of equal-count resolution bins.
	NumBins int

	// WriteMasks writes the indicator volume and every retained region as a
	// CCP4 map into OutputDir.
	WriteMasks bool
	OutputDir  string

	Refinement Params
}

// DefaultPipelineParams returns the reference pipeline settings.
func DefaultPipelineParams() PipelineParams {
	d := regions.DefaultParams(0)
	return PipelineParams{
		Decomposition:    d,
		BaseMaskFraction: 5,
		NumBins:          10,
		OutputDir:        ".",
		Refinement:       DefaultParams(),
	}
}

// PipelineInput is the data of one pipeline run.
type PipelineInput struct {
	Cell      crystal.UnitCell
	Group     *crystal.SpaceGroup
	Indicator *models.IndicatorVolume

	// Indices, FObs and FCalc are aligned.
	Indices []models.Index
	FObs    []float64
	FCalc   []complex128
}

// PipelineResult collects every stage of a pipeline run.
type PipelineResult struct {
	Decomposition *regions.Decomposition

	// Contributors are the regions handed to refinement, with structure
	// factors.
	Contributors []models.Region

	// Screening holds difference-map statistics when screening ran.
	Screening []regions.Stats

	// BaseMask is the single-mask bulk-solvent term.
	BaseMask []complex128

	Bins       []Bin
	Refinement *Result
}

// Pipeline runs decomposition, structure-factor extraction, optional
// difference-map screening and binned refinement in that order.
type Pipeline struct {
	params  PipelineParams
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPipeline validates params and returns a pipeline.
func NewPipeline(params PipelineParams, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if params.NumBins < 1 {
		return nil, fmt.Errorf("need at least one resolution bin, got %d", params.NumBins)
	}
	if params.BaseMaskFraction < 0 {
		return nil, fmt.Errorf("base mask fraction must be non-negative, got %g", params.BaseMaskFraction)
	}
	if err := params.Refinement.Validate(); err != nil {
		return nil, fmt.Errorf("invalid refinement parameters: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{params: params, logger: logger, metrics: m}, nil
}

func (in *PipelineInput) validate() error {
	if in.Indicator == nil || in.Group == nil {
		return errors.New("pipeline needs an indicator volume and a space group")
	}
	if err := in.Cell.Validate(); err != nil {
		return err
	}
	n := len(in.Indices)
	if len(in.FObs) != n || len(in.FCalc) != n {
		return fmt.Errorf("%w: %d indices, %d observations, %d calculated", ErrShapeMismatch, n, len(in.FObs), len(in.FCalc))
	}
	return nil
}

// Run executes the pipeline.
func (p *Pipeline) Run(ctx context.Context, in *PipelineInput) (*PipelineResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "refinement.Pipeline",
		trace.WithAttributes(
			attribute.String("space_group", in.Group.Name),
			attribute.Int("reflections", len(in.Indices)),
		),
	)
	defer span.End()

	g := in.Indicator.Grid
	dp := p.params.Decomposition
	if dp.VoxelVolume == 0 {
		dp.VoxelVolume = in.Cell.Volume() / float64(g.Size())
	}
	dec, err := regions.NewDecomposer(dp, p.logger)
	if err != nil {
		return nil, err
	}
	decomposition, err := dec.Decompose(in.Indicator, in.Group)
	if err != nil {
		return nil, fmt.Errorf("decomposition failed: %w", err)
	}
	res := &PipelineResult{Decomposition: decomposition}

	tr, err := fourier.NewTransform(g, in.Cell.Volume())
	if err != nil {
		return nil, err
	}
	asu, err := crystal.NewAsymmetricUnit(in.Group, g)
	if err != nil {
		return nil, err
	}
	contributors := append([]models.Region(nil), decomposition.Retained...)
	if err := regions.NewBuilder(asu, tr).BuildAll(contributors, in.Indices); err != nil {
		return nil, fmt.Errorf("region structure factors: %w", err)
	}
	res.BaseMask = regions.BaseMask(contributors, p.params.BaseMaskFraction, len(in.Indices))

	if p.params.WriteMasks {
		if err := p.writeMasks(in, contributors); err != nil {
			return nil, err
		}
	}

	scaler := scaling.NewIsotropic(invDSpacingSq(in.Cell, in.Indices))
	if p.params.ScreenByDiffMap && len(contributors) > 0 {
		contributors, res.Screening, err = p.screen(in, tr, scaler, contributors, res.BaseMask)
		if err != nil {
			return nil, err
		}
	}
	res.Contributors = contributors
	if len(contributors) < 2 {
		p.logger.Info("fewer than two regions; the mosaic model reduces to a flat bulk-solvent model",
			"regions", len(contributors))
	}

	res.Bins, err = p.bins(in)
	if err != nil {
		return nil, err
	}

	refiner, err := NewRefiner(p.params.Refinement, scaler, p.logger, p.metrics)
	if err != nil {
		return nil, err
	}
	res.Refinement, err = refiner.Process(ctx, &Input{
		FObs:    in.FObs,
		FCalc:   in.FCalc,
		Regions: contributors,
		Bins:    res.Bins,
		FMask:   res.BaseMask,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func invDSpacingSq(cell crystal.UnitCell, indices []models.Index) []float64 {
	out := make([]float64, len(indices))
	for i, h := range indices {
		out[i] = cell.InvDSpacingSq(h)
	}
	return out
}

func (p *Pipeline) bins(in *PipelineInput) ([]Bin, error) {
	sels, err := reflections.EqualCountBins(in.Cell, in.Indices, p.params.NumBins)
	if err != nil {
		return nil, fmt.Errorf("binning failed: %w", err)
	}
	out := make([]Bin, len(sels))
	for i, sel := range sels {
		dMax, dMin, err := reflections.ResolutionRange(in.Cell, in.Indices, sel)
		if err != nil {
			return nil, fmt.Errorf("bin %d: %w", i, err)
		}
		out[i] = Bin{Selection: sel, DMax: dMax, DMin: dMin}
	}
	return out, nil
}

// screen computes a sigma-scaled difference map against the macromolecule
// plus the flat bulk-solvent model and drops small regions without positive
// mean density. Regions that form the base mask are never screened.
func (p *Pipeline) screen(in *PipelineInput, tr *fourier.Transform, scaler scaling.Scaler,
	contributors []models.Region, base []complex128) ([]models.Region, []regions.Stats, error) {
	flat, err := solver.New(solver.AlgGridSearch, p.params.Refinement.Solver)
	if err != nil {
		return nil, nil, err
	}
	fit, err := flat.Solve(solver.Problem{Reference: in.FCalc, Contributors: [][]complex128{base}, FObs: in.FObs})
	if err != nil {
		return nil, nil, fmt.Errorf("flat bulk-solvent fit: %w", err)
	}
	kmask := complex(fit.Coefficients[1], 0)
	fbulk := make([]complex128, len(base))
	for i := range base {
		fbulk[i] = kmask * base[i]
	}
	scale, err := scaler.Update(in.FObs, in.FCalc, fbulk)
	if err != nil {
		return nil, nil, fmt.Errorf("difference map scale: %w", err)
	}

	coeffs := make([]complex128, len(in.FObs))
	for i := range coeffs {
		fm := in.FCalc[i] + fbulk[i]
		a := cmplx.Abs(fm)
		if a == 0 {
			continue
		}
		coeffs[i] = complex((in.FObs[i]/scale.PerReflection[i]-a)/a, 0) * fm
	}
	diff, err := tr.Map(coeffs, in.Indices)
	if err != nil {
		return nil, nil, fmt.Errorf("difference map: %w", err)
	}
	diff = fourier.SigmaScale(diff)

	var kept, candidates []models.Region
	for i, r := range contributors {
		if i == 0 || r.UCFraction > p.params.BaseMaskFraction {
			kept = append(kept, r)
			continue
		}
		candidates = append(candidates, r)
	}
	passed, stats := regions.Screen(candidates, diff, p.logger)
	kept = append(kept, passed...)
	return kept, stats, nil
}

func (p *Pipeline) writeMasks(in *PipelineInput, contributors []models.Region) error {
	if err := os.MkdirAll(p.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	g := in.Indicator.Grid
	whole := &visualization.Map{
		Grid: g, Cell: in.Cell, SpaceGroupNumber: in.Group.Number,
		Data: in.Indicator.Data, Label: "solvent mask",
	}
	if err := visualization.WriteCCP4(filepath.Join(p.params.OutputDir, "mask_whole.ccp4"), whole); err != nil {
		return err
	}
	for _, r := range contributors {
		m := &visualization.Map{
			Grid: g, Cell: in.Cell, SpaceGroupNumber: in.Group.Number,
			Data: r.Indicator(g), Label: fmt.Sprintf("region %d volume %.3f", r.ID, r.Volume),
		}
		name := fmt.Sprintf("mask_%d.ccp4", r.ID)
		if err := visualization.WriteCCP4(filepath.Join(p.params.OutputDir, name), m); err != nil {
			return err
		}
		p.logger.Debug("wrote region mask", "id", r.ID, "file", name)
	}
	return nil
}
