// Package refinement fits per-bin mosaic bulk-solvent coefficients over
// several macro-cycles and assembles the resulting model.
package refinement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/metrics"
	"mosaicsolvent/pkg/scaling"
	"mosaicsolvent/pkg/solver"
)

var tracer = otel.Tracer("mosaicsolvent.refinement")

// ErrShapeMismatch reports inputs that are not aligned with the reflection
// set. It wraps solver.ErrShapeMismatch.
var ErrShapeMismatch = fmt.Errorf("refinement input: %w", solver.ErrShapeMismatch)

// Params holds the refinement parameters.
type Params struct {
	// MacroCycles is the number of solve, assemble and rescale rounds.
	MacroCycles int

	// MinBinResolution skips every bin whose high-resolution limit is below
	// this value in Å. The mosaic model only describes low-resolution data.
	MinBinResolution float64

	// PruneThreshold drops a region at the end of a cycle when its
	// coefficient in the first solved bin is below this value.
	PruneThreshold float64

	// NumCores bounds the number of bins solved at the same time.
	NumCores int

	// Algorithm selects the coefficient solver.
	Algorithm solver.Algorithm

	// Solver holds the settings of every solver.
	Solver solver.Options
}

// DefaultParams returns the reference refinement settings.
func DefaultParams() Params {
	return Params{
		MacroCycles:      3,
		MinBinResolution: 3.0,
		PruneThreshold:   0.1,
		NumCores:         runtime.NumCPU(),
		Algorithm:        solver.AlgAlternating,
		Solver:           solver.DefaultOptions(),
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.MacroCycles < 1 {
		return fmt.Errorf("need at least one macro-cycle, got %d", p.MacroCycles)
	}
	if p.MinBinResolution < 0 {
		return fmt.Errorf("minimum bin resolution must be non-negative, got %g", p.MinBinResolution)
	}
	if p.PruneThreshold < 0 {
		return fmt.Errorf("prune threshold must be non-negative, got %g", p.PruneThreshold)
	}
	if p.NumCores < 1 {
		return fmt.Errorf("need at least one core, got %d", p.NumCores)
	}
	return nil
}

// Bin is one resolution shell.
type Bin struct {
	Selection  models.BinSelection
	DMax, DMin float64
}

// Input is the data of one refinement run. Every array is aligned with the
// reflection set.
type Input struct {
	// FObs holds observed amplitudes.
	FObs []float64

	// FCalc is the macromolecule structure factor, the reference term.
	FCalc []complex128

	// Regions are the contributors, each carrying StructureFactors.
	Regions []models.Region

	// Bins are disjoint resolution shells.
	Bins []Bin

	// FMask is the bulk-solvent term used for the starting scale. Nil starts
	// from the macromolecule term alone.
	FMask []complex128
}

// BinStatus is the outcome of one bin solve.
type BinStatus string

const (
	StatusSolved       BinStatus = "solved"
	StatusSkipped      BinStatus = "skipped"
	StatusFallback     BinStatus = "fallback"
	StatusNotConverged BinStatus = "nonconverged"
)

// BinResult records one bin of one cycle.
type BinResult struct {
	Bin        int
	DMax, DMin float64
	Status     BinStatus

	// Coefficients is nil for skipped bins.
	Coefficients models.CoefficientVector

	// Regions lists the region ids matching Coefficients[1:].
	Regions []int

	Iterations int
	Clamped    bool

	// Err is the solver error behind a fallback.
	Err error
}

// CycleResult records one macro-cycle.
type CycleResult struct {
	Cycle  int
	Bins   []BinResult
	Scale  scaling.Scale
	Pruned []int
}

// Result is the outcome of a refinement run.
type Result struct {
	Cycles []CycleResult

	// Bins is the coefficient table of the final cycle.
	Bins []BinResult

	// FCalc is the macromolecule term scaled per bin.
	FCalc []complex128

	// FBulk is the sum of region terms scaled per bin.
	FBulk []complex128

	// FModel is FCalc + FBulk.
	FModel []complex128

	// Scale is the global scale after the final cycle.
	Scale scaling.Scale

	// MapCoefficients are (Fo/k − |Fmodel|)·exp(iφmodel).
	MapCoefficients []complex128

	// Retained lists the ids of the regions left after pruning.
	Retained []int
}

// Refiner runs the binned refinement.
type Refiner struct {
	params  Params
	solver  solver.Solver
	scaler  scaling.Scaler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRefiner creates a refiner. A nil logger uses slog.Default(); a nil
// metrics records nothing.
func NewRefiner(params Params, scaler scaling.Scaler, logger *slog.Logger, m *metrics.Metrics) (*Refiner, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid refinement parameters: %w", err)
	}
	if scaler == nil {
		return nil, errors.New("refinement needs a scaler")
	}
	s, err := solver.New(params.Algorithm, params.Solver)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refiner{params: params, solver: s, scaler: scaler, logger: logger, metrics: m}, nil
}

func validateInput(in *Input) error {
	n := len(in.FObs)
	if n == 0 {
		return fmt.Errorf("%w: no observations", ErrShapeMismatch)
	}
	if len(in.FCalc) != n {
		return fmt.Errorf("%w: %d calculated structure factors for %d observations", ErrShapeMismatch, len(in.FCalc), n)
	}
	if in.FMask != nil && len(in.FMask) != n {
		return fmt.Errorf("%w: bulk mask has %d reflections, expected %d", ErrShapeMismatch, len(in.FMask), n)
	}
	for _, r := range in.Regions {
		if len(r.StructureFactors) != n {
			return fmt.Errorf("%w: region %d has %d structure factors, expected %d", ErrShapeMismatch, r.ID, len(r.StructureFactors), n)
		}
	}
	owner := make([]int, n)
	for b, bin := range in.Bins {
		if len(bin.Selection) != n {
			return fmt.Errorf("%w: bin %d selects over %d reflections, expected %d", ErrShapeMismatch, b, len(bin.Selection), n)
		}
		for i, s := range bin.Selection {
			if !s {
				continue
			}
			if owner[i] != 0 {
				return fmt.Errorf("%w: reflection %d is in bins %d and %d", ErrShapeMismatch, i, owner[i]-1, b)
			}
			owner[i] = b + 1
		}
	}
	for i, f := range in.FObs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: observation %d is %g", solver.ErrNumeric, i, f)
		}
		if f < 0 {
			return fmt.Errorf("observation %d is negative (%g)", i, f)
		}
	}
	for i, f := range in.FCalc {
		if cmplx.IsNaN(f) || cmplx.IsInf(f) {
			return fmt.Errorf("%w: calculated structure factor %d is %v", solver.ErrNumeric, i, f)
		}
	}
	return nil
}

// Process runs MacroCycles rounds of per-bin solving. Each round rescales the
// observations by the current global scale, solves every bin, rebuilds the
// macromolecule and bulk terms, prunes negligible regions and updates the
// scale. Map coefficients are computed once from the final model.
func (r *Refiner) Process(ctx context.Context, in *Input) (*Result, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "refinement.Process",
		trace.WithAttributes(
			attribute.String("algorithm", string(r.params.Algorithm)),
			attribute.Int("n_regions", len(in.Regions)),
			attribute.Int("n_bins", len(in.Bins)),
		),
	)
	defer span.End()

	n := len(in.FObs)
	active := make([]int, len(in.Regions))
	for i := range active {
		active[i] = i
	}
	r.metrics.SetRetained(len(active))
	if len(active) == 0 {
		r.logger.Info("no contributor regions; fitting the macromolecule term alone")
	}

	fmask := in.FMask
	if fmask == nil {
		fmask = make([]complex128, n)
	}
	scale := r.updateScale(scaling.Unit(n), in.FObs, in.FCalc, fmask)

	res := &Result{}
	var fcalc, fbulk []complex128
	for cycle := 1; cycle <= r.params.MacroCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			return nil, err
		}
		r.logger.Info("refinement cycle", "cycle", cycle, "regions", r.regionIDs(in, active))

		fo := make([]float64, n)
		for i := range fo {
			fo[i] = in.FObs[i] / scale.PerReflection[i]
		}
		bins, err := r.solveBins(ctx, cycle, fo, in, active)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		fcalc, fbulk = assemble(in, active, bins)
		var pruned []int
		active, pruned = r.prune(in, active, bins)
		scale = r.updateScale(scale, in.FObs, fcalc, fbulk)

		res.Cycles = append(res.Cycles, CycleResult{Cycle: cycle, Bins: bins, Scale: scale, Pruned: pruned})
	}

	res.Bins = res.Cycles[len(res.Cycles)-1].Bins
	res.FCalc, res.FBulk = fcalc, fbulk
	res.FModel = make([]complex128, n)
	res.MapCoefficients = make([]complex128, n)
	for i := range res.FModel {
		fm := fcalc[i] + fbulk[i]
		res.FModel[i] = fm
		a := cmplx.Abs(fm)
		if a == 0 {
			continue
		}
		diff := in.FObs[i]/scale.PerReflection[i] - a
		res.MapCoefficients[i] = complex(diff/a, 0) * fm
	}
	res.Scale = scale
	res.Retained = r.regionIDs(in, active)
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// updateScale returns the new scale, or prev when the update fails.
func (r *Refiner) updateScale(prev scaling.Scale, fobs []float64, fcalc, fbulk []complex128) scaling.Scale {
	s, err := r.scaler.Update(fobs, fcalc, fbulk)
	if err != nil {
		r.logger.Warn("scale update failed; keeping previous scale", "error", err)
		return prev
	}
	r.logger.Debug("scale updated", "k", s.K, "b", s.B)
	return s
}

func (r *Refiner) regionIDs(in *Input, active []int) []int {
	ids := make([]int, len(active))
	for i, a := range active {
		ids[i] = in.Regions[a].ID
	}
	return ids
}

// solveBins solves every bin, at most NumCores at a time. Each bin writes
// only its own slot.
func (r *Refiner) solveBins(ctx context.Context, cycle int, fo []float64, in *Input, active []int) ([]BinResult, error) {
	ctx, span := tracer.Start(ctx, "refinement.cycle",
		trace.WithAttributes(attribute.Int("cycle", cycle)))
	defer span.End()

	out := make([]BinResult, len(in.Bins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.params.NumCores)
	for b := range in.Bins {
		g.Go(func() error {
			res, err := r.solveBin(gctx, cycle, b, fo, in, active)
			if err != nil {
				return err
			}
			out[b] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (r *Refiner) solveBin(ctx context.Context, cycle, b int, fo []float64, in *Input, active []int) (BinResult, error) {
	if err := ctx.Err(); err != nil {
		return BinResult{}, err
	}
	bin := in.Bins[b]
	res := BinResult{Bin: b, DMax: bin.DMax, DMin: bin.DMin, Regions: r.regionIDs(in, active)}
	alg := string(r.params.Algorithm)
	idx := bin.Selection.Indices()

	if len(idx) == 0 || bin.DMin < r.params.MinBinResolution {
		res.Status = StatusSkipped
		r.metrics.RecordBin(alg, metrics.OutcomeSkipped, 0)
		r.logger.Debug("bin skipped", "cycle", cycle, "bin", b, "d_min", bin.DMin, "reflections", len(idx))
		return res, nil
	}

	_, span := tracer.Start(ctx, "refinement.bin",
		trace.WithAttributes(
			attribute.Int("cycle", cycle),
			attribute.Int("bin", b),
			attribute.String("algorithm", alg),
			attribute.Int("n_regions", len(active)),
		),
	)
	defer span.End()

	p := solver.Problem{
		Reference:    make([]complex128, len(idx)),
		Contributors: make([][]complex128, len(active)),
		FObs:         make([]float64, len(idx)),
	}
	for k, i := range idx {
		p.Reference[k] = in.FCalc[i]
		p.FObs[k] = fo[i]
	}
	for j, a := range active {
		sf := in.Regions[a].StructureFactors
		p.Contributors[j] = make([]complex128, len(idx))
		for k, i := range idx {
			p.Contributors[j][k] = sf[i]
		}
	}
	if r.params.Algorithm == solver.AlgNonlinear {
		p.Initial = initialGuess(b, len(in.Bins), len(active))
	}

	sol, err := r.solver.Solve(p)
	switch {
	case errors.Is(err, solver.ErrSingular), errors.Is(err, solver.ErrNonPositiveProduct),
		errors.Is(err, solver.ErrNumeric):
		outcome := metrics.OutcomeFallback
		if errors.Is(err, solver.ErrSingular) {
			outcome = metrics.OutcomeSingular
		}
		r.metrics.RecordBin(alg, outcome, 0)
		r.logger.Warn("bin solve failed; using the macromolecule term alone",
			"cycle", cycle, "bin", b, "d_max", bin.DMax, "d_min", bin.DMin, "error", err)
		span.RecordError(err)
		res.Status = StatusFallback
		res.Coefficients = models.ReferenceOnly(len(active))
		res.Err = err
		return res, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BinResult{}, fmt.Errorf("bin %d: %w", b, err)
	}

	res.Coefficients = sol.Coefficients
	res.Iterations = sol.Iterations
	res.Clamped = sol.Clamped
	res.Status = StatusSolved
	if !sol.Converged {
		res.Status = StatusNotConverged
		r.metrics.RecordBin(alg, metrics.OutcomeNotConverged, sol.Iterations)
		r.logger.Warn("bin solve hit the iteration limit; using the last iterate",
			"cycle", cycle, "bin", b, "d_max", bin.DMax, "d_min", bin.DMin, "iterations", sol.Iterations)
	} else {
		r.metrics.RecordBin(alg, metrics.OutcomeSolved, sol.Iterations)
	}
	if sol.Clamped {
		r.logger.Debug("negative coefficients clamped to zero", "cycle", cycle, "bin", b)
	}
	r.logger.Info("bin solved",
		"cycle", cycle, "bin", b, "d_max", bin.DMax, "d_min", bin.DMin,
		"coefficients", []float64(sol.Coefficients))
	return res, nil
}

// initialGuess is the nonlinear starting point: the first region starts at
// 0.35 in the lowest-resolution bin and falls linearly with bin index; other
// regions start at 0.1.
func initialGuess(bin, nBins, nRegions int) models.CoefficientVector {
	x := make(models.CoefficientVector, nRegions+1)
	x[0] = 1
	for j := 1; j <= nRegions; j++ {
		x[j] = 0.1
	}
	if nRegions > 0 {
		x[1] = 0.35 - float64(bin)*0.35/float64(nBins)
	}
	return x
}

// assemble scales the macromolecule term and sums the region terms bin by
// bin. Reflections of skipped bins keep the unscaled macromolecule term and
// no bulk contribution.
func assemble(in *Input, active []int, bins []BinResult) (fcalc, fbulk []complex128) {
	fcalc = append([]complex128(nil), in.FCalc...)
	fbulk = make([]complex128, len(in.FCalc))
	for b, res := range bins {
		if res.Coefficients == nil {
			continue
		}
		for _, i := range in.Bins[b].Selection.Indices() {
			fcalc[i] = complex(res.Coefficients[0], 0) * in.FCalc[i]
			var sum complex128
			for j, a := range active {
				sum += complex(res.Coefficients[j+1], 0) * in.Regions[a].StructureFactors[i]
			}
			fbulk[i] = sum
		}
	}
	return fcalc, fbulk
}

// prune drops regions whose coefficient in the first solved bin is below
// the threshold. Without a solved bin nothing is dropped.
func (r *Refiner) prune(in *Input, active []int, bins []BinResult) (kept, pruned []int) {
	var first *BinResult
	for i := range bins {
		if bins[i].Status == StatusSolved || bins[i].Status == StatusNotConverged {
			first = &bins[i]
			break
		}
	}
	if first == nil {
		return active, nil
	}
	for j, a := range active {
		if first.Coefficients[j+1] < r.params.PruneThreshold {
			pruned = append(pruned, in.Regions[a].ID)
			continue
		}
		kept = append(kept, a)
	}
	if len(pruned) > 0 {
		r.logger.Info("pruned regions with negligible coefficients",
			"regions", pruned, "bin", first.Bin, "threshold", r.params.PruneThreshold)
		r.metrics.RecordPruned(len(pruned))
		r.metrics.SetRetained(len(kept))
	}
	if kept == nil {
		kept = []int{}
	}
	return kept, pruned
}
