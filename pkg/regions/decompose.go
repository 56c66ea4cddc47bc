package regions

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
)

// Params configures region decomposition.
type Params struct {
	// Threshold separates solvent (above) from macromolecule (at or below).
	Threshold float64

	// Connectivity is the labelling neighbourhood.
	Connectivity Connectivity

	// VolumeCutoff drops regions smaller than this many Å³. Nil keeps all.
	VolumeCutoff *float64

	// VoxelVolume is the volume of one grid point in Å³.
	VoxelVolume float64
}

// DefaultParams returns the decomposition defaults for a given voxel volume.
func DefaultParams(voxelVolume float64) Params {
	return Params{
		Threshold:    0.01,
		Connectivity: Corners,
		VoxelVolume:  voxelVolume,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if _, err := p.Connectivity.offsets(); err != nil {
		return err
	}
	if p.VoxelVolume <= 0 {
		return fmt.Errorf("voxel volume must be positive, got %g", p.VoxelVolume)
	}
	if p.VolumeCutoff != nil && *p.VolumeCutoff < 0 {
		return fmt.Errorf("volume cutoff must be non-negative, got %g", *p.VolumeCutoff)
	}
	return nil
}

// Decomposition is the outcome of one decomposition run.
type Decomposition struct {
	// Labels holds the symmetry-merged region id of every grid point.
	Labels *models.LabelVolume

	// Ranked lists every region, the macromolecule included, by voxel
	// count descending.
	Ranked []models.Region

	// Retained lists the contributor regions in ranked order.
	Retained []models.Region

	// Merges counts symmetry merges.
	Merges int
}

// Mosaic reports whether more than one region survived; with a single
// region the mosaic model reduces to a conventional flat bulk-solvent model.
func (d *Decomposition) Mosaic() bool {
	return len(d.Retained) > 1
}

// Decomposer runs labelling, symmetry merging, ranking and selection.
type Decomposer struct {
	params Params
	logger *slog.Logger
}

// NewDecomposer validates p and returns a decomposer. A nil logger uses
// slog.Default().
func NewDecomposer(p Params, logger *slog.Logger) (*Decomposer, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decomposition parameters: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Decomposer{params: p, logger: logger}, nil
}

// Decompose partitions vol into regions. Zero retained regions is a valid
// outcome and not an error.
func (d *Decomposer) Decompose(vol *models.IndicatorVolume, sg *crystal.SpaceGroup) (*Decomposition, error) {
	if vol == nil {
		return nil, errors.New("decompose: nil indicator volume")
	}
	labels, err := Label(vol, d.params.Threshold, d.params.Connectivity)
	if err != nil {
		return nil, fmt.Errorf("labelling failed: %w", err)
	}
	merges, err := MergeSymmetryRelated(labels, sg)
	if err != nil {
		return nil, fmt.Errorf("symmetry merge failed: %w", err)
	}

	ranked := d.rank(labels)
	dec := &Decomposition{Labels: labels, Ranked: ranked, Merges: merges}
	for _, r := range ranked {
		if r.Macromolecule {
			continue
		}
		if d.params.VolumeCutoff != nil && r.Volume < *d.params.VolumeCutoff {
			d.logger.Debug("region below volume cutoff", "id", r.ID, "volume", r.Volume, "cutoff", *d.params.VolumeCutoff)
			continue
		}
		dec.Retained = append(dec.Retained, r)
	}

	d.logger.Info("decomposition complete",
		"regions", len(ranked),
		"retained", len(dec.Retained),
		"symmetry_merges", merges,
		"space_group", sg.Name)
	if len(dec.Retained) == 0 {
		d.logger.Info("no solvent regions retained; only the macromolecule term will be fitted")
	}
	return dec, nil
}

// rank collects voxels per id and sorts regions by size, largest first, with
// ties broken by discovery order.
func (d *Decomposer) rank(labels *models.LabelVolume) []models.Region {
	counts := labels.Counts()
	slot := make([]int, len(counts))
	var regs []models.Region
	for id, n := range counts {
		if n == 0 {
			slot[id] = -1
			continue
		}
		slot[id] = len(regs)
		regs = append(regs, models.Region{
			ID:            id,
			VoxelCount:    n,
			Volume:        float64(n) * d.params.VoxelVolume,
			UCFraction:    100 * float64(n) / float64(len(labels.Labels)),
			Macromolecule: id == 0,
			Voxels:        make([]int, 0, n),
		})
	}
	for idx, id := range labels.Labels {
		s := slot[id]
		regs[s].Voxels = append(regs[s].Voxels, idx)
	}
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].VoxelCount > regs[j].VoxelCount
	})
	for i := range regs {
		regs[i].Rank = i
	}
	return regs
}
