package regions

import (
	"log/slog"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mosaicsolvent/internal/models"
)

// Stats summarises a difference map inside one region.
type Stats struct {
	ID                 int
	Min, Max, Mean, SD float64
}

// Screen keeps only regions with positive mean difference density. diffMap
// should be sigma-scaled and sampled on the label grid. Rejected regions are
// logged.
func Screen(regs []models.Region, diffMap []float64, logger *slog.Logger) ([]models.Region, []Stats) {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]models.Region, 0, len(regs))
	stats := make([]Stats, 0, len(regs))
	for _, r := range regs {
		if len(r.Voxels) == 0 {
			continue
		}
		blob := make([]float64, len(r.Voxels))
		for i, idx := range r.Voxels {
			blob[i] = diffMap[idx]
		}
		mean, sd := stat.MeanStdDev(blob, nil)
		s := Stats{ID: r.ID, Min: floats.Min(blob), Max: floats.Max(blob), Mean: mean, SD: sd}
		stats = append(stats, s)
		if mean <= 0 {
			logger.Info("region rejected by difference map", "id", r.ID, "volume", r.Volume, "mean", mean)
			continue
		}
		kept = append(kept, r)
	}
	return kept, stats
}
