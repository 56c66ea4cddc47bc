package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/config"
	"mosaicsolvent/pkg/crystal"
	"mosaicsolvent/pkg/mask"
	"mosaicsolvent/pkg/metrics"
	"mosaicsolvent/pkg/refinement"
	"mosaicsolvent/pkg/reflections"
	"mosaicsolvent/pkg/regions"
	"mosaicsolvent/pkg/visualization"
)

var (
	// mask
	atomsPath  string
	cellArg    string
	gridArg    string
	groupName  string
	maskOutput string

	// decompose
	mapPath   string
	slicesDir string

	// refine
	fobsPath    string
	fcalcPath   string
	fcalcLabel  string
	mapCoefOut  string
	metricsFile string

	rootCmd = &cobra.Command{
		Use:           "mosaicsolvent",
		Short:         "Mosaic bulk-solvent modelling for crystallographic structure factors",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == initConfigCmd.Name() {
				logger = newLogger(verbose)
				return nil
			}
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			logger = newLogger(verbose || cfg.Output.Verbose)
			return nil
		},
	}

	initConfigCmd = &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInitConfig,
	}

	maskCmd = &cobra.Command{
		Use:   "mask",
		Short: "Compute the solvent indicator map of an atom list and write it as CCP4",
		RunE:  runMask,
	}

	decomposeCmd = &cobra.Command{
		Use:   "decompose",
		Short: "Split a solvent indicator map into symmetry-merged regions",
		RunE:  runDecompose,
	}

	refineCmd = &cobra.Command{
		Use:   "refine",
		Short: "Fit per-region bulk-solvent scales against observed amplitudes",
		RunE:  runRefine,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mosaicsolvent.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&groupName, "space-group", "g", "P1", "space group symbol")

	maskCmd.Flags().StringVar(&atomsPath, "atoms", "", "atom table, one \"x y z radius\" row per atom in fractional coordinates")
	maskCmd.Flags().StringVar(&cellArg, "cell", "", "unit cell as a,b,c,alpha,beta,gamma")
	maskCmd.Flags().StringVar(&gridArg, "grid", "", "grid sampling as nx,ny,nz")
	maskCmd.Flags().StringVarP(&maskOutput, "output", "o", "mask.ccp4", "output CCP4 map")
	for _, name := range []string{"atoms", "cell", "grid"} {
		_ = maskCmd.MarkFlagRequired(name)
	}

	decomposeCmd.Flags().StringVarP(&mapPath, "map", "m", "", "solvent indicator map (CCP4)")
	decomposeCmd.Flags().StringVar(&slicesDir, "slices", "", "directory receiving label slices along every axis")
	_ = decomposeCmd.MarkFlagRequired("map")

	refineCmd.Flags().StringVarP(&mapPath, "map", "m", "", "solvent indicator map (CCP4)")
	refineCmd.Flags().StringVar(&fobsPath, "fobs", "", "observed amplitudes (CNS, FOBS/SIGMA)")
	refineCmd.Flags().StringVar(&fcalcPath, "fcalc", "", "calculated structure factors (CNS, amplitude and phase)")
	refineCmd.Flags().StringVar(&fcalcLabel, "fcalc-label", "FCALC", "label of the calculated structure factors")
	refineCmd.Flags().StringVar(&mapCoefOut, "map-coefficients", "", "write difference map coefficients (CNS)")
	refineCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write refinement metrics in Prometheus text format")
	for _, name := range []string{"map", "fobs", "fcalc"} {
		_ = refineCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(initConfigCmd, maskCmd, decomposeCmd, refineCmd)
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	logger.Info("wrote default configuration", "path", path)
	return nil
}

func runMask(cmd *cobra.Command, args []string) error {
	cell, err := parseCell(cellArg)
	if err != nil {
		return err
	}
	g, err := parseGrid(gridArg)
	if err != nil {
		return err
	}
	sg, err := crystal.Lookup(groupName)
	if err != nil {
		return err
	}
	f, err := os.Open(atomsPath)
	if err != nil {
		return fmt.Errorf("failed to open atoms: %w", err)
	}
	defer f.Close()
	atoms, err := mask.ReadAtoms(f)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := mask.Compute(cell, g, sg, atoms, cfg.MaskParams())
	if err != nil {
		return err
	}
	logger.Info("computed solvent mask",
		"atoms", len(atoms),
		"accessible", res.AccessibleFraction,
		"contact", res.ContactFraction,
		"elapsed", time.Since(start))

	return visualization.WriteCCP4(maskOutput, &visualization.Map{
		Grid: g, Cell: cell, SpaceGroupNumber: sg.Number,
		Data: res.Volume.Data, Label: "solvent mask",
	})
}

func runDecompose(cmd *cobra.Command, args []string) error {
	cell, sg, vol, err := loadIndicator(mapPath)
	if err != nil {
		return err
	}
	p := cfg.DecompositionParams()
	if p.VoxelVolume == 0 {
		p.VoxelVolume = cell.Volume() / float64(vol.Size())
	}
	d, err := regions.NewDecomposer(p, logger)
	if err != nil {
		return err
	}
	dec, err := d.Decompose(vol, sg)
	if err != nil {
		return err
	}
	for _, r := range dec.Retained {
		logger.Info("region",
			"id", r.ID,
			"rank", r.Rank,
			"voxels", r.VoxelCount,
			"volume", r.Volume,
			"ucFraction", r.UCFraction)
	}
	logger.Info("decomposition done",
		"regions", len(dec.Ranked),
		"retained", len(dec.Retained),
		"merges", dec.Merges,
		"mosaic", dec.Mosaic())

	if slicesDir == "" {
		return nil
	}
	viewer := visualization.NewViewer(dec.Labels)
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(slicesDir, axis)
		if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
			logger.Warn("failed to save slices", "axis", axis, "error", err)
			continue
		}
		logger.Debug("saved slices", "axis", axis, "dir", axisDir)
	}
	return nil
}

func runRefine(cmd *cobra.Command, args []string) error {
	cell, sg, vol, err := loadIndicator(mapPath)
	if err != nil {
		return err
	}
	obs, err := readObservations(fobsPath)
	if err != nil {
		return err
	}
	fcalc, err := readCalculated(fcalcPath, fcalcLabel, obs.Indices)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pipeline, err := refinement.NewPipeline(cfg.PipelineParams(), logger, m)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := pipeline.Run(cmd.Context(), &refinement.PipelineInput{
		Cell: cell, Group: sg, Indicator: vol,
		Indices: obs.Indices, FObs: obs.FObs, FCalc: fcalc,
	})
	if err != nil {
		return err
	}

	for _, b := range res.Refinement.Bins {
		logger.Info("bin",
			"bin", b.Bin,
			"dMax", b.DMax,
			"dMin", b.DMin,
			"status", b.Status,
			"regions", b.Regions,
			"coefficients", b.Coefficients)
	}
	logger.Info("refinement done",
		"contributors", len(res.Contributors),
		"retained", res.Refinement.Retained,
		"k", res.Refinement.Scale.K,
		"b", res.Refinement.Scale.B,
		"elapsed", time.Since(start))

	if mapCoefOut != "" {
		f, err := os.Create(mapCoefOut)
		if err != nil {
			return fmt.Errorf("failed to create map coefficients file: %w", err)
		}
		defer f.Close()
		if err := reflections.WriteCNSComplex(f, "FWT", obs.Indices, res.Refinement.MapCoefficients); err != nil {
			return err
		}
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// loadIndicator reads a CCP4 indicator map and resolves the space group from
// the flag.
func loadIndicator(path string) (crystal.UnitCell, *crystal.SpaceGroup, *models.IndicatorVolume, error) {
	m, err := visualization.ReadCCP4(path)
	if err != nil {
		return crystal.UnitCell{}, nil, nil, err
	}
	sg, err := crystal.Lookup(groupName)
	if err != nil {
		return crystal.UnitCell{}, nil, nil, err
	}
	if m.SpaceGroupNumber != 0 && m.SpaceGroupNumber != sg.Number {
		logger.Warn("map space group differs from the requested one",
			"map", m.SpaceGroupNumber, "requested", sg.Name)
	}
	return m.Cell, sg, &models.IndicatorVolume{Grid: m.Grid, Data: m.Data}, nil
}

func readObservations(path string) (*reflections.Observations, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open observations: %w", err)
	}
	defer f.Close()
	return reflections.ReadCNS(f)
}

func readCalculated(path, label string, indices []models.Index) ([]complex128, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calculated structure factors: %w", err)
	}
	defer f.Close()
	values, err := reflections.ReadCNSComplex(f, label)
	if err != nil {
		return nil, err
	}
	return reflections.Align(indices, values)
}

func parseFloats(arg string, n int) ([]float64, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %q", n, arg)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseCell(arg string) (crystal.UnitCell, error) {
	v, err := parseFloats(arg, 6)
	if err != nil {
		return crystal.UnitCell{}, fmt.Errorf("cell: %w", err)
	}
	return crystal.NewUnitCell(v[0], v[1], v[2], v[3], v[4], v[5])
}

func parseGrid(arg string) (models.Grid, error) {
	v, err := parseFloats(arg, 3)
	if err != nil {
		return models.Grid{}, fmt.Errorf("grid: %w", err)
	}
	return models.NewGrid(int(v[0]), int(v[1]), int(v[2]))
}
