// Package config provides configuration loading and management for
// mosaicsolvent. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"mosaicsolvent/pkg/mask"
	"mosaicsolvent/pkg/refinement"
	"mosaicsolvent/pkg/regions"
	"mosaicsolvent/pkg/solver"
)

// ErrInvalid reports a configuration value outside its accepted range.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds the number of resolution bins solved in parallel
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Solvent mask parameters
	Mask struct {
		// SolventRadius is the probe radius in Å added to every atom
		SolventRadius float64 `yaml:"solventRadius"`

		// ShrinkTruncationRadius is the distance in Å by which the probe
		// surface is shrunk back
		ShrinkTruncationRadius float64 `yaml:"shrinkTruncationRadius"`
	} `yaml:"mask"`

	// Region decomposition parameters
	Decomposition struct {
		// Threshold separates solvent (above) from macromolecule
		Threshold float64 `yaml:"threshold"`

		// Connectivity is 6, 18 or 26
		Connectivity int `yaml:"connectivity"`

		// VolumeCutoff drops regions smaller than this many Å³; null keeps all
		VolumeCutoff *float64 `yaml:"volumeCutoff"`

		// GridStep in Å gives the voxel volume as step³; 0 derives it from
		// the cell and the grid
		GridStep float64 `yaml:"gridStep"`

		// BaseMaskFraction is the cell percentage above which a region joins
		// the single bulk-solvent mask
		BaseMaskFraction float64 `yaml:"baseMaskFraction"`

		// ScreenByDiffMap drops small regions without positive difference density
		ScreenByDiffMap bool `yaml:"screenByDiffMap"`
	} `yaml:"decomposition"`

	// Coefficient solver parameters
	Solver struct {
		// Algorithm is grid-search, nonlinear, closed-form or alternating
		Algorithm string `yaml:"algorithm"`

		solver.Options `yaml:",inline"`
	} `yaml:"solver"`

	// Binned refinement parameters
	Refinement struct {
		// MacroCycles is the number of refinement rounds
		MacroCycles int `yaml:"macroCycles"`

		// MinBinResolution skips bins whose d_min is below this value in Å
		MinBinResolution float64 `yaml:"minBinResolution"`

		// PruneThreshold drops regions with a smaller first-bin coefficient
		PruneThreshold float64 `yaml:"pruneThreshold"`

		// NumBins is the number of equal-count resolution bins
		NumBins int `yaml:"numBins"`
	} `yaml:"refinement"`

	// Output parameters
	Output struct {
		// WriteMasks writes every region as a CCP4 map
		WriteMasks bool `yaml:"writeMasks"`

		// Dir receives maps and slice images
		Dir string `yaml:"dir"`

		// Verbose switches logging to debug level
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	mp := mask.DefaultParams()
	cfg.Mask.SolventRadius = mp.SolventRadius
	cfg.Mask.ShrinkTruncationRadius = mp.ShrinkTruncationRadius

	dp := regions.DefaultParams(0)
	cfg.Decomposition.Threshold = dp.Threshold
	cfg.Decomposition.Connectivity = int(dp.Connectivity)
	cfg.Decomposition.BaseMaskFraction = 5

	rp := refinement.DefaultParams()
	cfg.Solver.Algorithm = string(rp.Algorithm)
	cfg.Solver.Options = solver.DefaultOptions()

	cfg.Refinement.MacroCycles = rp.MacroCycles
	cfg.Refinement.MinBinResolution = rp.MinBinResolution
	cfg.Refinement.PruneThreshold = rp.PruneThreshold
	cfg.Refinement.NumBins = 10

	cfg.Output.Dir = "."

	return cfg
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("%w: processing.numCores must be at least 1", ErrInvalid)
	}
	if c.Mask.SolventRadius < 0 || c.Mask.ShrinkTruncationRadius < 0 {
		return fmt.Errorf("%w: mask radii must be non-negative", ErrInvalid)
	}
	switch regions.Connectivity(c.Decomposition.Connectivity) {
	case regions.Faces, regions.Edges, regions.Corners:
	default:
		return fmt.Errorf("%w: decomposition.connectivity must be 6, 18 or 26, got %d", ErrInvalid, c.Decomposition.Connectivity)
	}
	if c.Decomposition.VolumeCutoff != nil && *c.Decomposition.VolumeCutoff < 0 {
		return fmt.Errorf("%w: decomposition.volumeCutoff must be non-negative", ErrInvalid)
	}
	if c.Decomposition.GridStep < 0 {
		return fmt.Errorf("%w: decomposition.gridStep must be non-negative", ErrInvalid)
	}
	if c.Refinement.NumBins < 1 {
		return fmt.Errorf("%w: refinement.numBins must be at least 1", ErrInvalid)
	}
	if _, err := solver.New(solver.Algorithm(c.Solver.Algorithm), c.Solver.Options); err != nil {
		return fmt.Errorf("%w: solver: %v", ErrInvalid, err)
	}
	if err := c.RefinementParams().Validate(); err != nil {
		return fmt.Errorf("%w: refinement: %v", ErrInvalid, err)
	}
	return nil
}

// MaskParams returns the solvent mask parameters.
func (c *Config) MaskParams() mask.Params {
	return mask.Params{
		SolventRadius:          c.Mask.SolventRadius,
		ShrinkTruncationRadius: c.Mask.ShrinkTruncationRadius,
	}
}

// DecompositionParams returns region decomposition parameters. The voxel
// volume is zero, meaning "derive from the cell", unless gridStep is set.
func (c *Config) DecompositionParams() regions.Params {
	p := regions.Params{
		Threshold:    c.Decomposition.Threshold,
		Connectivity: regions.Connectivity(c.Decomposition.Connectivity),
		VolumeCutoff: c.Decomposition.VolumeCutoff,
	}
	if s := c.Decomposition.GridStep; s > 0 {
		p.VoxelVolume = s * s * s
	}
	return p
}

// RefinementParams returns the binned refinement parameters.
func (c *Config) RefinementParams() refinement.Params {
	return refinement.Params{
		MacroCycles:      c.Refinement.MacroCycles,
		MinBinResolution: c.Refinement.MinBinResolution,
		PruneThreshold:   c.Refinement.PruneThreshold,
		NumCores:         c.Processing.NumCores,
		Algorithm:        solver.Algorithm(c.Solver.Algorithm),
		Solver:           c.Solver.Options,
	}
}

// PipelineParams returns the end-to-end pipeline parameters.
func (c *Config) PipelineParams() refinement.PipelineParams {
	return refinement.PipelineParams{
		Decomposition:    c.DecompositionParams(),
		BaseMaskFraction: c.Decomposition.BaseMaskFraction,
		ScreenByDiffMap:  c.Decomposition.ScreenByDiffMap,
		NumBins:          c.Refinement.NumBins,
		WriteMasks:       c.Output.WriteMasks,
		OutputDir:        c.Output.Dir,
		Refinement:       c.RefinementParams(),
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
