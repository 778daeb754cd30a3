// Package config provides configuration loading and management for volreg3d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration strategy selectors
	Strategy struct {
		// Transform selects the motion model; only "InplaneSimilarity" is available
		Transform string `yaml:"transform"`

		// Interpolator selects the moving-volume sampling policy:
		// NearestNeighbor, Linear, BSpline or OrientedGaussian
		Interpolator string `yaml:"interpolator"`

		// Metric selects the similarity measure: MeanSquares, Correlation,
		// ANTSNeighborhoodCorrelation or MattesMutualInformation
		Metric string `yaml:"metric"`

		// ScalesEstimator selects the parameter conditioning: PhysicalShift,
		// IndexShift or Jacobian
		ScalesEstimator string `yaml:"scalesEstimator"`

		// Optimizer selects the search driver: RegularStepGradientDescent
		// or LBFGSB
		Optimizer string `yaml:"optimizer"`
	} `yaml:"strategy"`

	// Registration run parameters
	Registration struct {
		// MultiResolution enables the coarse-to-fine pyramid schedule
		MultiResolution bool `yaml:"multiResolution"`

		// MaxSamples caps the metric sample count per level; 0 uses every voxel
		MaxSamples int `yaml:"maxSamples"`

		// Seed drives the sample subset draw for reproducible runs
		Seed uint64 `yaml:"seed"`

		// ANTSRadius is the neighborhood radius in voxels for the
		// ANTS correlation metric
		ANTSRadius int `yaml:"antsRadius"`

		// Covariance is the row-major 3x3 slice-frame covariance in mm^2
		// for the oriented-Gaussian interpolator
		Covariance []float64 `yaml:"covariance"`

		// Alpha is the oriented-Gaussian cutoff in standard deviations
		Alpha float64 `yaml:"alpha"`
	} `yaml:"registration"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes the resampled moving volume and the
		// transform after every pyramid level
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Directory receives result volumes and transforms
		Directory string `yaml:"directory"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default strategy selectors
	cfg.Strategy.Transform = "InplaneSimilarity"
	cfg.Strategy.Interpolator = "BSpline"
	cfg.Strategy.Metric = "MattesMutualInformation"
	cfg.Strategy.ScalesEstimator = "Jacobian"
	cfg.Strategy.Optimizer = "RegularStepGradientDescent"

	// Set default run parameters
	cfg.Registration.MultiResolution = true
	cfg.Registration.MaxSamples = 0
	cfg.Registration.Seed = 1
	cfg.Registration.ANTSRadius = 2
	cfg.Registration.Covariance = []float64{
		0.26, 0, 0,
		0, 0.26, 0,
		0, 0, 2.77,
	}
	cfg.Registration.Alpha = 3

	// Set default output parameters
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Directory = "output"
	cfg.Output.Verbose = true

	return cfg
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
