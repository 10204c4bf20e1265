package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical placefield defaults file.
const DefaultConfigPath = "config/placefield.defaults.json"

// maxConfigFileSize caps configuration files at 1MB.
const maxConfigFileSize = 1 * 1024 * 1024

// PlacefieldConfig is the on-disk form of a place field computation's
// parameters. Omitted fields fall back to the defaults returned by the Get*
// accessors, so partial files are safe.
//
// BinSize, BinCount, BinPadding and SmoothingSigma hold either a single value, applied to
// every spatial dimension, or one value per dimension.
type PlacefieldConfig struct {
	SpeedThreshold *float64     `json:"speed_threshold,omitempty"`
	NoSpeedFilter  *bool        `json:"no_speed_filter,omitempty"`
	BinSize        []float64    `json:"bin_size,omitempty"`
	BinCount       []int        `json:"bin_count,omitempty"`
	BinBounds      [][2]float64 `json:"bin_bounds,omitempty"`
	BinPadding     []float64    `json:"bin_padding,omitempty"`
	SmoothingSigma []float64    `json:"smoothing_sigma,omitempty"`
	RateThreshold  *float64     `json:"rate_threshold,omitempty"`
	IsDirectional  *bool        `json:"is_directional,omitempty"`

	// Smoothing policy
	SmoothSpeed     *bool `json:"smooth_speed,omitempty"`
	SmoothSpikeMap  *bool `json:"smooth_spike_map,omitempty"`
	SmoothOccupancy *bool `json:"smooth_occupancy,omitempty"`
	SmoothTuningMap *bool `json:"smooth_tuning_map,omitempty"`

	// Per-neuron worker limit; 0 means one worker per CPU.
	MaxWorkers *int `json:"max_workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPlacefieldConfig returns a config with every field unset.
func EmptyPlacefieldConfig() *PlacefieldConfig {
	return &PlacefieldConfig{}
}

// DefaultPlacefieldConfig returns a config with every field set to its
// default, the same values DefaultConfigPath carries.
func DefaultPlacefieldConfig() *PlacefieldConfig {
	return &PlacefieldConfig{
		SpeedThreshold:  ptrFloat64(3),
		NoSpeedFilter:   ptrBool(false),
		BinSize:         []float64{2},
		SmoothingSigma:  []float64{2},
		RateThreshold:   ptrFloat64(1),
		IsDirectional:   ptrBool(false),
		SmoothSpeed:     ptrBool(false),
		SmoothSpikeMap:  ptrBool(false),
		SmoothOccupancy: ptrBool(false),
		SmoothTuningMap: ptrBool(true),
		MaxWorkers:      ptrInt(0),
	}
}

// LoadPlacefieldConfig loads a PlacefieldConfig from a JSON file. The path
// must have a .json extension and the file must be under 1MB.
func LoadPlacefieldConfig(path string) (*PlacefieldConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPlacefieldConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *PlacefieldConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/placefield/tuning/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPlacefieldConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks value ranges. Dimensional consistency is checked later,
// once the position dimensionality is known.
func (c *PlacefieldConfig) Validate() error {
	if c.SpeedThreshold != nil && (math.IsNaN(*c.SpeedThreshold) || *c.SpeedThreshold < 0) {
		return fmt.Errorf("speed_threshold must be non-negative, got %v", *c.SpeedThreshold)
	}
	if len(c.BinSize) > 0 && len(c.BinCount) > 0 {
		return fmt.Errorf("bin_size and bin_count are mutually exclusive")
	}
	for i, v := range c.BinSize {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("bin_size[%d] must be positive, got %v", i, v)
		}
	}
	for i, v := range c.BinCount {
		if v < 1 {
			return fmt.Errorf("bin_count[%d] must be at least 1, got %d", i, v)
		}
	}
	for i, b := range c.BinBounds {
		if !(b[1] > b[0]) {
			return fmt.Errorf("bin_bounds[%d] must have max > min, got [%v, %v]", i, b[0], b[1])
		}
	}
	for i, v := range c.BinPadding {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("bin_padding[%d] must be non-negative, got %v", i, v)
		}
	}
	for i, v := range c.SmoothingSigma {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("smoothing_sigma[%d] must be non-negative, got %v", i, v)
		}
	}
	if c.RateThreshold != nil && math.IsNaN(*c.RateThreshold) {
		return fmt.Errorf("rate_threshold must be a number")
	}
	if c.MaxWorkers != nil && *c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must be non-negative, got %d", *c.MaxWorkers)
	}
	return nil
}

// GetSpeedThreshold returns the speed threshold, or nil when speed filtering
// is disabled through no_speed_filter.
func (c *PlacefieldConfig) GetSpeedThreshold() *float64 {
	if c.NoSpeedFilter != nil && *c.NoSpeedFilter {
		return nil
	}
	if c.SpeedThreshold == nil {
		return ptrFloat64(3)
	}
	return ptrFloat64(*c.SpeedThreshold)
}

// GetBinSize returns bin_size, or the 2-unit default when neither bin_size
// nor bin_count is set. It returns nil when bins are given by count.
func (c *PlacefieldConfig) GetBinSize() []float64 {
	if len(c.BinSize) > 0 {
		return append([]float64(nil), c.BinSize...)
	}
	if len(c.BinCount) > 0 {
		return nil
	}
	return []float64{2}
}

// GetBinCount returns bin_count, or nil when bins are given by size.
func (c *PlacefieldConfig) GetBinCount() []int {
	return append([]int(nil), c.BinCount...)
}

// GetBinBounds returns the explicit bounds, or nil to derive them from the
// observed positions.
func (c *PlacefieldConfig) GetBinBounds() [][2]float64 {
	return append([][2]float64(nil), c.BinBounds...)
}

// GetBinPadding returns the padding applied to derived bin bounds, or nil for
// none.
func (c *PlacefieldConfig) GetBinPadding() []float64 {
	if len(c.BinPadding) == 0 {
		return nil
	}
	return append([]float64(nil), c.BinPadding...)
}

// GetSmoothingSigma returns smoothing_sigma or the default of 2 bins.
func (c *PlacefieldConfig) GetSmoothingSigma() []float64 {
	if len(c.SmoothingSigma) == 0 {
		return []float64{2}
	}
	return append([]float64(nil), c.SmoothingSigma...)
}

// GetRateThreshold returns rate_threshold or the default of 1 Hz.
func (c *PlacefieldConfig) GetRateThreshold() float64 {
	if c.RateThreshold == nil {
		return 1
	}
	return *c.RateThreshold
}

// GetIsDirectional returns is_directional or false.
func (c *PlacefieldConfig) GetIsDirectional() bool {
	return c.IsDirectional != nil && *c.IsDirectional
}

// GetSmoothSpeed returns smooth_speed or false.
func (c *PlacefieldConfig) GetSmoothSpeed() bool {
	return c.SmoothSpeed != nil && *c.SmoothSpeed
}

// GetSmoothSpikeMap returns smooth_spike_map or false.
func (c *PlacefieldConfig) GetSmoothSpikeMap() bool {
	return c.SmoothSpikeMap != nil && *c.SmoothSpikeMap
}

// GetSmoothOccupancy returns smooth_occupancy or false.
func (c *PlacefieldConfig) GetSmoothOccupancy() bool {
	return c.SmoothOccupancy != nil && *c.SmoothOccupancy
}

// GetSmoothTuningMap returns smooth_tuning_map or true.
func (c *PlacefieldConfig) GetSmoothTuningMap() bool {
	if c.SmoothTuningMap == nil {
		return true // default
	}
	return *c.SmoothTuningMap
}

// GetMaxWorkers returns max_workers or 0.
func (c *PlacefieldConfig) GetMaxWorkers() int {
	if c.MaxWorkers == nil {
		return 0
	}
	return *c.MaxWorkers
}
