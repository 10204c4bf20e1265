package placefield

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/placefields/internal/config"
	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
	"github.com/banshee-data/placefields/internal/placefield/tuning"
)

// paramsNamespace seeds the name-based UUIDs returned by Params.Key.
var paramsNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/banshee-data/placefields/params"))

// Params are the computation parameters of a place field set. Treat values as
// immutable: the With* methods return modified copies.
//
// BinSize, BinCount and SmoothingSigma may hold a single value that Resolve
// broadcasts to every spatial dimension. Exactly one of BinSize and BinCount
// must be set. BinPadding widens bounds derived from the observed positions on
// both sides; it is ignored when BinBounds is set.
type Params struct {
	// SpeedThreshold is an exclusive upper bound on speed; nil disables the
	// speed filter.
	SpeedThreshold *float64         `json:"speed_threshold"`
	BinSize        []float64        `json:"bin_size,omitempty"`
	BinCount       []int            `json:"bin_count,omitempty"`
	BinBounds      []binning.Bounds `json:"bin_bounds,omitempty"`
	BinPadding     []float64        `json:"bin_padding,omitempty"`
	SmoothingSigma []float64        `json:"smoothing_sigma"`
	RateThreshold  float64          `json:"rate_threshold"`
	IsDirectional  bool             `json:"is_directional"`
}

// DefaultParams returns speed threshold 3, bin size 2, sigma 2 and rate
// threshold 1.
func DefaultParams() Params {
	return ParamsFromConfig(config.DefaultPlacefieldConfig())
}

// ParamsFromConfig builds Params from a loaded configuration file.
func ParamsFromConfig(cfg *config.PlacefieldConfig) Params {
	p := Params{
		SpeedThreshold: cfg.GetSpeedThreshold(),
		BinSize:        cfg.GetBinSize(),
		SmoothingSigma: cfg.GetSmoothingSigma(),
		RateThreshold:  cfg.GetRateThreshold(),
		IsDirectional:  cfg.GetIsDirectional(),
	}
	if counts := cfg.GetBinCount(); len(counts) > 0 {
		p.BinCount = counts
	}
	for _, b := range cfg.GetBinBounds() {
		p.BinBounds = append(p.BinBounds, binning.Bounds{Min: b[0], Max: b[1]})
	}
	p.BinPadding = cfg.GetBinPadding()
	return p
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := p
	if p.SpeedThreshold != nil {
		v := unsign(*p.SpeedThreshold)
		out.SpeedThreshold = &v
	}
	out.BinSize = unsignAll(p.BinSize)
	out.BinCount = append([]int(nil), p.BinCount...)
	out.BinBounds = append([]binning.Bounds(nil), p.BinBounds...)
	for i, b := range out.BinBounds {
		out.BinBounds[i] = binning.Bounds{Min: unsign(b.Min), Max: unsign(b.Max)}
	}
	out.BinPadding = unsignAll(p.BinPadding)
	out.SmoothingSigma = unsignAll(p.SmoothingSigma)
	out.RateThreshold = unsign(p.RateThreshold)
	return out
}

// unsign maps -0 to +0 so values that compare equal also encode equally.
func unsign(v float64) float64 { return v + 0 }

func unsignAll(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = unsign(x)
	}
	return out
}

// WithSpeedThreshold returns a copy with the speed threshold set; nil disables
// speed filtering.
func (p Params) WithSpeedThreshold(v *float64) Params {
	out := p.Clone()
	out.SpeedThreshold = nil
	if v != nil {
		t := *v
		out.SpeedThreshold = &t
	}
	return out
}

// WithBinSize returns a copy binned by size, clearing any bin count.
func (p Params) WithBinSize(size ...float64) Params {
	out := p.Clone()
	out.BinSize = append([]float64(nil), size...)
	out.BinCount = nil
	return out
}

// WithBinCount returns a copy binned by count, clearing any bin size.
func (p Params) WithBinCount(count ...int) Params {
	out := p.Clone()
	out.BinCount = append([]int(nil), count...)
	out.BinSize = nil
	return out
}

// WithBinBounds returns a copy with explicit bin bounds.
func (p Params) WithBinBounds(b ...binning.Bounds) Params {
	out := p.Clone()
	out.BinBounds = append([]binning.Bounds(nil), b...)
	return out
}

// WithBinPadding returns a copy that pads derived bin bounds by the given
// amounts, in position units.
func (p Params) WithBinPadding(padding ...float64) Params {
	out := p.Clone()
	out.BinPadding = append([]float64(nil), padding...)
	return out
}

// WithSmoothingSigma returns a copy with the given sigmas, in bins.
func (p Params) WithSmoothingSigma(sigma ...float64) Params {
	out := p.Clone()
	out.SmoothingSigma = append([]float64(nil), sigma...)
	return out
}

// WithRateThreshold returns a copy with the peak-rate threshold set.
func (p Params) WithRateThreshold(hz float64) Params {
	out := p.Clone()
	out.RateThreshold = hz
	return out
}

// WithDirectional returns a copy with the directional flag set.
func (p Params) WithDirectional(on bool) Params {
	out := p.Clone()
	out.IsDirectional = on
	return out
}

// Validate checks value ranges that do not depend on dimensionality.
func (p Params) Validate() error {
	if p.SpeedThreshold != nil && (math.IsNaN(*p.SpeedThreshold) || *p.SpeedThreshold < 0) {
		return pferr.Configf("speed threshold %v must be non-negative", *p.SpeedThreshold)
	}
	switch {
	case len(p.BinSize) > 0 && len(p.BinCount) > 0:
		return pferr.Configf("both bin size and bin count given")
	case len(p.BinSize) == 0 && len(p.BinCount) == 0:
		return pferr.Configf("neither bin size nor bin count given")
	}
	for _, v := range p.BinSize {
		if !(v > 0) || math.IsInf(v, 0) {
			return pferr.Configf("bin size %v must be positive and finite", v)
		}
	}
	for _, v := range p.BinCount {
		if v < 1 {
			return pferr.Configf("bin count %d must be positive", v)
		}
	}
	for _, v := range p.BinPadding {
		if !(v >= 0) || math.IsInf(v, 0) {
			return pferr.Configf("bin padding %v must be non-negative and finite", v)
		}
	}
	for _, s := range p.SmoothingSigma {
		if math.IsNaN(s) || s < 0 {
			return pferr.Configf("smoothing sigma %v must be non-negative", s)
		}
	}
	if math.IsNaN(p.RateThreshold) {
		return pferr.Configf("rate threshold is NaN")
	}
	return nil
}

// Resolve validates p and broadcasts single-valued tuples to ndim entries.
// An empty SmoothingSigma resolves to no smoothing. Any tuple whose length is
// neither 1 nor ndim is a configuration error.
func (p Params) Resolve(ndim int) (Params, error) {
	if ndim < 1 {
		return Params{}, pferr.Configf("cannot resolve parameters for %d dimensions", ndim)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	out := p.Clone()
	var err error
	if out.BinSize != nil {
		if out.BinSize, err = broadcast("bin size", out.BinSize, ndim); err != nil {
			return Params{}, err
		}
	}
	if out.BinCount != nil {
		if out.BinCount, err = broadcast("bin count", out.BinCount, ndim); err != nil {
			return Params{}, err
		}
	}
	if out.BinPadding != nil {
		if out.BinPadding, err = broadcast("bin padding", out.BinPadding, ndim); err != nil {
			return Params{}, err
		}
	}
	if len(out.SmoothingSigma) == 0 {
		out.SmoothingSigma = make([]float64, ndim)
	} else if out.SmoothingSigma, err = broadcast("smoothing sigma", out.SmoothingSigma, ndim); err != nil {
		return Params{}, err
	}
	if out.BinBounds != nil && len(out.BinBounds) != ndim {
		return Params{}, pferr.Configf("%d bin bounds for %d dimensions", len(out.BinBounds), ndim)
	}
	return out, nil
}

func broadcast[T any](name string, v []T, ndim int) ([]T, error) {
	switch len(v) {
	case ndim:
		return v, nil
	case 1:
		out := make([]T, ndim)
		for i := range out {
			out[i] = v[0]
		}
		return out, nil
	default:
		return nil, pferr.Configf("%s has %d values for %d dimensions", name, len(v), ndim)
	}
}

// Truncate keeps the first n dimensions of a resolved Params.
func (p Params) Truncate(n int) Params {
	out := p.Clone()
	if len(out.BinSize) > n {
		out.BinSize = out.BinSize[:n]
	}
	if len(out.BinCount) > n {
		out.BinCount = out.BinCount[:n]
	}
	if len(out.BinBounds) > n {
		out.BinBounds = out.BinBounds[:n]
	}
	if len(out.BinPadding) > n {
		out.BinPadding = out.BinPadding[:n]
	}
	if len(out.SmoothingSigma) > n {
		out.SmoothingSigma = out.SmoothingSigma[:n]
	}
	return out
}

// binSpecs returns the per-dimension binner input of a resolved Params.
func (p Params) binSpecs() []binning.Spec {
	n := len(p.BinSize)
	if len(p.BinCount) > n {
		n = len(p.BinCount)
	}
	specs := make([]binning.Spec, n)
	for d := range specs {
		if d < len(p.BinSize) {
			specs[d].Size = p.BinSize[d]
		}
		if d < len(p.BinCount) {
			specs[d].Count = p.BinCount[d]
		}
	}
	return specs
}

// Equal reports whether both parameter sets hold the same values.
func (p Params) Equal(o Params) bool {
	if (p.SpeedThreshold == nil) != (o.SpeedThreshold == nil) {
		return false
	}
	if p.SpeedThreshold != nil && *p.SpeedThreshold != *o.SpeedThreshold {
		return false
	}
	if len(p.BinSize) != len(o.BinSize) || !floats.Equal(p.BinSize, o.BinSize) {
		return false
	}
	if len(p.SmoothingSigma) != len(o.SmoothingSigma) || !floats.Equal(p.SmoothingSigma, o.SmoothingSigma) {
		return false
	}
	if len(p.BinPadding) != len(o.BinPadding) || !floats.Equal(p.BinPadding, o.BinPadding) {
		return false
	}
	if len(p.BinCount) != len(o.BinCount) || len(p.BinBounds) != len(o.BinBounds) {
		return false
	}
	for i := range p.BinCount {
		if p.BinCount[i] != o.BinCount[i] {
			return false
		}
	}
	for i := range p.BinBounds {
		if p.BinBounds[i] != o.BinBounds[i] {
			return false
		}
	}
	return p.RateThreshold == o.RateThreshold && p.IsDirectional == o.IsDirectional
}

// Key returns a stable identifier derived from the parameter values, so equal
// parameters always share a key. Usable as a map key or database id.
func (p Params) Key() uuid.UUID {
	c := p.Clone()
	b, err := json.Marshal(c)
	if err != nil {
		// NaN or Inf values do not encode; fall back to the printed form.
		b = []byte(fmt.Sprint(c.String(), c.BinBounds, c.IsDirectional))
	}
	return uuid.NewSHA1(paramsNamespace, b)
}

// String renders the parameters for display. It never fails.
func (p Params) String() string {
	return "(" + strings.Join(p.parts(), ", ") + ")"
}

// FilenameString renders the parameters as a filename fragment prefixed with
// pf1D or pf2D. It never fails.
func (p Params) FilenameString(ndim int) string {
	prefix := "pf1D"
	if ndim > 1 {
		prefix = "pf2D"
	}
	return prefix + "-" + strings.Join(p.parts(), "-")
}

func (p Params) parts() []string {
	const kv = "_"
	speed := "none"
	if p.SpeedThreshold != nil {
		speed = fmt.Sprintf("%.2f", *p.SpeedThreshold)
	}
	bins := joinFloats(p.BinSize)
	binKey := "gridBin"
	if len(p.BinCount) > 0 {
		binKey = "gridCount"
		counts := make([]string, len(p.BinCount))
		for i, c := range p.BinCount {
			counts[i] = fmt.Sprintf("%d", c)
		}
		bins = strings.Join(counts, "_")
	}
	return []string{
		"speedThresh" + kv + speed,
		binKey + kv + bins,
		"smooth" + kv + joinFloats(p.SmoothingSigma),
		"frateThresh" + kv + fmt.Sprintf("%.2f", p.RateThreshold),
	}
}

func joinFloats(v []float64) string {
	if len(v) == 0 {
		return "none"
	}
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = fmt.Sprintf("%.2f", x)
	}
	return strings.Join(s, "_")
}

// Policy selects which intermediate arrays are smoothed. The defaults smooth
// only the final tuning maps.
type Policy struct {
	// SmoothSpeed smooths the speed column with the first dimension's sigma
	// before speed filtering.
	SmoothSpeed     bool `json:"smooth_speed"`
	SmoothSpikeMap  bool `json:"smooth_spike_map"`
	SmoothOccupancy bool `json:"smooth_occupancy"`
	SmoothTuningMap bool `json:"smooth_tuning_map"`

	// MaxWorkers bounds the per-neuron fan-out; 0 means one per CPU.
	MaxWorkers int `json:"max_workers"`
}

// DefaultPolicy smooths only the final tuning maps.
func DefaultPolicy() Policy {
	return Policy{SmoothTuningMap: true}
}

// PolicyFromConfig builds a Policy from a loaded configuration file.
func PolicyFromConfig(cfg *config.PlacefieldConfig) Policy {
	return Policy{
		SmoothSpeed:     cfg.GetSmoothSpeed(),
		SmoothSpikeMap:  cfg.GetSmoothSpikeMap(),
		SmoothOccupancy: cfg.GetSmoothOccupancy(),
		SmoothTuningMap: cfg.GetSmoothTuningMap(),
		MaxWorkers:      cfg.GetMaxWorkers(),
	}
}

func (p Policy) tuning() tuning.Policy {
	return tuning.Policy{SmoothSpikeMap: p.SmoothSpikeMap, SmoothTuningMap: p.SmoothTuningMap}
}
