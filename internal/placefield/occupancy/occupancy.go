// Package occupancy builds the time-per-bin maps that normalise spike counts
// into firing rates.
package occupancy

import (
	"fmt"

	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/ndmap"
)

// Epsilon keeps divisions by an unset sampling rate or an empty map finite.
const Epsilon = 1e-16

// Result holds every co-derived view of one occupancy histogram. The maps are
// regenerated together by Compute and are never mutated afterwards.
type Result struct {
	// RawCounts is the number of position samples per bin.
	RawCounts *ndmap.Map
	// SmoothedCounts is RawCounts after Gaussian smoothing, or RawCounts
	// itself when no sigma component is positive.
	SmoothedCounts *ndmap.Map

	Seconds         *ndmap.Map
	SmoothedSeconds *ndmap.Map

	// Normalized is RawCounts / (sum + Epsilon); it sums to one.
	Normalized *ndmap.Map
}

// Compute histograms the position coordinates over edges. coords[d] holds the
// d-th coordinate of every sample.
func Compute(coords [][]float64, edges binning.Edges, sampleRate float64, sigma []float64) (*Result, error) {
	raw, err := ndmap.Histogram(coords, edges.Edges)
	if err != nil {
		return nil, fmt.Errorf("occupancy histogram: %w", err)
	}
	return FromCounts(raw, sampleRate, sigma)
}

// FromCounts derives the remaining views from an existing count map.
func FromCounts(raw *ndmap.Map, sampleRate float64, sigma []float64) (*Result, error) {
	smoothed := raw
	if ndmap.AnyPositive(sigma) {
		var err error
		smoothed, err = raw.Smooth(sigma)
		if err != nil {
			return nil, fmt.Errorf("occupancy smoothing: %w", err)
		}
	}
	perSample := 1 / (sampleRate + Epsilon)
	return &Result{
		RawCounts:       raw,
		SmoothedCounts:  smoothed,
		Seconds:         raw.Scaled(perSample),
		SmoothedSeconds: smoothed.Scaled(perSample),
		Normalized:      raw.Normalized(Epsilon),
	}, nil
}

// Shape returns the bin shape shared by every view.
func (r *Result) Shape() []int { return r.RawCounts.Shape() }

// NeverVisited returns a mask that is true where no position sample fell.
func (r *Result) NeverVisited() []bool {
	data := r.RawCounts.Data()
	mask := make([]bool, len(data))
	for i, v := range data {
		mask[i] = v == 0
	}
	return mask
}

// Visited is the complement of NeverVisited.
func (r *Result) Visited() []bool {
	mask := r.NeverVisited()
	for i := range mask {
		mask[i] = !mask[i]
	}
	return mask
}

// TotalSeconds returns the total time represented by the raw histogram.
func (r *Result) TotalSeconds() float64 { return r.Seconds.Sum() }

// MaxProject collapses every axis after the first keep axes by taking the
// per-bin maximum of each view.
func (r *Result) MaxProject(keep int) (*Result, error) {
	views := []*ndmap.Map{r.RawCounts, r.SmoothedCounts, r.Seconds, r.SmoothedSeconds, r.Normalized}
	out := make([]*ndmap.Map, len(views))
	for i, v := range views {
		p, err := v.MaxProject(keep)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return &Result{
		RawCounts:       out[0],
		SmoothedCounts:  out[1],
		Seconds:         out[2],
		SmoothedSeconds: out[3],
		Normalized:      out[4],
	}, nil
}
