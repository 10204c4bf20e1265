// Package tuning turns per-neuron spike positions into occupancy-normalised
// firing-rate maps and selects the neurons whose peak rate clears a threshold.
package tuning

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/ndmap"
)

// Policy selects which intermediate maps are smoothed.
type Policy struct {
	// SmoothSpikeMap smooths spike counts before dividing by occupancy.
	SmoothSpikeMap bool
	// SmoothTuningMap smooths the rate map after the division.
	SmoothTuningMap bool
}

// DefaultPolicy smooths only the final tuning map.
func DefaultPolicy() Policy { return Policy{SmoothTuningMap: true} }

// Map is one neuron's set of co-derived maps. All four share the occupancy
// shape and hold finite values.
type Map struct {
	Tuning             *ndmap.Map
	UnsmoothedTuning   *ndmap.Map
	SpikeMap           *ndmap.Map
	UnsmoothedSpikeMap *ndmap.Map
}

// Peak returns the largest value of the smoothed tuning map.
func (m *Map) Peak() float64 { return m.Tuning.Max() }

// Compute builds the maps of one neuron. spikeCoords[d] holds the d-th
// interpolated coordinate of each spike; occupancy is the seconds-per-bin map
// and is not modified.
func Compute(spikeCoords [][]float64, edges binning.Edges, occupancy *ndmap.Map, sigma []float64, p Policy) (*Map, error) {
	raw, err := ndmap.Histogram(spikeCoords, edges.Edges)
	if err != nil {
		return nil, fmt.Errorf("spike histogram: %w", err)
	}
	if !raw.SameShape(occupancy) {
		return nil, fmt.Errorf("spike map shape %v does not match occupancy %v", raw.Shape(), occupancy.Shape())
	}
	smoothing := ndmap.AnyPositive(sigma)

	spikes := raw
	if p.SmoothSpikeMap && smoothing {
		if spikes, err = raw.Smooth(sigma); err != nil {
			return nil, err
		}
	}

	// Unvisited bins become NaN in a private copy so the division marks them,
	// then the marks are cleared to a rate of zero.
	occ := occupancy.Clone()
	od := occ.Data()
	for i, v := range od {
		if v == 0 {
			od[i] = math.NaN()
		}
	}

	unsmoothed := divide(raw, od)
	rate := unsmoothed
	if spikes != raw {
		rate = divide(spikes, od)
	}
	if p.SmoothTuningMap && smoothing {
		if rate, err = rate.Smooth(sigma); err != nil {
			return nil, err
		}
	}
	return &Map{
		Tuning:             rate,
		UnsmoothedTuning:   unsmoothed,
		SpikeMap:           spikes,
		UnsmoothedSpikeMap: raw,
	}, nil
}

func divide(counts *ndmap.Map, occ []float64) *ndmap.Map {
	out := ndmap.New(counts.Shape()...)
	d := out.Data()
	floats.DivTo(d, counts.Data(), occ)
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			d[i] = 0
		}
	}
	return out
}

// Input is the per-neuron work item for ComputeAll.
type Input struct {
	NeuronID    int
	SpikeCoords [][]float64
}

// ComputeAll runs Compute for every input on up to workers goroutines
// (workers <= 0 means one per CPU). The result is index-aligned with inputs
// regardless of scheduling. The first error cancels the remaining work.
func ComputeAll(ctx context.Context, inputs []Input, edges binning.Edges, occupancy *ndmap.Map, sigma []float64, p Policy, workers int) ([]*Map, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]*Map, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range inputs {
		i := i
		in := inputs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := Compute(in.SpikeCoords, edges, occupancy, sigma, p)
			if err != nil {
				return fmt.Errorf("neuron %d: %w", in.NeuronID, err)
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
