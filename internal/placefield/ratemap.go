package placefield

import (
	"fmt"

	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/ndmap"
	"github.com/banshee-data/placefields/internal/placefield/occupancy"
	"github.com/banshee-data/placefields/internal/placefield/tuning"
	"github.com/banshee-data/placefields/internal/recording"
)

// State is the lifecycle phase of a Set.
type State int

const (
	Uninitialized State = iota
	Filtered
	Computed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Filtered:
		return "filtered"
	case Computed:
		return "computed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Ratemap is the computed result of a Set. Every per-neuron slice is
// index-aligned with NeuronIDs and holds only neurons that passed the peak
// rate filter. A Ratemap is never mutated once built.
type Ratemap struct {
	Edges     binning.Edges
	Occupancy *occupancy.Result

	NeuronIDs   []int
	ExtendedIDs []recording.ExtendedID
	Maps        []*tuning.Map

	// SpikeTimes[i] are the filtered spike times of neuron i.
	SpikeTimes [][]float64
	// SpikePositions[i][d] is the interpolated d-th coordinate of each spike.
	SpikePositions [][][]float64

	// Selection records which of the pre-filter neurons were kept; its
	// indices refer to CandidateIDs.
	Selection    tuning.Selection
	CandidateIDs []int
}

// Len returns the number of included neurons.
func (r *Ratemap) Len() int { return len(r.NeuronIDs) }

// Shape returns the bin shape shared by every map.
func (r *Ratemap) Shape() []int { return r.Edges.Shape() }

// IndexOf returns the position of neuron id, or -1.
func (r *Ratemap) IndexOf(id int) int {
	for i, n := range r.NeuronIDs {
		if n == id {
			return i
		}
	}
	return -1
}

// TuningMaps returns the smoothed tuning maps.
func (r *Ratemap) TuningMaps() []*ndmap.Map {
	return r.collect(func(m *tuning.Map) *ndmap.Map { return m.Tuning })
}

// UnsmoothedTuningMaps returns the tuning maps before final smoothing.
func (r *Ratemap) UnsmoothedTuningMaps() []*ndmap.Map {
	return r.collect(func(m *tuning.Map) *ndmap.Map { return m.UnsmoothedTuning })
}

// SpikeMaps returns the spike count maps used for the tuning maps.
func (r *Ratemap) SpikeMaps() []*ndmap.Map {
	return r.collect(func(m *tuning.Map) *ndmap.Map { return m.SpikeMap })
}

func (r *Ratemap) collect(f func(*tuning.Map) *ndmap.Map) []*ndmap.Map {
	out := make([]*ndmap.Map, len(r.Maps))
	for i, m := range r.Maps {
		out[i] = f(m)
	}
	return out
}

// TuningCurves maps each included neuron id to its smoothed tuning map.
func (r *Ratemap) TuningCurves() map[int]*ndmap.Map {
	out := make(map[int]*ndmap.Map, len(r.Maps))
	for i, id := range r.NeuronIDs {
		out[id] = r.Maps[i].Tuning
	}
	return out
}

// NormalizedTuningCurves maps each included neuron id to its tuning map
// scaled to sum to one.
func (r *Ratemap) NormalizedTuningCurves() map[int]*ndmap.Map {
	out := make(map[int]*ndmap.Map, len(r.Maps))
	for i, id := range r.NeuronIDs {
		out[id] = r.Maps[i].Tuning.Normalized(occupancy.Epsilon)
	}
	return out
}

// Peaks returns the peak rate of every included neuron.
func (r *Ratemap) Peaks() []float64 {
	out := make([]float64, len(r.Maps))
	for i, m := range r.Maps {
		out[i] = m.Peak()
	}
	return out
}

// maxProject collapses every axis after the first keep axes.
func (r *Ratemap) maxProject(keep int) (*Ratemap, error) {
	occ, err := r.Occupancy.MaxProject(keep)
	if err != nil {
		return nil, err
	}
	out := &Ratemap{
		Edges:          r.Edges.Truncate(keep),
		Occupancy:      occ,
		NeuronIDs:      r.NeuronIDs,
		ExtendedIDs:    r.ExtendedIDs,
		Maps:           make([]*tuning.Map, len(r.Maps)),
		SpikeTimes:     r.SpikeTimes,
		SpikePositions: make([][][]float64, len(r.SpikePositions)),
		Selection:      r.Selection,
		CandidateIDs:   r.CandidateIDs,
	}
	for i, m := range r.Maps {
		var p tuning.Map
		for _, pair := range []struct {
			dst **ndmap.Map
			src *ndmap.Map
		}{
			{&p.Tuning, m.Tuning},
			{&p.UnsmoothedTuning, m.UnsmoothedTuning},
			{&p.SpikeMap, m.SpikeMap},
			{&p.UnsmoothedSpikeMap, m.UnsmoothedSpikeMap},
		} {
			if *pair.dst, err = pair.src.MaxProject(keep); err != nil {
				return nil, fmt.Errorf("neuron %d: %w", r.NeuronIDs[i], err)
			}
		}
		out.Maps[i] = &p
	}
	for i, pos := range r.SpikePositions {
		if len(pos) > keep {
			pos = pos[:keep]
		}
		out.SpikePositions[i] = pos
	}
	return out, nil
}
