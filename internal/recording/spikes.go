package recording

import (
	"fmt"
	"sort"

	"github.com/banshee-data/placefields/internal/placefield/epochs"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
)

// Unit describes one recorded neuron. Shank and Cluster form its extended id.
type Unit struct {
	ID      int `json:"id"`
	Shank   int `json:"shank"`
	Cluster int `json:"cluster"`
}

// ExtendedID is the (shank, cluster) pair identifying a unit on its electrode shank.
type ExtendedID struct {
	Shank   int `json:"shank"`
	Cluster int `json:"cluster"`
}

// Spikes is a sorted stream of spike events. T and NeuronID are parallel.
// Units optionally describes the neurons; ids missing from it get an extended
// id of (0, id).
type Spikes struct {
	T        []float64
	NeuronID []int
	Units    []Unit
}

// NewSpikes validates the columns and sorts them by time when needed. The
// input slices are not modified.
func NewSpikes(t []float64, ids []int, units []Unit) (*Spikes, error) {
	if len(t) != len(ids) {
		return nil, pferr.Configf("%d spike times for %d neuron ids", len(t), len(ids))
	}
	s := &Spikes{T: t, NeuronID: ids, Units: units}
	if !sort.Float64sAreSorted(t) {
		order := make([]int, len(t))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return t[order[a]] < t[order[b]] })
		s = s.Subset(order)
	}
	return s, nil
}

// Len returns the number of spikes.
func (s *Spikes) Len() int { return len(s.T) }

// Events exposes the columns.
func (s *Spikes) Events() (t []float64, ids []int) { return s.T, s.NeuronID }

// UnitTable returns the unit descriptions.
func (s *Spikes) UnitTable() []Unit { return s.Units }

// Subset returns a copy holding only the spikes at idx, in idx order.
func (s *Spikes) Subset(idx []int) *Spikes {
	out := &Spikes{
		T:        make([]float64, len(idx)),
		NeuronID: make([]int, len(idx)),
		Units:    s.Units,
	}
	for k, i := range idx {
		out.T[k] = s.T[i]
		out.NeuronID[k] = s.NeuronID[i]
	}
	return out
}

// TimeSliced keeps the spikes that fall inside any of the normalised epochs.
func (s *Spikes) TimeSliced(eps []epochs.Epoch) *Spikes {
	return s.Subset(epochs.Slice(eps, s.T))
}

// NeuronIDs returns the distinct neuron ids present, ascending.
func (s *Spikes) NeuronIDs() []int {
	seen := make(map[int]struct{}, len(s.Units))
	ids := make([]int, 0, len(s.Units))
	for _, id := range s.NeuronID {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// TimesByNeuron groups spike times by neuron id, each list in time order.
func (s *Spikes) TimesByNeuron() map[int][]float64 {
	out := make(map[int][]float64)
	for i, id := range s.NeuronID {
		out[id] = append(out[id], s.T[i])
	}
	return out
}

// ExtendedIDs returns the (shank, cluster) pair for every id, in order.
func (s *Spikes) ExtendedIDs(ids []int) []ExtendedID {
	byID := make(map[int]Unit, len(s.Units))
	for _, u := range s.Units {
		byID[u.ID] = u
	}
	out := make([]ExtendedID, len(ids))
	for i, id := range ids {
		if u, ok := byID[id]; ok {
			out[i] = ExtendedID{Shank: u.Shank, Cluster: u.Cluster}
		} else {
			out[i] = ExtendedID{Cluster: id}
		}
	}
	return out
}

// KeepNeurons returns the spikes of the given neurons only.
func (s *Spikes) KeepNeurons(ids []int) *Spikes {
	want := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	idx := make([]int, 0, len(s.T))
	for i, id := range s.NeuronID {
		if _, ok := want[id]; ok {
			idx = append(idx, i)
		}
	}
	return s.Subset(idx)
}

// String summarises the stream.
func (s *Spikes) String() string {
	return fmt.Sprintf("Spikes{n=%d, neurons=%d}", s.Len(), len(s.NeuronIDs()))
}
