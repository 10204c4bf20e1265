package tuning

import (
	"math"

	"github.com/banshee-data/placefields/internal/placefield/pferr"
)

// Selection is the outcome of the peak-rate filter: the positions, in the
// original neuron order, of the neurons that passed.
type Selection struct {
	Included []int
	// Total is the number of neurons the selection was made from.
	Total int
}

// SelectPeaks includes neuron i iff peaks[i] > threshold. The comparison is
// strict and a NaN peak never passes.
func SelectPeaks(peaks []float64, threshold float64) Selection {
	s := Selection{Included: make([]int, 0, len(peaks)), Total: len(peaks)}
	for i, p := range peaks {
		if !math.IsNaN(p) && p > threshold {
			s.Included = append(s.Included, i)
		}
	}
	return s
}

// Select applies SelectPeaks to the smoothed tuning map of every neuron.
func Select(maps []*Map, threshold float64) Selection {
	peaks := make([]float64, len(maps))
	for i, m := range maps {
		peaks[i] = m.Peak()
	}
	return SelectPeaks(peaks, threshold)
}

// Len returns the number of included neurons.
func (s Selection) Len() int { return len(s.Included) }

// Project returns the items at the selection's indices, in order. items must
// be indexed like the neurons the selection was made from.
func Project[T any](s Selection, items []T) ([]T, error) {
	if len(items) != s.Total {
		return nil, pferr.Configf("projecting %d items through a selection over %d neurons", len(items), s.Total)
	}
	out := make([]T, len(s.Included))
	for k, i := range s.Included {
		out[k] = items[i]
	}
	return out, nil
}

// Projector returns Project bound to s, for reuse across parallel arrays.
func Projector[T any](s Selection) func([]T) ([]T, error) {
	return func(items []T) ([]T, error) { return Project(s, items) }
}
