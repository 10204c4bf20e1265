// Package epochs holds time intervals that restrict which samples take part in
// a place field computation, and the speed filter that shrinks them.
//
// Every epoch is half-open, [Start, Stop). Computations expect a normalised
// set: sorted by Start with no overlaps.
package epochs

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/placefields/internal/placefield/pferr"
)

// Epoch is one labelled interval. NSamples is filled in by FilterBySpeed and
// is zero for caller-supplied epochs.
type Epoch struct {
	Start    float64 `json:"start"`
	Stop     float64 `json:"stop"`
	Label    string  `json:"label,omitempty"`
	NSamples int     `json:"n_samples,omitempty"`
}

// Duration returns Stop - Start.
func (e Epoch) Duration() float64 { return e.Stop - e.Start }

// Contains reports whether t lies in [Start, Stop).
func (e Epoch) Contains(t float64) bool { return t >= e.Start && t < e.Stop }

// Validate rejects non-finite or inverted intervals.
func (e Epoch) Validate() error {
	if math.IsNaN(e.Start) || math.IsNaN(e.Stop) || math.IsInf(e.Start, 0) || math.IsInf(e.Stop, 0) {
		return pferr.Configf("epoch %q has non-finite bounds [%v, %v)", e.Label, e.Start, e.Stop)
	}
	if e.Stop < e.Start {
		return pferr.Configf("epoch %q stops at %v before it starts at %v", e.Label, e.Stop, e.Start)
	}
	return nil
}

// Normalize returns a sorted copy of eps with overlapping intervals merged.
// Touching intervals ([a,b) and [b,c)) stay separate. A merged epoch keeps the
// label of its earliest member and the sum of the sample counts. Empty
// intervals are dropped.
func Normalize(eps []Epoch) ([]Epoch, error) {
	sorted := make([]Epoch, 0, len(eps))
	for _, e := range eps {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.Stop > e.Start {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := sorted[:0]
	for _, e := range sorted {
		if n := len(out); n > 0 && e.Start < out[n-1].Stop {
			last := &out[n-1]
			last.Stop = math.Max(last.Stop, e.Stop)
			last.NSamples += e.NSamples
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// IsNormalized reports whether eps is sorted and free of overlaps.
func IsNormalized(eps []Epoch) bool {
	for i := 1; i < len(eps); i++ {
		if eps[i].Start < eps[i-1].Stop {
			return false
		}
	}
	return true
}

// Span returns the single epoch covering [tStart, tStop] inclusively. It is
// used when a computation is given no epochs at all.
func Span(tStart, tStop float64, label string) Epoch {
	return Epoch{Start: tStart, Stop: math.Nextafter(tStop, math.Inf(1)), Label: label}
}

// TotalDuration sums the durations of eps.
func TotalDuration(eps []Epoch) float64 {
	var d float64
	for _, e := range eps {
		d += e.Duration()
	}
	return d
}

// Locate returns, for every timestamp, the index of the normalised epoch that
// contains it, or -1. ts need not be sorted.
func Locate(eps []Epoch, ts []float64) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		out[i] = locate(eps, t)
	}
	return out
}

func locate(eps []Epoch, t float64) int {
	// First epoch whose Stop is after t; it contains t iff it starts at or before t.
	j := sort.Search(len(eps), func(k int) bool { return eps[k].Stop > t })
	if j < len(eps) && eps[j].Contains(t) {
		return j
	}
	return -1
}

// Slice returns the indices of ts that fall inside any of the normalised
// epochs, in their original order.
func Slice(eps []Epoch, ts []float64) []int {
	idx := make([]int, 0, len(ts))
	for i, t := range ts {
		if locate(eps, t) >= 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// SpeedFilterResult is the outcome of FilterBySpeed.
type SpeedFilterResult struct {
	// Epochs are the retained epochs, each shrunk to the samples that
	// survived. Stop is the next float after the last retained timestamp so
	// the interval stays half-open yet still contains that sample.
	Epochs []Epoch
	// Retained lists the indices of the samples that passed, in input order.
	Retained []int
}

// FilterBySpeed assigns each sample to the epoch containing its timestamp,
// drops samples outside every epoch, drops samples whose speed is not below
// threshold, and re-derives each epoch from the samples that remain. A nil
// threshold disables the speed test. eps is normalised first; epochs left with
// no samples disappear from the result.
//
// Callers slice both the position and the spike streams by the returned
// Epochs so occupancy and spike counts cover the same time.
func FilterBySpeed(eps []Epoch, t, speed []float64, threshold *float64) (SpeedFilterResult, error) {
	norm, err := Normalize(eps)
	if err != nil {
		return SpeedFilterResult{}, err
	}
	if threshold != nil {
		if math.IsNaN(*threshold) {
			return SpeedFilterResult{}, pferr.Configf("speed threshold is NaN")
		}
		if len(speed) != len(t) {
			return SpeedFilterResult{}, pferr.Configf("%d speed values for %d samples", len(speed), len(t))
		}
	}

	type group struct {
		first, last float64
		count       int
	}
	groups := make([]group, len(norm))
	res := SpeedFilterResult{Retained: make([]int, 0, len(t))}
	for i, ti := range t {
		j := locate(norm, ti)
		if j < 0 {
			continue
		}
		// NaN speed never compares below the threshold, so it is dropped.
		if threshold != nil && !(speed[i] < *threshold) {
			continue
		}
		g := &groups[j]
		if g.count == 0 || ti < g.first {
			g.first = ti
		}
		if g.count == 0 || ti > g.last {
			g.last = ti
		}
		g.count++
		res.Retained = append(res.Retained, i)
	}

	for j, g := range groups {
		if g.count == 0 {
			continue
		}
		label := norm[j].Label
		if label == "" {
			label = fmt.Sprintf("%d", j)
		}
		res.Epochs = append(res.Epochs, Epoch{
			Start:    g.first,
			Stop:     math.Nextafter(g.last, math.Inf(1)),
			Label:    label,
			NSamples: g.count,
		})
	}
	if len(res.Epochs) == 0 {
		return res, pferr.Dataf("no position samples left after epoch and speed filtering")
	}
	return res, nil
}
