// Package testutil provides shared test helpers and synthetic recordings.
//
// The generators build small, fully deterministic position and spike streams
// whose place field maps can be worked out by hand.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/placefields/internal/recording"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertFinite fails the test if any value is NaN or infinite.
func AssertFinite(t testing.TB, values []float64) {
	t.Helper()
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("value %d = %v, want finite", i, v)
		}
	}
}

// Track is a synthetic position stream. It satisfies the position source
// interface the place field set consumes.
type Track struct {
	T     []float64
	X     [][]float64
	Speed []float64
	Rate  float64
}

func (tr *Track) NDim() int           { return len(tr.X) }
func (tr *Track) SampleRate() float64 { return tr.Rate }
func (tr *Track) Samples() ([]float64, [][]float64, []float64) {
	return tr.T, tr.X, tr.Speed
}

// Len returns the number of samples.
func (tr *Track) Len() int { return len(tr.T) }

// LinearTrack samples n points at rate Hz, evenly covering [0, length) at
// bin-centre offsets, with a constant speed.
func LinearTrack(n int, rate, length, speed float64) *Track {
	tr := &Track{Rate: rate, X: [][]float64{make([]float64, n)}}
	step := length / float64(n)
	for i := 0; i < n; i++ {
		tr.T = append(tr.T, float64(i)/rate)
		tr.X[0][i] = (float64(i) + 0.5) * step
		tr.Speed = append(tr.Speed, speed)
	}
	return tr
}

// GridTrack rasters an nx by ny grid over [0, w) x [0, h), one sample per
// cell centre, at rate Hz and a constant speed.
func GridTrack(nx, ny int, rate, w, h, speed float64) *Track {
	tr := &Track{Rate: rate, X: [][]float64{nil, nil}}
	i := 0
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			tr.T = append(tr.T, float64(i)/rate)
			tr.X[0] = append(tr.X[0], (float64(x)+0.5)*w/float64(nx))
			tr.X[1] = append(tr.X[1], (float64(y)+0.5)*h/float64(ny))
			tr.Speed = append(tr.Speed, speed)
			i++
		}
	}
	return tr
}

// SetSpeed overwrites the speed of every sample whose time lies in
// [start, stop).
func (tr *Track) SetSpeed(start, stop, speed float64) *Track {
	for i, t := range tr.T {
		if t >= start && t < stop {
			tr.Speed[i] = speed
		}
	}
	return tr
}

// Train is a synthetic spike stream. It satisfies the spike source interface
// the place field set consumes.
type Train struct {
	T     []float64
	IDs   []int
	Units []recording.Unit
}

func (tr *Train) Events() ([]float64, []int)    { return tr.T, tr.IDs }
func (tr *Train) UnitTable() []recording.Unit { return tr.Units }

// Len returns the number of spikes.
func (tr *Train) Len() int { return len(tr.T) }

// FireWhere adds one spike for neuron id at every track sample whose
// coordinates satisfy in.
func (tr *Train) FireWhere(track *Track, id int, in func(coords []float64) bool) *Train {
	coords := make([]float64, track.NDim())
	for i, t := range track.T {
		for d := range coords {
			coords[d] = track.X[d][i]
		}
		if in(coords) {
			tr.T = append(tr.T, t)
			tr.IDs = append(tr.IDs, id)
		}
	}
	return tr
}

// Fire adds spikes for neuron id at the given times.
func (tr *Train) Fire(id int, times ...float64) *Train {
	for _, t := range times {
		tr.T = append(tr.T, t)
		tr.IDs = append(tr.IDs, id)
	}
	return tr
}

// InBin returns a predicate true when coordinate d lies in [lo, hi).
func InBin(d int, lo, hi float64) func([]float64) bool {
	return func(c []float64) bool { return c[d] >= lo && c[d] < hi }
}
