package recording

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/placefields/internal/placefield/epochs"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
)

// Position is a tracked position stream. Coords[d][i] is the d-th coordinate
// of sample i; T is sorted ascending. Speed may be nil, in which case it is
// derived from the coordinates by NewPosition.
type Position struct {
	T            []float64
	Coords       [][]float64
	Speed        []float64
	SamplingRate float64
}

// NewPosition validates the columns and fills in Speed and SamplingRate when
// they are missing. The slices are referenced, not copied.
func NewPosition(t []float64, coords [][]float64, speed []float64, rate float64) (*Position, error) {
	p := &Position{T: t, Coords: coords, Speed: speed, SamplingRate: rate}
	if len(coords) == 0 {
		return nil, pferr.Configf("position has no coordinate columns")
	}
	for d, c := range coords {
		if len(c) != len(t) {
			return nil, pferr.Configf("coordinate column %d has %d values for %d timestamps", d, len(c), len(t))
		}
	}
	if speed != nil && len(speed) != len(t) {
		return nil, pferr.Configf("%d speed values for %d timestamps", len(speed), len(t))
	}
	if !sort.Float64sAreSorted(t) {
		return nil, pferr.Dataf("position timestamps are not sorted")
	}
	if !(p.SamplingRate > 0) {
		p.SamplingRate = EstimateSamplingRate(t)
	}
	if p.Speed == nil {
		p.Speed = ComputeSpeed(t, coords, p.SamplingRate)
	}
	return p, nil
}

// NDim returns the number of coordinate columns.
func (p *Position) NDim() int { return len(p.Coords) }

// Len returns the number of samples.
func (p *Position) Len() int { return len(p.T) }

// SampleRate returns the sampling rate in Hz.
func (p *Position) SampleRate() float64 { return p.SamplingRate }

// TStart returns the first timestamp, or NaN when empty.
func (p *Position) TStart() float64 {
	if len(p.T) == 0 {
		return math.NaN()
	}
	return p.T[0]
}

// TStop returns the last timestamp, or NaN when empty.
func (p *Position) TStop() float64 {
	if len(p.T) == 0 {
		return math.NaN()
	}
	return p.T[len(p.T)-1]
}

// Samples exposes the columns.
func (p *Position) Samples() (t []float64, coords [][]float64, speed []float64) {
	return p.T, p.Coords, p.Speed
}

// Subset returns a copy holding only the samples at idx, in idx order.
func (p *Position) Subset(idx []int) *Position {
	out := &Position{
		T:            make([]float64, len(idx)),
		Coords:       make([][]float64, len(p.Coords)),
		SamplingRate: p.SamplingRate,
	}
	for d := range p.Coords {
		out.Coords[d] = make([]float64, len(idx))
	}
	if p.Speed != nil {
		out.Speed = make([]float64, len(idx))
	}
	for k, i := range idx {
		out.T[k] = p.T[i]
		for d := range p.Coords {
			out.Coords[d][k] = p.Coords[d][i]
		}
		if p.Speed != nil {
			out.Speed[k] = p.Speed[i]
		}
	}
	return out
}

// TimeSliced keeps the samples that fall inside any of the normalised epochs.
func (p *Position) TimeSliced(eps []epochs.Epoch) *Position {
	return p.Subset(epochs.Slice(eps, p.T))
}

// DropNaN removes samples with a NaN timestamp or coordinate.
func (p *Position) DropNaN() *Position {
	keep := make([]int, 0, len(p.T))
	for i := range p.T {
		if validSample(p.T, p.Coords, i) {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(p.T) {
		return p
	}
	return p.Subset(keep)
}

// Truncated returns a view of the first n coordinate columns.
func (p *Position) Truncated(n int) (*Position, error) {
	if n < 1 || n > len(p.Coords) {
		return nil, pferr.Configf("cannot keep %d of %d position dimensions", n, len(p.Coords))
	}
	out := *p
	out.Coords = p.Coords[:n]
	return &out, nil
}

// String summarises the stream.
func (p *Position) String() string {
	return fmt.Sprintf("Position{ndim=%d, n=%d, rate=%.3gHz, t=[%.3f, %.3f]}",
		p.NDim(), p.Len(), p.SamplingRate, p.TStart(), p.TStop())
}

// EstimateSamplingRate returns 1 / median(diff(t)), or 0 when fewer than two
// distinct timestamps exist.
func EstimateSamplingRate(t []float64) float64 {
	if len(t) < 2 {
		return 0
	}
	dt := make([]float64, 0, len(t)-1)
	for i := 1; i < len(t); i++ {
		if d := t[i] - t[i-1]; d > 0 {
			dt = append(dt, d)
		}
	}
	if len(dt) == 0 {
		return 0
	}
	sort.Float64s(dt)
	return 1 / stat.Quantile(0.5, stat.Empirical, dt, nil)
}

// ComputeSpeed derives instantaneous speed from successive displacements. The
// first sample has speed 0. When rate is positive the step duration is 1/rate,
// otherwise the timestamp differences are used. Samples with a NaN timestamp
// or coordinate get NaN speed and are skipped, so the sample after a gap is
// measured from the last valid one.
func ComputeSpeed(t []float64, coords [][]float64, rate float64) []float64 {
	n := len(t)
	speed := make([]float64, n)
	step := make([]float64, len(coords))
	prev := -1
	for i := 0; i < n; i++ {
		if !validSample(t, coords, i) {
			speed[i] = math.NaN()
			continue
		}
		if prev < 0 {
			prev = i
			continue
		}
		for d := range coords {
			step[d] = coords[d][i] - coords[d][prev]
		}
		dt := t[i] - t[prev]
		if rate > 0 {
			dt = 1 / rate
		}
		prev = i
		if dt <= 0 {
			continue
		}
		speed[i] = floats.Norm(step, 2) / dt
	}
	return speed
}

func validSample(t []float64, coords [][]float64, i int) bool {
	if math.IsNaN(t[i]) {
		return false
	}
	for d := range coords {
		if math.IsNaN(coords[d][i]) {
			return false
		}
	}
	return true
}
