package tuning

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/ndmap"
	"github.com/banshee-data/placefields/internal/placefield/occupancy"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
)

func trackEdges(t *testing.T) binning.Edges {
	t.Helper()
	e, err := binning.Bin([]binning.Bounds{{Min: 0, Max: 10}}, []binning.Spec{{Size: 1}})
	require.NoError(t, err)
	return e
}

// uniformTrack samples [0,10) ten times per bin at 10Hz.
func uniformTrack() []float64 {
	xs := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		xs = append(xs, float64(i)/10+0.05)
	}
	return xs
}

func assertFinite(t *testing.T, m *ndmap.Map) {
	t.Helper()
	for i, v := range m.Data() {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "bin %d is %v", i, v)
	}
}

func TestCompute_SingleBinNeuron(t *testing.T) {
	edges := trackEdges(t)
	xs := uniformTrack()
	occ, err := occupancy.Compute([][]float64{xs}, edges, 10, nil)
	require.NoError(t, err)

	var spikes []float64
	for _, x := range xs {
		if x >= 5 && x < 6 {
			spikes = append(spikes, x)
		}
	}
	m, err := Compute([][]float64{spikes}, edges, occ.Seconds, []float64{2}, Policy{})
	require.NoError(t, err)

	assert.Equal(t, 5, m.UnsmoothedTuning.ArgMax())
	for i, v := range m.UnsmoothedTuning.Data() {
		if i == 5 {
			assert.InDelta(t, 10.0, v, 1e-9, "10 spikes over 1s")
		} else {
			assert.Equal(t, 0.0, v, "bin %d", i)
		}
	}
	assert.Equal(t, m.UnsmoothedTuning.Data(), m.Tuning.Data(), "final smoothing disabled")
	assert.Same(t, m.UnsmoothedSpikeMap, m.SpikeMap)
}

func TestCompute_ZeroOccupancyClosure(t *testing.T) {
	edges := trackEdges(t)
	// Bins 3 and 7 are never visited; a stray spike lands in bin 7 anyway.
	var xs []float64
	for _, x := range uniformTrack() {
		if int(x) != 3 && int(x) != 7 {
			xs = append(xs, x)
		}
	}
	occ, err := occupancy.Compute([][]float64{xs}, edges, 10, nil)
	require.NoError(t, err)
	before := append([]float64(nil), occ.Seconds.Data()...)

	m, err := Compute([][]float64{{1.5, 7.5, 8.5}}, edges, occ.Seconds, []float64{1}, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.UnsmoothedTuning.At(3))
	assert.Equal(t, 0.0, m.UnsmoothedTuning.At(7))
	assert.Equal(t, 1.0, m.UnsmoothedSpikeMap.At(7))
	assertFinite(t, m.Tuning)
	assertFinite(t, m.UnsmoothedTuning)
	assertFinite(t, m.SpikeMap)
	assert.Equal(t, before, occ.Seconds.Data(), "occupancy must not leak the sentinel")
}

// Final smoothing runs after the division, so rate spreads into unvisited
// bins; only the unsmoothed map and an unsmoothed tuning map keep them at zero.
func TestCompute_SmoothedTuningSpreadsIntoUnvisitedBins(t *testing.T) {
	edges := trackEdges(t)
	var xs []float64
	for _, x := range uniformTrack() {
		if int(x) != 3 {
			xs = append(xs, x)
		}
	}
	occ, err := occupancy.Compute([][]float64{xs}, edges, 10, nil)
	require.NoError(t, err)
	require.Zero(t, occ.Seconds.At(3))
	spikes := [][]float64{{2.5, 2.5, 4.5, 4.5}}

	m, err := Compute(spikes, edges, occ.Seconds, []float64{1}, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.UnsmoothedTuning.At(3))
	assert.Greater(t, m.Tuning.At(3), 0.0)
	assertFinite(t, m.Tuning)

	m, err = Compute(spikes, edges, occ.Seconds, []float64{1}, Policy{SmoothSpikeMap: true})
	require.NoError(t, err)
	assert.Greater(t, m.SpikeMap.At(3), 0.0)
	assert.Equal(t, 0.0, m.Tuning.At(3))
	assert.Equal(t, 0.0, m.UnsmoothedTuning.At(3))
}

func TestCompute_AllZeroOccupancy(t *testing.T) {
	edges := trackEdges(t)
	m, err := Compute([][]float64{{2.5}}, edges, ndmap.New(10), []float64{1}, Policy{SmoothSpikeMap: true, SmoothTuningMap: true})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Tuning.Sum())
	assert.Equal(t, 0.0, m.UnsmoothedTuning.Sum())
	assertFinite(t, m.SpikeMap)
}

func TestCompute_PolicyFlags(t *testing.T) {
	edges := trackEdges(t)
	occ, err := occupancy.Compute([][]float64{uniformTrack()}, edges, 10, nil)
	require.NoError(t, err)
	spikes := [][]float64{{5.5, 5.5, 5.5}}

	smoothSpikes, err := Compute(spikes, edges, occ.Seconds, []float64{1}, Policy{SmoothSpikeMap: true})
	require.NoError(t, err)
	assert.Greater(t, smoothSpikes.SpikeMap.At(4), 0.0)
	assert.Equal(t, 0.0, smoothSpikes.UnsmoothedSpikeMap.At(4))
	assert.Equal(t, 0.0, smoothSpikes.UnsmoothedTuning.At(4), "unsmoothed tuning is never smoothed")

	final, err := Compute(spikes, edges, occ.Seconds, []float64{1}, DefaultPolicy())
	require.NoError(t, err)
	assert.Greater(t, final.Tuning.At(4), 0.0)
	assert.Equal(t, 0.0, final.SpikeMap.At(4))

	none, err := Compute(spikes, edges, occ.Seconds, []float64{0}, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, none.UnsmoothedTuning.Data(), none.Tuning.Data())
}

func TestCompute_ShapeInvariance2D(t *testing.T) {
	edges, err := binning.Bin(
		[]binning.Bounds{{Min: 0, Max: 4}, {Min: 0, Max: 3}},
		[]binning.Spec{{Size: 1}, {Size: 1}})
	require.NoError(t, err)
	xs := []float64{0.5, 1.5, 2.5, 3.5, 0.5, 1.5}
	ys := []float64{0.5, 0.5, 1.5, 2.5, 2.5, 1.5}
	occ, err := occupancy.Compute([][]float64{xs, ys}, edges, 30, nil)
	require.NoError(t, err)

	m, err := Compute([][]float64{{1.5}, {1.5}}, edges, occ.Seconds, []float64{1, 1}, DefaultPolicy())
	require.NoError(t, err)
	for _, mm := range []*ndmap.Map{m.Tuning, m.UnsmoothedTuning, m.SpikeMap, m.UnsmoothedSpikeMap} {
		assert.Equal(t, occ.Seconds.Shape(), mm.Shape())
	}
	assert.InDelta(t, 30.0, m.UnsmoothedTuning.At(1, 1), 1e-9)
}

func TestCompute_ShapeMismatch(t *testing.T) {
	_, err := Compute([][]float64{{1}}, trackEdges(t), ndmap.New(4), nil, Policy{})
	assert.Error(t, err)
}

func TestComputeAll_OrderIsStable(t *testing.T) {
	edges := trackEdges(t)
	occ, err := occupancy.Compute([][]float64{uniformTrack()}, edges, 10, nil)
	require.NoError(t, err)

	inputs := make([]Input, 12)
	for i := range inputs {
		inputs[i] = Input{NeuronID: 100 + i, SpikeCoords: [][]float64{{float64(i%10) + 0.5}}}
	}
	maps, err := ComputeAll(context.Background(), inputs, edges, occ.Seconds, nil, Policy{}, 3)
	require.NoError(t, err)
	require.Len(t, maps, len(inputs))
	for i, m := range maps {
		assert.Equal(t, i%10, m.UnsmoothedTuning.ArgMax(), "neuron %d", i)
	}
}

func TestComputeAll_PropagatesError(t *testing.T) {
	edges := trackEdges(t)
	inputs := []Input{{NeuronID: 1, SpikeCoords: [][]float64{{1}, {2}}}}
	_, err := ComputeAll(context.Background(), inputs, edges, ndmap.New(10), nil, Policy{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neuron 1")
}

func TestSelect_StrictThreshold(t *testing.T) {
	s := SelectPeaks([]float64{1.0, 1.0000001, 0.5, math.NaN(), 3}, 1.0)
	assert.Equal(t, []int{1, 4}, s.Included)
	assert.Equal(t, 5, s.Total)
}

func TestSelect_Monotonic(t *testing.T) {
	peaks := []float64{0, 0.2, 0.9, 1.5, 1.5, 2.7, 4, 10}
	thresholds := []float64{-1, 0, 0.2, 1, 1.5, 3, 10, 11}
	prev := SelectPeaks(peaks, thresholds[0])
	for _, th := range thresholds[1:] {
		cur := SelectPeaks(peaks, th)
		assert.Subset(t, prev.Included, cur.Included, "threshold %v", th)
		prev = cur
	}
}

func TestProject(t *testing.T) {
	s := Selection{Included: []int{0, 2}, Total: 3}
	ids, err := Project(s, []int{7, 8, 9})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 9}, ids)

	names := Projector[string](s)
	got, err := names([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, got)

	_, err = Project(s, []int{1})
	assert.True(t, errors.Is(err, pferr.ErrConfiguration))
}

func TestSelect_UsesSmoothedPeak(t *testing.T) {
	a, _ := ndmap.FromData([]int{3}, []float64{0, 1, 0})
	b, _ := ndmap.FromData([]int{3}, []float64{0, 2, 0})
	s := Select([]*Map{{Tuning: a}, {Tuning: b}}, 1)
	assert.Equal(t, []int{1}, s.Included)
}
