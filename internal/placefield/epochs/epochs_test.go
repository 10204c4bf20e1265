package epochs

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/placefields/internal/placefield/pferr"
)

func ptr(v float64) *float64 { return &v }

func TestNormalize(t *testing.T) {
	in := []Epoch{
		{Start: 5, Stop: 7, Label: "c"},
		{Start: 0, Stop: 2, Label: "a"},
		{Start: 1, Stop: 3, Label: "b"},
		{Start: 3, Stop: 4, Label: "touch"},
		{Start: 9, Stop: 9, Label: "empty"},
	}
	out, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, []Epoch{
		{Start: 0, Stop: 3, Label: "a"},
		{Start: 3, Stop: 4, Label: "touch"},
		{Start: 5, Stop: 7, Label: "c"},
	}, out)
	assert.True(t, IsNormalized(out))
	assert.False(t, IsNormalized(in))
	assert.Equal(t, "c", in[0].Label, "input must not be reordered")
}

func TestNormalize_RejectsInverted(t *testing.T) {
	_, err := Normalize([]Epoch{{Start: 2, Stop: 1}})
	assert.True(t, errors.Is(err, pferr.ErrConfiguration))
	_, err = Normalize([]Epoch{{Start: math.NaN(), Stop: 1}})
	assert.True(t, errors.Is(err, pferr.ErrConfiguration))
}

func TestLocateAndSlice(t *testing.T) {
	eps := []Epoch{{Start: 0, Stop: 1}, {Start: 2, Stop: 3}}
	ts := []float64{-1, 0, 0.5, 1, 2.5, 3, 10}
	assert.Equal(t, []int{-1, 0, 0, -1, 1, -1, -1}, Locate(eps, ts))
	assert.Equal(t, []int{1, 2, 4}, Slice(eps, ts))
}

func TestSpan_IncludesLastSample(t *testing.T) {
	e := Span(0, 10, "all")
	assert.True(t, e.Contains(10))
	assert.False(t, e.Contains(10.0001))
}

// twoEpochTrack has epoch A over [0,5) at speed 10 and epoch B over [5,10) at
// speed 2, sampled every 0.5s.
func twoEpochTrack() ([]Epoch, []float64, []float64) {
	var ts, speed []float64
	for i := 0; i < 20; i++ {
		t := float64(i) * 0.5
		ts = append(ts, t)
		if t < 5 {
			speed = append(speed, 10)
		} else {
			speed = append(speed, 2)
		}
	}
	return []Epoch{{Start: 0, Stop: 5, Label: "A"}, {Start: 5, Stop: 10, Label: "B"}}, ts, speed
}

func TestFilterBySpeed_DropsFastEpoch(t *testing.T) {
	eps, ts, speed := twoEpochTrack()
	res, err := FilterBySpeed(eps, ts, speed, ptr(5))
	require.NoError(t, err)
	require.Len(t, res.Epochs, 1)
	b := res.Epochs[0]
	assert.Equal(t, "B", b.Label)
	assert.Equal(t, 5.0, b.Start)
	assert.Equal(t, 10, b.NSamples)
	assert.True(t, b.Contains(9.5))
	assert.Len(t, res.Retained, 10)
	assert.Equal(t, 10, res.Retained[0])

	// Spikes sliced by the derived epochs follow the same rule.
	spikes := []float64{0.1, 2.2, 4.9, 5.0, 7.3, 9.5}
	assert.Equal(t, []int{3, 4, 5}, Slice(res.Epochs, spikes))
}

func TestFilterBySpeed_ThresholdIsExclusive(t *testing.T) {
	res, err := FilterBySpeed([]Epoch{{Start: 0, Stop: 10}}, []float64{0, 1, 2}, []float64{4.9, 5, math.NaN()}, ptr(5))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Retained)
}

func TestFilterBySpeed_NilThresholdKeepsEverythingInEpochs(t *testing.T) {
	eps, ts, speed := twoEpochTrack()
	res, err := FilterBySpeed(eps, ts, speed, nil)
	require.NoError(t, err)
	assert.Len(t, res.Epochs, 2)
	assert.Len(t, res.Retained, len(ts))
}

func TestFilterBySpeed_Idempotent(t *testing.T) {
	ts := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	speed := []float64{1, 8, 1, 1, 9, 2, 2, 7, 1, 1}
	eps := []Epoch{{Start: 0, Stop: 4.5}, {Start: 5, Stop: 20}}

	first, err := FilterBySpeed(eps, ts, speed, ptr(5))
	require.NoError(t, err)
	second, err := FilterBySpeed(first.Epochs, ts, speed, ptr(5))
	require.NoError(t, err)
	assert.Equal(t, first.Retained, second.Retained)
	assert.Equal(t, first.Epochs, second.Epochs)
}

func TestFilterBySpeed_EmptyIsDataError(t *testing.T) {
	eps, ts, speed := twoEpochTrack()
	_, err := FilterBySpeed(eps, ts, speed, ptr(1))
	assert.True(t, errors.Is(err, pferr.ErrData))
}

func TestFilterBySpeed_SpeedLengthMismatch(t *testing.T) {
	_, err := FilterBySpeed([]Epoch{{Start: 0, Stop: 1}}, []float64{0, 0.5}, []float64{1}, ptr(5))
	assert.True(t, errors.Is(err, pferr.ErrConfiguration))
}
