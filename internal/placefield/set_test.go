package placefield

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/epochs"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
	"github.com/banshee-data/placefields/internal/testutil"
)

// trackParams bins [0,10) into unit bins without smoothing.
func trackParams() Params {
	return DefaultParams().
		WithBinSize(1).
		WithBinBounds(binning.Bounds{Min: 0, Max: 10}).
		WithSmoothingSigma(0)
}

// binFiveRecording is a uniformly covered [0,10) track at 10Hz. Neuron 7
// fires at every sample in bin 5; neuron 3 fires once in bin 0, a peak of
// exactly 1Hz.
func binFiveRecording() (*testutil.Track, *testutil.Train) {
	track := testutil.LinearTrack(100, 10, 10, 1)
	train := (&testutil.Train{}).
		FireWhere(track, 7, testutil.InBin(0, 5, 6)).
		Fire(3, 0.5)
	return track, train
}

func computed(t *testing.T, track *testutil.Track, train *testutil.Train, eps []epochs.Epoch, p Params) *Set {
	t.Helper()
	s, err := NewComputed(context.Background(), track, train, eps, p, DefaultPolicy())
	require.NoError(t, err)
	return s
}

func TestSet_SingleBinNeuron(t *testing.T) {
	track, train := binFiveRecording()
	s := computed(t, track, train, nil, trackParams())

	assert.Equal(t, Computed, s.State())
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, s.Edges().Edges[0])

	rm, err := s.Ratemap()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, rm.CandidateIDs)
	assert.Equal(t, []int{7}, rm.NeuronIDs, "a 1Hz peak is not above a 1Hz threshold")

	m := rm.Maps[0]
	assert.Equal(t, 5, m.UnsmoothedTuning.ArgMax())
	for i, v := range m.UnsmoothedTuning.Data() {
		if i == 5 {
			assert.InDelta(t, 10.0, v, 1e-9)
		} else {
			assert.Zero(t, v, "bin %d", i)
		}
	}
	assert.Len(t, rm.SpikeTimes[0], 10)
	assert.InDelta(t, 5.05, rm.SpikePositions[0][0][0], 1e-9)

	occ, err := s.Occupancy()
	require.NoError(t, err)
	assert.InDelta(t, 10.0, occ.TotalSeconds(), 1e-9)

	ids, err := s.IncludedNeuronIDs()
	require.NoError(t, err)
	assert.Equal(t, []int{7}, ids)
}

func TestSet_SpeedFilterAppliesToBothStreams(t *testing.T) {
	// Epoch A runs at speed 10, epoch B at speed 2.
	track := testutil.LinearTrack(100, 10, 10, 2).SetSpeed(0, 5, 10)
	train := (&testutil.Train{}).
		FireWhere(track, 1, testutil.InBin(0, 1, 2)).
		FireWhere(track, 2, testutil.InBin(0, 6, 7))
	eps := []epochs.Epoch{
		{Start: 0, Stop: 5, Label: "A"},
		{Start: 5, Stop: 10, Label: "B"},
	}
	p := trackParams().WithSpeedThreshold(ptr(5.0))
	s := computed(t, track, train, eps, p)

	pos := s.FilteredPosition()
	require.Equal(t, 50, len(pos.T))
	for _, ts := range pos.T {
		assert.GreaterOrEqual(t, ts, 5.0)
	}
	sp := s.FilteredSpikes()
	assert.Equal(t, 10, sp.Len())
	assert.Equal(t, []int{2}, sp.NeuronIDs())

	kept := s.SpeedFilteredEpochs()
	require.Len(t, kept, 1)
	assert.Equal(t, "B", kept[0].Label)
	assert.Equal(t, 5.0, kept[0].Start)
	assert.Equal(t, 50, kept[0].NSamples)
}

func TestSet_NoSpikesAfterFilter(t *testing.T) {
	track := testutil.LinearTrack(100, 10, 10, 10)
	train := (&testutil.Train{}).FireWhere(track, 1, testutil.InBin(0, 1, 2))
	s, err := New(track, train, nil, trackParams(), DefaultPolicy())
	require.NoError(t, err)

	err = s.Setup()
	assert.True(t, errors.Is(err, pferr.ErrData), "got %v", err)
	assert.Equal(t, Uninitialized, s.State())
}

func TestSet_ShapeInvariant2D(t *testing.T) {
	track := testutil.GridTrack(10, 5, 50, 10, 5, 1)
	train := (&testutil.Train{}).
		FireWhere(track, 1, testutil.InBin(0, 2, 3)).
		FireWhere(track, 2, testutil.InBin(1, 1, 2))
	p := DefaultParams().
		WithBinSize(1).
		WithBinBounds(binning.Bounds{Min: 0, Max: 10}, binning.Bounds{Min: 0, Max: 5}).
		WithSmoothingSigma(1)
	s := computed(t, track, train, nil, p)

	assert.Equal(t, 2, s.NDim())
	rm, err := s.Ratemap()
	require.NoError(t, err)
	want := []int{10, 5}
	assert.Equal(t, want, rm.Shape())
	assert.Equal(t, want, rm.Occupancy.Shape())
	require.Equal(t, []int{1, 2}, rm.NeuronIDs)
	for _, m := range rm.Maps {
		for _, nd := range []interface{ Shape() []int }{m.Tuning, m.UnsmoothedTuning, m.SpikeMap, m.UnsmoothedSpikeMap} {
			assert.Equal(t, want, nd.Shape())
		}
		testutil.AssertFinite(t, m.Tuning.Data())
	}
	assert.Equal(t, []float64{1, 1}, s.PosBinSize())
	assert.Equal(t, []float64{0.5, 1.5, 2.5, 3.5, 4.5}, s.BinCenters(1))
	assert.Nil(t, s.BinCenters(2))
	assert.Equal(t, "pf2D-speedThresh_3.00-gridBin_1.00_1.00-smooth_1.00_1.00-frateThresh_1.00", s.FilenameString())
}

func TestSet_ProjectToLowerDimension(t *testing.T) {
	track := testutil.GridTrack(10, 5, 50, 10, 5, 1)
	train := (&testutil.Train{}).FireWhere(track, 1, func(c []float64) bool {
		return c[0] >= 2 && c[0] < 4 && c[1] >= 3
	})
	p := DefaultParams().
		WithBinSize(1).
		WithBinBounds(binning.Bounds{Min: 0, Max: 10}, binning.Bounds{Min: 0, Max: 5}).
		WithSmoothingSigma(1, 0.5)
	s := computed(t, track, train, nil, p)
	rm2, err := s.Ratemap()
	require.NoError(t, err)

	p1, err := s.ProjectToLowerDimension()
	require.NoError(t, err)
	assert.Equal(t, 1, p1.NDim())
	assert.Equal(t, Computed, p1.State())
	assert.Equal(t, []float64{1}, p1.Params().SmoothingSigma)

	rm1, err := p1.Ratemap()
	require.NoError(t, err)
	assert.Equal(t, []int{10}, rm1.Shape())
	src, dst := rm2.Maps[0].Tuning, rm1.Maps[0].Tuning
	for x := 0; x < 10; x++ {
		want := math.Inf(-1)
		for y := 0; y < 5; y++ {
			want = math.Max(want, src.At(x, y))
		}
		assert.Equal(t, want, dst.At(x), "bin %d", x)
	}

	_, err = p1.ProjectToLowerDimension()
	assert.True(t, errors.Is(err, pferr.ErrConfiguration))
}

func TestSet_LifecycleErrors(t *testing.T) {
	track, train := binFiveRecording()
	s, err := New(track, train, nil, trackParams(), DefaultPolicy())
	require.NoError(t, err)

	_, err = s.Ratemap()
	assert.ErrorIs(t, err, pferr.ErrNotComputed)
	_, err = s.IncludedNeuronIDs()
	assert.ErrorIs(t, err, pferr.ErrNotComputed)
	_, err = s.ProjectToLowerDimension()
	assert.ErrorIs(t, err, pferr.ErrNotComputed)
	assert.ErrorIs(t, s.Compute(context.Background()), pferr.ErrNotFiltered)
	assert.Nil(t, s.FilteredPosition())

	require.NoError(t, s.Setup())
	assert.Equal(t, Filtered, s.State())
	_, err = s.NeverVisited()
	assert.ErrorIs(t, err, pferr.ErrNotComputed)

	require.NoError(t, s.Compute(context.Background()))
	mask, err := s.NeverVisited()
	require.NoError(t, err)
	assert.NotContains(t, mask, true)
}

func TestNew_RejectsBadInput(t *testing.T) {
	track, train := binFiveRecording()

	_, err := New(nil, train, nil, trackParams(), DefaultPolicy())
	assert.ErrorIs(t, err, pferr.ErrConfiguration)

	_, err = New(track, train, nil, trackParams().WithBinCount(4).WithBinSize(), DefaultPolicy())
	assert.ErrorIs(t, err, pferr.ErrConfiguration, "neither size nor count")

	bad := &testutil.Train{T: []float64{1, 2}, IDs: []int{1}}
	_, err = New(track, bad, nil, trackParams(), DefaultPolicy())
	assert.ErrorIs(t, err, pferr.ErrConfiguration)

	_, err = New(track, train, []epochs.Epoch{{Start: 2, Stop: 1}}, trackParams(), DefaultPolicy())
	assert.ErrorIs(t, err, pferr.ErrConfiguration)
}

func TestSet_NaNPositionsDropped(t *testing.T) {
	track, train := binFiveRecording()
	track.X[0][20] = math.NaN()
	s := computed(t, track, train, nil, trackParams())

	assert.Equal(t, 99, s.Position().Len())
	occ, err := s.Occupancy()
	require.NoError(t, err)
	assert.InDelta(t, 9, occ.RawCounts.At(2), 1e-12)
}

func TestSet_NaNRowDoesNotHideNextSampleFromSpeedFilter(t *testing.T) {
	track, train := binFiveRecording()
	track.Speed = nil
	track.X[0][20] = math.NaN()
	s := computed(t, track, train, nil, trackParams())

	assert.Equal(t, 99, s.Position().Len())
	occ, err := s.Occupancy()
	require.NoError(t, err)
	assert.InDelta(t, 9, occ.RawCounts.At(2), 1e-12, "sample 21 follows the gap and must survive")
}

func TestSet_ReconfigureFailureKeepsState(t *testing.T) {
	track, train := binFiveRecording()
	s := computed(t, track, train, nil, trackParams())
	before, err := s.Ratemap()
	require.NoError(t, err)
	edges := s.Edges()

	// Two bin sizes for a 1-D track cannot be resolved.
	err = s.Reconfigure(trackParams().WithBinSize(1, 1))
	require.ErrorIs(t, err, pferr.ErrConfiguration)

	assert.Equal(t, Computed, s.State())
	after, err := s.Ratemap()
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.True(t, edges.Equal(s.Edges()))
}

func TestSet_Reconfigure(t *testing.T) {
	track, train := binFiveRecording()
	s := computed(t, track, train, nil, trackParams())

	require.NoError(t, s.Reconfigure(trackParams().WithBinSize(2)))
	assert.Equal(t, Filtered, s.State())
	assert.Equal(t, []int{5}, s.Edges().Shape())

	require.NoError(t, s.Compute(context.Background()))
	rm, err := s.Ratemap()
	require.NoError(t, err)
	// Bin 2 now spans [4,6): 10 spikes over 2s.
	assert.InDelta(t, 5.0, rm.Maps[0].UnsmoothedTuning.At(2), 1e-9)
}

func TestSet_GetByID(t *testing.T) {
	track, train := binFiveRecording()
	s := computed(t, track, train, nil, trackParams().WithRateThreshold(0))

	sub, err := s.GetByID(context.Background(), []int{3})
	require.NoError(t, err)
	rm, err := sub.Ratemap()
	require.NoError(t, err)
	assert.Equal(t, []int{3}, rm.CandidateIDs)
	assert.Equal(t, []int{3}, rm.NeuronIDs)
	assert.True(t, s.Edges().Equal(sub.Edges()))

	orig, err := s.IncludedNeuronIDs()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, orig, "receiver is untouched")

	_, err = s.GetByID(context.Background(), []int{42})
	assert.ErrorIs(t, err, pferr.ErrData)
}

func TestSet_ReplacingComputationEpochs(t *testing.T) {
	track, train := binFiveRecording()
	s := computed(t, track, train, nil, trackParams().WithRateThreshold(0))

	first, err := s.ReplacingComputationEpochs(context.Background(), []epochs.Epoch{{Start: 0, Stop: 5}})
	require.NoError(t, err)
	ids, err := first.IncludedNeuronIDs()
	require.NoError(t, err)
	assert.Equal(t, []int{3}, ids)
	assert.Equal(t, []epochs.Epoch{{Start: 0, Stop: 5}}, first.ComputationEpochs())

	occ, err := first.Occupancy()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, occ.TotalSeconds(), 1e-9)
	assert.Empty(t, s.ComputationEpochs(), "receiver is untouched")
}

func TestSet_ConformToBins(t *testing.T) {
	ctx := context.Background()
	track, train := binFiveRecording()
	fine := computed(t, track, train, nil, trackParams())
	coarse := computed(t, track, train, nil, trackParams().WithBinSize(2))

	changed, err := fine.ConformToBins(ctx, fine, false)
	require.NoError(t, err)
	assert.False(t, changed, "equal edges are a no-op")

	// Coarse cannot be refined without inventing resolution.
	coarseBefore, err := coarse.Ratemap()
	require.NoError(t, err)
	changed, err = coarse.ConformToBins(ctx, fine, false)
	require.ErrorIs(t, err, pferr.ErrConfiguration)
	assert.False(t, changed)
	coarseAfter, err := coarse.Ratemap()
	require.NoError(t, err)
	assert.Same(t, coarseBefore, coarseAfter)

	changed, err = fine.ConformToBins(ctx, coarse, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, fine.Edges().Equal(coarse.Edges()))
	assert.Equal(t, []float64{2}, fine.Params().BinSize)
	rm, err := fine.Ratemap()
	require.NoError(t, err)
	assert.Equal(t, []int{5}, rm.Shape())

	refined := computed(t, track, train, nil, trackParams())
	changed, err = coarse.ConformToBins(ctx, refined, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []int{10}, coarse.Edges().Shape())

	flat := computed(t, testutil.GridTrack(10, 5, 50, 10, 5, 1),
		(&testutil.Train{}).Fire(1, 0.1, 0.2), nil,
		trackParams().WithBinBounds(binning.Bounds{Min: 0, Max: 10}, binning.Bounds{Min: 0, Max: 5}).WithRateThreshold(0))
	_, err = fine.ConformToBins(ctx, flat, true)
	assert.ErrorIs(t, err, pferr.ErrConfiguration)
}

func TestSet_ConformToFinerBins(t *testing.T) {
	ctx := context.Background()
	track, train := binFiveRecording()
	long := computed(t, track, train, nil, trackParams())
	short := computed(t, track, train, nil, trackParams().WithBinSize(2))
	require.Equal(t, []int{5}, short.Edges().Shape())

	// A set with fewer bins takes on the finer edges.
	changed, err := short.ConformToFinerBins(ctx, long, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, short.Edges().Equal(long.Edges()))
	rm, err := short.Ratemap()
	require.NoError(t, err)
	assert.Equal(t, []int{10}, rm.Shape())
	assert.Equal(t, []int{7}, rm.NeuronIDs)
	assert.InDelta(t, 10.0, rm.Maps[0].UnsmoothedTuning.Data()[5], 1e-9)

	// The reverse direction leaves the finer set untouched.
	coarse := computed(t, track, train, nil, trackParams().WithBinSize(2))
	before, err := long.Ratemap()
	require.NoError(t, err)
	changed, err = long.ConformToFinerBins(ctx, coarse, false)
	require.NoError(t, err)
	assert.False(t, changed)
	after, err := long.Ratemap()
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.Equal(t, []int{10}, long.Edges().Shape())

	changed, err = long.ConformToFinerBins(ctx, coarse, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []int{5}, long.Edges().Shape())
}

func TestSet_BinPaddingWidensDerivedBounds(t *testing.T) {
	track, train := binFiveRecording()
	derived := DefaultParams().WithBinSize(1).WithSmoothingSigma(0)

	plain := computed(t, track, train, nil, derived)
	padded := computed(t, track, train, nil, derived.WithBinPadding(2))

	pe, xe := plain.Edges().Edges[0], padded.Edges().Edges[0]
	assert.LessOrEqual(t, xe[0], 0.05-2)
	assert.GreaterOrEqual(t, xe[len(xe)-1], 9.95+2)
	assert.Greater(t, pe[0], 0.05-2)
	assert.Greater(t, len(xe), len(pe))
	assert.Equal(t, []float64{2}, padded.Params().BinPadding)

	// Explicit bounds take precedence over padding.
	fixed := computed(t, track, train, nil, trackParams().WithBinPadding(2))
	assert.Equal(t, []int{10}, fixed.Edges().Shape())
}

func TestSet_SnapshotRestore(t *testing.T) {
	track, train := binFiveRecording()
	p := trackParams().WithSmoothingSigma(1)
	s := computed(t, track, train, nil, p)

	snap := s.Snapshot()
	assert.True(t, snap.FixedEdges)
	assert.Equal(t, 1, snap.NDim)

	restored, err := Restore(context.Background(), snap)
	require.NoError(t, err)
	want, err := s.Ratemap()
	require.NoError(t, err)
	got, err := restored.Ratemap()
	require.NoError(t, err)

	assert.Equal(t, want.NeuronIDs, got.NeuronIDs)
	assert.True(t, s.Params().Equal(restored.Params()))
	approx := cmpopts.EquateApprox(0, 1e-12)
	for i := range want.Maps {
		if diff := cmp.Diff(want.Maps[i].Tuning.Data(), got.Maps[i].Tuning.Data(), approx); diff != "" {
			t.Errorf("tuning map %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	snap.NDim = 3
	_, err = Restore(context.Background(), snap)
	assert.ErrorIs(t, err, pferr.ErrConfiguration)
}

func TestSet_ConcurrentReadersSeeWholeStates(t *testing.T) {
	track, train := binFiveRecording()
	s := computed(t, track, train, nil, trackParams())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(size float64) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := s.Reconfigure(trackParams().WithBinSize(size)); err != nil {
					t.Error(err)
					return
				}
				if err := s.Compute(context.Background()); err != nil {
					t.Error(err)
					return
				}
			}
		}(float64(i%2 + 1))
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rm, err := s.Ratemap()
				if err != nil {
					continue
				}
				if got, want := rm.Maps[0].Tuning.Shape()[0], rm.Edges.Shape()[0]; got != want {
					t.Errorf("map has %d bins, edges have %d", got, want)
				}
			}
		}()
	}
	wg.Wait()
}

func ptr[T any](v T) *T { return &v }
