package placefield

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/placefields/internal/monitoring"
	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/epochs"
	"github.com/banshee-data/placefields/internal/placefield/ndmap"
	"github.com/banshee-data/placefields/internal/placefield/occupancy"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
	"github.com/banshee-data/placefields/internal/placefield/tuning"
	"github.com/banshee-data/placefields/internal/recording"
)

// PositionSource is the view of a tracked position stream a Set consumes.
// Coordinates are column-major: coords[d][i] is dimension d of sample i.
type PositionSource interface {
	NDim() int
	SampleRate() float64
	Samples() (t []float64, coords [][]float64, speed []float64)
}

// SpikeSource is the view of a spike stream a Set consumes.
type SpikeSource interface {
	Events() (t []float64, ids []int)
}

// unitTabler is implemented by spike sources that describe their units.
type unitTabler interface {
	UnitTable() []recording.Unit
}

// state is everything a Set owns. A state is never modified once published;
// mutations work on a clone.
type state struct {
	phase  State
	params Params
	policy Policy

	position *recording.Position
	spikes   *recording.Spikes
	// epochs are the normalised computation epochs; empty means the whole
	// position range.
	epochs []epochs.Epoch

	// pseudoDims counts trailing categorical dimensions added by a
	// directional merge. They are looked up, not interpolated, and never
	// smoothed.
	pseudoDims int
	// fixedEdges keeps edges across Setup instead of re-deriving them.
	fixedEdges bool

	// Filtered
	ndim           int
	speedEpochs    []epochs.Epoch
	filteredPos    *recording.Position
	filteredSpikes *recording.Spikes
	edges          binning.Edges
	binned         [][]int

	// Computed
	ratemap *Ratemap
}

func (st *state) clone() *state {
	c := *st
	return &c
}

// Set is a place field set: the filtered inputs, their bin edges and the
// per-neuron maps computed from them. A Set is safe for concurrent use;
// mutating methods are serialised and readers see either the previous or
// the new state, never a mix.
type Set struct {
	opMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

// New builds an Uninitialized set. Position rows with a NaN coordinate are
// dropped. eps may be empty, meaning the whole position time range.
func New(pos PositionSource, spikes SpikeSource, eps []epochs.Epoch, params Params, policy Policy) (*Set, error) {
	if pos == nil || spikes == nil {
		return nil, pferr.Configf("position and spikes are required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	t, coords, speed := pos.Samples()
	p, err := recording.NewPosition(t, coords, speed, pos.SampleRate())
	if err != nil {
		return nil, fmt.Errorf("position: %w", err)
	}
	if p.NDim() != pos.NDim() {
		return nil, pferr.Configf("position reports %d dimensions but has %d coordinate columns", pos.NDim(), p.NDim())
	}
	st, ids := spikes.Events()
	var units []recording.Unit
	if u, ok := spikes.(unitTabler); ok {
		units = u.UnitTable()
	}
	sp, err := recording.NewSpikes(st, ids, units)
	if err != nil {
		return nil, fmt.Errorf("spikes: %w", err)
	}
	norm, err := epochs.Normalize(eps)
	if err != nil {
		return nil, fmt.Errorf("epochs: %w", err)
	}
	return &Set{st: &state{
		params:   params.Clone(),
		policy:   policy,
		position: p.DropNaN(),
		spikes:   sp,
		epochs:   norm,
	}}, nil
}

// NewComputed is New followed by Setup and Compute.
func NewComputed(ctx context.Context, pos PositionSource, spikes SpikeSource, eps []epochs.Epoch, params Params, policy Policy) (*Set, error) {
	s, err := New(pos, spikes, eps, params, policy)
	if err != nil {
		return nil, err
	}
	if err := s.Setup(); err != nil {
		return nil, err
	}
	if err := s.Compute(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// mutate runs fn on a private clone and publishes it only if fn succeeds.
func (s *Set) mutate(fn func(*state) error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	next := s.current().clone()
	if err := fn(next); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = next
	s.mu.Unlock()
	return nil
}

// Setup resolves the dimensionality, applies the epoch and speed filter to
// both streams, derives bin edges and discretises the filtered positions.
// Any previous result is discarded; the set ends Filtered.
func (s *Set) Setup() error {
	return s.mutate(func(st *state) error { return st.setup() })
}

// Compute builds occupancy and per-neuron maps and applies the peak rate
// filter. Setup must have run.
func (s *Set) Compute(ctx context.Context) error {
	return s.mutate(func(st *state) error {
		if st.phase == Uninitialized {
			return pferr.ErrNotFiltered
		}
		return st.compute(ctx)
	})
}

func (st *state) setup() error {
	ndim := st.position.NDim()
	params, err := st.params.Resolve(ndim)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	pos := st.position
	if pos.Len() == 0 {
		return pferr.Dataf("position stream has no valid samples")
	}

	eps := st.epochs
	if len(eps) == 0 {
		eps = []epochs.Epoch{epochs.Span(pos.TStart(), pos.TStop(), "all")}
	}
	speed := pos.Speed
	if st.policy.SmoothSpeed && params.SmoothingSigma[0] > 0 {
		speed = ndmap.Smooth1D(speed, params.SmoothingSigma[0])
	}
	res, err := epochs.FilterBySpeed(eps, pos.T, speed, params.SpeedThreshold)
	if err != nil {
		return fmt.Errorf("speed filter: %w", err)
	}

	// Both streams are cut by the same derived spans so occupancy and spike
	// counts cover the same time.
	fpos := pos.TimeSliced(res.Epochs)
	fspikes := st.spikes.TimeSliced(res.Epochs)
	monitoring.Debugf("setup: %d/%d position samples, %d/%d spikes, %.3fs of %.3fs kept",
		fpos.Len(), pos.Len(), fspikes.Len(), st.spikes.Len(),
		epochs.TotalDuration(res.Epochs), epochs.TotalDuration(eps))
	if fspikes.Len() == 0 {
		return pferr.Dataf("no spikes left after epoch and speed filtering")
	}

	edges := st.edges
	if st.fixedEdges {
		if edges.NDim() != ndim {
			return pferr.Configf("fixed bin edges have %d dimensions, position has %d", edges.NDim(), ndim)
		}
	} else {
		bounds := params.BinBounds
		if bounds == nil {
			if bounds, err = binning.BoundsFromPositions(fpos.Coords, params.BinPadding); err != nil {
				return fmt.Errorf("bin bounds: %w", err)
			}
		}
		if edges, err = binning.Bin(bounds, params.binSpecs()); err != nil {
			return fmt.Errorf("binning: %w", err)
		}
	}
	binned, err := binning.Discretize(fpos.Coords, edges)
	if err != nil {
		return err
	}

	st.params = params
	st.ndim = ndim
	st.speedEpochs = res.Epochs
	st.filteredPos = fpos
	st.filteredSpikes = fspikes
	st.edges = edges
	st.binned = binned
	st.ratemap = nil
	st.phase = Filtered
	return nil
}

func (st *state) compute(ctx context.Context) error {
	start := time.Now()
	sigma := st.params.SmoothingSigma
	var occSigma []float64
	if st.policy.SmoothOccupancy {
		occSigma = sigma
	}
	occ, err := occupancy.Compute(st.filteredPos.Coords, st.edges, st.filteredPos.SamplingRate, occSigma)
	if err != nil {
		return err
	}

	ids := st.filteredSpikes.NeuronIDs()
	byNeuron := st.filteredSpikes.TimesByNeuron()
	inputs := make([]tuning.Input, len(ids))
	times := make([][]float64, len(ids))
	positions := make([][][]float64, len(ids))
	for i, id := range ids {
		ts := byNeuron[id]
		coords, err := st.spikeCoords(ts)
		if err != nil {
			return fmt.Errorf("neuron %d: %w", id, err)
		}
		inputs[i] = tuning.Input{NeuronID: id, SpikeCoords: coords}
		times[i] = ts
		positions[i] = coords
	}

	maps, err := tuning.ComputeAll(ctx, inputs, st.edges, occ.SmoothedSeconds, sigma, st.policy.tuning(), st.policy.MaxWorkers)
	if err != nil {
		return err
	}
	sel := tuning.Select(maps, st.params.RateThreshold)
	rm := &Ratemap{Edges: st.edges, Occupancy: occ, Selection: sel, CandidateIDs: ids}
	if err := errors.Join(
		project(sel, ids, &rm.NeuronIDs),
		project(sel, maps, &rm.Maps),
		project(sel, times, &rm.SpikeTimes),
		project(sel, positions, &rm.SpikePositions),
	); err != nil {
		return err
	}
	rm.ExtendedIDs = st.filteredSpikes.ExtendedIDs(rm.NeuronIDs)

	st.ratemap = rm
	st.phase = Computed
	monitoring.Since(start, "compute: %d of %d neurons above %.2fHz", sel.Len(), len(ids), st.params.RateThreshold)
	return nil
}

func project[T any](sel tuning.Selection, items []T, dst *[]T) error {
	out, err := tuning.Project(sel, items)
	*dst = out
	return err
}

// spikeCoords interpolates the filtered position at each spike time.
// Pseudo dimensions take the value of the latest sample instead.
func (st *state) spikeCoords(ts []float64) ([][]float64, error) {
	fp := st.filteredPos
	out := make([][]float64, len(fp.Coords))
	for d, col := range fp.Coords {
		var err error
		if d >= len(fp.Coords)-st.pseudoDims {
			out[d], err = ndmap.InterpPrevious(ts, fp.T, col)
		} else {
			out[d], err = ndmap.Interp(ts, fp.T, col)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// State returns the lifecycle phase.
func (s *Set) State() State { return s.current().phase }

// Params returns a copy of the parameters, resolved to the set's
// dimensionality once Setup has run.
func (s *Set) Params() Params { return s.current().params.Clone() }

// Policy returns the smoothing policy.
func (s *Set) Policy() Policy { return s.current().policy }

// NDim returns the spatial dimensionality, including pseudo dimensions.
func (s *Set) NDim() int { return s.current().position.NDim() }

// SamplingRate returns the position sampling rate in Hz.
func (s *Set) SamplingRate() float64 { return s.current().position.SamplingRate }

// Edges returns a copy of the bin edges. It is empty before Setup.
func (s *Set) Edges() binning.Edges { return s.current().edges.Clone() }

// BinCenters returns the bin centres of dimension d.
func (s *Set) BinCenters(d int) []float64 {
	e := s.current().edges
	if d < 0 || d >= e.NDim() {
		return nil
	}
	return e.Centers(d)
}

// PosBinSize returns the bin width of every dimension.
func (s *Set) PosBinSize() []float64 {
	e := s.current().edges
	out := make([]float64, e.NDim())
	for d := range out {
		out[d] = e.StepSize(d)
	}
	return out
}

// Ratemap returns the computed result.
func (s *Set) Ratemap() (*Ratemap, error) {
	st := s.current()
	if st.phase != Computed {
		return nil, pferr.ErrNotComputed
	}
	return st.ratemap, nil
}

// Occupancy returns the occupancy views of the computed result.
func (s *Set) Occupancy() (*occupancy.Result, error) {
	rm, err := s.Ratemap()
	if err != nil {
		return nil, err
	}
	return rm.Occupancy, nil
}

// NeverVisited returns the mask of bins without any position sample.
func (s *Set) NeverVisited() ([]bool, error) {
	occ, err := s.Occupancy()
	if err != nil {
		return nil, err
	}
	return occ.NeverVisited(), nil
}

// IncludedNeuronIDs returns the ids that passed the peak rate filter.
func (s *Set) IncludedNeuronIDs() ([]int, error) {
	rm, err := s.Ratemap()
	if err != nil {
		return nil, err
	}
	return append([]int(nil), rm.NeuronIDs...), nil
}

// IncludedExtendedIDs returns the (shank, cluster) ids of the included neurons.
func (s *Set) IncludedExtendedIDs() ([]recording.ExtendedID, error) {
	rm, err := s.Ratemap()
	if err != nil {
		return nil, err
	}
	return append([]recording.ExtendedID(nil), rm.ExtendedIDs...), nil
}

// Position returns the source position stream, NaN rows removed.
func (s *Set) Position() *recording.Position { return s.current().position }

// Spikes returns the source spike stream.
func (s *Set) Spikes() *recording.Spikes { return s.current().spikes }

// FilteredPosition returns the epoch- and speed-filtered positions, or nil
// before Setup.
func (s *Set) FilteredPosition() *recording.Position { return s.current().filteredPos }

// FilteredSpikes returns the epoch- and speed-filtered spikes, or nil before
// Setup.
func (s *Set) FilteredSpikes() *recording.Spikes { return s.current().filteredSpikes }

// BinnedPositions returns the bin index of every filtered position sample,
// per dimension, -1 outside the edges.
func (s *Set) BinnedPositions() [][]int { return s.current().binned }

// ComputationEpochs returns the normalised epochs the set was built over.
func (s *Set) ComputationEpochs() []epochs.Epoch {
	return append([]epochs.Epoch(nil), s.current().epochs...)
}

// SpeedFilteredEpochs returns the epochs derived by the speed filter.
func (s *Set) SpeedFilteredEpochs() []epochs.Epoch {
	return append([]epochs.Epoch(nil), s.current().speedEpochs...)
}

// String describes the set for logs.
func (s *Set) String() string {
	st := s.current()
	n := "-"
	if st.ratemap != nil {
		n = fmt.Sprintf("%d", st.ratemap.Len())
	}
	return fmt.Sprintf("Set{%s, ndim=%d, bins=%v, neurons=%s, %s}",
		st.phase, st.position.NDim(), st.edges.Shape(), n, st.params)
}

// FilenameString renders the parameters as a filename fragment.
func (s *Set) FilenameString() string {
	st := s.current()
	return st.params.FilenameString(st.position.NDim())
}
