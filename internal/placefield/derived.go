package placefield

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/placefields/internal/monitoring"
	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/epochs"
	"github.com/banshee-data/placefields/internal/placefield/ndmap"
	"github.com/banshee-data/placefields/internal/placefield/occupancy"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
	"github.com/banshee-data/placefields/internal/placefield/tuning"
	"github.com/banshee-data/placefields/internal/recording"
)

// sampleRateTolerance is the relative difference allowed between the
// sampling rates of merged sets.
const sampleRateTolerance = 0.01

// GetByID returns a new, computed set restricted to the given neurons. Bin
// edges are kept so the maps stay comparable with the receiver's.
func (s *Set) GetByID(ctx context.Context, ids []int) (*Set, error) {
	cur := s.current()
	next := &state{
		params:     cur.params.Clone(),
		policy:     cur.policy,
		position:   cur.position,
		spikes:     cur.spikes.KeepNeurons(ids),
		epochs:     cur.epochs,
		pseudoDims: cur.pseudoDims,
		fixedEdges: cur.fixedEdges,
		edges:      cur.edges,
	}
	if cur.phase != Uninitialized {
		next.fixedEdges = true
	}
	if err := next.setup(); err != nil {
		return nil, err
	}
	if err := next.compute(ctx); err != nil {
		return nil, err
	}
	return &Set{st: next}, nil
}

// ReplacingComputationEpochs returns a new, computed set over eps. Unless the
// receiver's edges are fixed, bins are re-derived from the new filtered
// positions.
func (s *Set) ReplacingComputationEpochs(ctx context.Context, eps []epochs.Epoch) (*Set, error) {
	norm, err := epochs.Normalize(eps)
	if err != nil {
		return nil, fmt.Errorf("epochs: %w", err)
	}
	cur := s.current()
	next := cur.clone()
	next.epochs = norm
	next.phase = Uninitialized
	next.ratemap = nil
	if err := next.setup(); err != nil {
		return nil, err
	}
	if err := next.compute(ctx); err != nil {
		return nil, err
	}
	return &Set{st: next}, nil
}

// Reconfigure replaces the parameters and re-runs Setup. Any computed result
// is discarded; the set ends Filtered. On error the set is unchanged. Merged
// sets keep their edges.
func (s *Set) Reconfigure(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return s.mutate(func(st *state) error {
		st.params = params.Clone()
		st.fixedEdges = st.pseudoDims > 0
		return st.setup()
	})
}

// ConformToBins adopts target's bin edges and recomputes. It reports whether
// anything changed. Edges that are already equal are a no-op. Adopting edges
// with more bins than the receiver has in any dimension would invent
// resolution and is refused unless force is set.
func (s *Set) ConformToBins(ctx context.Context, target *Set, force bool) (bool, error) {
	return s.conform(ctx, target, func(own, want []int) (bool, error) {
		for d := range own {
			if want[d] > own[d] && !force {
				return false, pferr.Configf("target has %d bins in dimension %d, more than the %d available", want[d], d, own[d])
			}
		}
		return true, nil
	})
}

// ConformToFinerBins adopts target's bin edges only when target has more bins
// than the receiver in some dimension, as when a short track set takes on the
// long track's bins. Otherwise, unless force is set, it leaves the set alone
// and reports false.
func (s *Set) ConformToFinerBins(ctx context.Context, target *Set, force bool) (bool, error) {
	return s.conform(ctx, target, func(own, want []int) (bool, error) {
		if force {
			return true, nil
		}
		for d := range own {
			if want[d] > own[d] {
				return true, nil
			}
		}
		return false, nil
	})
}

// conform re-bins the filtered positions on target's edges and recomputes when
// adopt agrees, given the receiver's and target's bin counts.
func (s *Set) conform(ctx context.Context, target *Set, adopt func(own, want []int) (bool, error)) (bool, error) {
	if target == nil {
		return false, pferr.Configf("no target set to conform to")
	}
	tgt := target.current()
	if tgt.phase == Uninitialized {
		return false, fmt.Errorf("target: %w", pferr.ErrNotFiltered)
	}
	changed := false
	err := s.mutate(func(st *state) error {
		if st.phase == Uninitialized {
			return pferr.ErrNotFiltered
		}
		if st.edges.NDim() != tgt.edges.NDim() {
			return pferr.Configf("cannot conform %d-D bins to %d-D bins", st.edges.NDim(), tgt.edges.NDim())
		}
		if st.edges.Equal(tgt.edges) {
			return nil
		}
		own, want := st.edges.Shape(), tgt.edges.Shape()
		ok, err := adopt(own, want)
		if err != nil || !ok {
			return err
		}
		monitoring.Debugf("conform: bins %v -> %v", own, want)
		binned, err := binning.Discretize(st.filteredPos.Coords, tgt.edges)
		if err != nil {
			return err
		}
		st.edges = tgt.edges.Clone()
		st.fixedEdges = true
		st.params.BinSize = append([]float64(nil), tgt.params.BinSize...)
		st.params.BinCount = append([]int(nil), tgt.params.BinCount...)
		st.params.BinBounds = append([]binning.Bounds(nil), tgt.params.BinBounds...)
		st.binned = binned
		if err := st.compute(ctx); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// ProjectToLowerDimension returns a 1-D set whose maps are the maximum of the
// receiver's maps over every axis but the first. It needs a computed set of
// at least two dimensions.
func (s *Set) ProjectToLowerDimension() (*Set, error) {
	cur := s.current()
	if cur.phase != Computed {
		return nil, pferr.ErrNotComputed
	}
	if cur.ndim < 2 {
		return nil, pferr.Configf("cannot project a %d-D set", cur.ndim)
	}
	rm, err := cur.ratemap.maxProject(1)
	if err != nil {
		return nil, err
	}
	pos, err := cur.position.Truncated(1)
	if err != nil {
		return nil, err
	}
	fpos, err := cur.filteredPos.Truncated(1)
	if err != nil {
		return nil, err
	}
	next := &state{
		phase:          Computed,
		params:         cur.params.Truncate(1),
		policy:         cur.policy,
		position:       pos,
		spikes:         cur.spikes,
		epochs:         cur.epochs,
		fixedEdges:     true,
		ndim:           1,
		speedEpochs:    cur.speedEpochs,
		filteredPos:    fpos,
		filteredSpikes: cur.filteredSpikes,
		edges:          cur.edges.Truncate(1),
		binned:         cur.binned[:1],
		ratemap:        rm,
	}
	return &Set{st: next}, nil
}

// MergeDirectional stacks K one-dimensional sets, typically one per running
// direction, into a set with a trailing pseudo dimension of K unit-width bins
// centred on 1..K. Every input must be at least Filtered, share its bin
// edges, and have a sampling rate within 1% of the first input's.
//
// Each input is recomputed with a zero rate threshold, so every neuron that
// fired anywhere is kept. A neuron missing from an input gets zero maps for
// that direction. The result is Computed, directional, and has rate threshold
// 0; its positions carry the 1-based index of the first input whose
// speed-filtered epochs contain each sample, -1 elsewhere.
func MergeDirectional(ctx context.Context, sets ...*Set) (*Set, error) {
	if len(sets) == 0 {
		return nil, pferr.Configf("nothing to merge")
	}
	inputs := make([]*state, len(sets))
	for k, s := range sets {
		if s == nil {
			return nil, pferr.Configf("merge input %d is nil", k)
		}
		cur := s.current()
		if cur.phase == Uninitialized {
			return nil, fmt.Errorf("merge input %d: %w", k, pferr.ErrNotFiltered)
		}
		if cur.ndim != 1 {
			return nil, pferr.Configf("merge input %d is %d-D, want 1-D", k, cur.ndim)
		}
		if k > 0 {
			first := inputs[0]
			if !cur.edges.Equal(first.edges) {
				return nil, pferr.Configf("merge input %d has bins %v, input 0 has %v", k, cur.edges.Shape(), first.edges.Shape())
			}
			a, b := cur.position.SamplingRate, first.position.SamplingRate
			if math.Abs(a-b) > sampleRateTolerance*math.Abs(b) {
				return nil, pferr.Configf("merge input %d samples at %gHz, input 0 at %gHz", k, a, b)
			}
		}
		c := cur.clone()
		c.params = c.params.WithRateThreshold(0)
		if err := c.compute(ctx); err != nil {
			return nil, fmt.Errorf("merge input %d: %w", k, err)
		}
		inputs[k] = c
	}

	first := inputs[0]
	nDir := len(inputs)
	edges := pseudoEdges(first.edges, nDir)

	ids := unionIDs(inputs)
	maps := make([]*tuning.Map, len(ids))
	times := make([][]float64, len(ids))
	positions := make([][][]float64, len(ids))
	rows := make([]map[int]int, nDir)
	for k, in := range inputs {
		rows[k] = make(map[int]int, in.ratemap.Len())
		for i, id := range in.ratemap.NeuronIDs {
			rows[k][id] = i
		}
	}
	xShape := first.edges.Shape()
	for i, id := range ids {
		var tun, unt, spk, uspk []*ndmap.Map
		var ev []mergedSpike
		for k, in := range inputs {
			j, ok := rows[k][id]
			if !ok {
				z := ndmap.New(xShape...)
				tun, unt, spk, uspk = append(tun, z), append(unt, z), append(spk, z), append(uspk, z)
				continue
			}
			m := in.ratemap.Maps[j]
			tun = append(tun, m.Tuning)
			unt = append(unt, m.UnsmoothedTuning)
			spk = append(spk, m.SpikeMap)
			uspk = append(uspk, m.UnsmoothedSpikeMap)
			for n, t := range in.ratemap.SpikeTimes[j] {
				ev = append(ev, mergedSpike{t: t, x: in.ratemap.SpikePositions[j][0][n], dir: float64(k + 1)})
			}
		}
		var m tuning.Map
		var err error
		for _, pair := range []struct {
			dst **ndmap.Map
			src []*ndmap.Map
		}{
			{&m.Tuning, tun}, {&m.UnsmoothedTuning, unt}, {&m.SpikeMap, spk}, {&m.UnsmoothedSpikeMap, uspk},
		} {
			if *pair.dst, err = ndmap.Stack(pair.src); err != nil {
				return nil, fmt.Errorf("neuron %d: %w", id, err)
			}
		}
		maps[i] = &m
		sort.SliceStable(ev, func(a, b int) bool { return ev[a].t < ev[b].t })
		times[i] = make([]float64, len(ev))
		positions[i] = [][]float64{make([]float64, len(ev)), make([]float64, len(ev))}
		for n, e := range ev {
			times[i][n] = e.t
			positions[i][0][n] = e.x
			positions[i][1][n] = e.dir
		}
	}

	rawCounts := make([]*ndmap.Map, nDir)
	for k, in := range inputs {
		rawCounts[k] = in.ratemap.Occupancy.RawCounts
	}
	raw, err := ndmap.Stack(rawCounts)
	if err != nil {
		return nil, fmt.Errorf("occupancy: %w", err)
	}
	params := mergedParams(first.params, first.edges, nDir)
	var occSigma []float64
	if first.policy.SmoothOccupancy {
		occSigma = params.SmoothingSigma
	}
	occ, err := occupancy.FromCounts(raw, first.position.SamplingRate, occSigma)
	if err != nil {
		return nil, err
	}

	positionsIn := make([]*recording.Position, nDir)
	spikesIn := make([]*recording.Spikes, nDir)
	filteredIn := make([]*recording.Spikes, nDir)
	epochSets := make([][]epochs.Epoch, nDir)
	var allEpochs []epochs.Epoch
	for k, in := range inputs {
		positionsIn[k] = in.position
		spikesIn[k] = in.spikes
		filteredIn[k] = in.filteredSpikes
		epochSets[k] = in.speedEpochs
		allEpochs = append(allEpochs, in.speedEpochs...)
	}
	pos, err := BuildPseudo2DPositions(positionsIn, epochSets)
	if err != nil {
		return nil, err
	}
	merged, err := epochs.Normalize(allEpochs)
	if err != nil {
		return nil, err
	}
	fpos := pos.TimeSliced(merged)
	binned, err := binning.Discretize(fpos.Coords, edges)
	if err != nil {
		return nil, err
	}
	spikes := mergeSpikes(spikesIn)
	filtered := mergeSpikes(filteredIn)

	sel := tuning.Select(maps, 0)
	rm := &Ratemap{Edges: edges, Occupancy: occ, Selection: sel, CandidateIDs: ids}
	if err := project(sel, ids, &rm.NeuronIDs); err != nil {
		return nil, err
	}
	if err := project(sel, maps, &rm.Maps); err != nil {
		return nil, err
	}
	if err := project(sel, times, &rm.SpikeTimes); err != nil {
		return nil, err
	}
	if err := project(sel, positions, &rm.SpikePositions); err != nil {
		return nil, err
	}
	rm.ExtendedIDs = filtered.ExtendedIDs(rm.NeuronIDs)

	monitoring.Debugf("merge: %d inputs, %d neurons, bins %v", nDir, rm.Len(), edges.Shape())
	return &Set{st: &state{
		phase:          Computed,
		params:         params,
		policy:         first.policy,
		position:       pos,
		spikes:         spikes,
		epochs:         merged,
		pseudoDims:     1,
		fixedEdges:     true,
		ndim:           2,
		speedEpochs:    merged,
		filteredPos:    fpos,
		filteredSpikes: filtered,
		edges:          edges,
		binned:         binned,
		ratemap:        rm,
	}}, nil
}

type mergedSpike struct {
	t, x, dir float64
}

// pseudoEdges appends a dimension of n unit bins centred on 1..n.
func pseudoEdges(e binning.Edges, n int) binning.Edges {
	out := e.Clone()
	dir := make([]float64, n+1)
	for i := range dir {
		dir[i] = float64(i) + 0.5
	}
	out.Edges = append(out.Edges, dir)
	out.Info.Step = append(out.Info.Step, 1)
	out.Info.NumBins = append(out.Info.NumBins, n)
	return out
}

// mergedParams extends resolved 1-D params with the pseudo dimension. The
// bounds are pinned so re-running Setup reproduces the merged edges.
func mergedParams(p Params, e binning.Edges, n int) Params {
	out := p.WithRateThreshold(0).WithDirectional(true)
	if len(out.BinCount) > 0 {
		out.BinCount = append(out.BinCount, n)
	} else {
		out.BinSize = append(out.BinSize, 1)
	}
	x := e.Edges[0]
	out.BinBounds = []binning.Bounds{
		{Min: x[0], Max: x[len(x)-1]},
		{Min: 0.5, Max: float64(n) + 0.5},
	}
	out.SmoothingSigma = append(out.SmoothingSigma, 0)
	out.BinPadding = nil
	return out
}

func unionIDs(inputs []*state) []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, in := range inputs {
		for _, id := range in.ratemap.NeuronIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Ints(ids)
	return ids
}

// mergeSpikes unions spike streams, dropping events that appear in more than
// one input.
func mergeSpikes(in []*recording.Spikes) *recording.Spikes {
	type event struct {
		t  float64
		id int
	}
	seen := make(map[event]struct{})
	var units []recording.Unit
	unitSeen := make(map[int]struct{})
	out := &recording.Spikes{}
	for _, s := range in {
		for i, t := range s.T {
			e := event{t, s.NeuronID[i]}
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out.T = append(out.T, t)
			out.NeuronID = append(out.NeuronID, e.id)
		}
		for _, u := range s.Units {
			if _, ok := unitSeen[u.ID]; !ok {
				unitSeen[u.ID] = struct{}{}
				units = append(units, u)
			}
		}
	}
	out.Units = units
	order := make([]int, out.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return out.T[order[a]] < out.T[order[b]] })
	return out.Subset(order)
}

// BuildPseudo2DPositions unions the position samples of several 1-D streams
// and adds a second coordinate: the 1-based index of the first epoch set that
// contains the sample's timestamp, or -1 when none does. Samples sharing a
// timestamp are kept once. The speed column is carried over unchanged.
func BuildPseudo2DPositions(positions []*recording.Position, epochSets [][]epochs.Epoch) (*recording.Position, error) {
	if len(positions) == 0 {
		return nil, pferr.Configf("no positions to merge")
	}
	type sample struct {
		t, x, speed float64
	}
	var all []sample
	for k, p := range positions {
		if p.NDim() != 1 {
			return nil, pferr.Configf("position %d is %d-D, want 1-D", k, p.NDim())
		}
		for i, t := range p.T {
			all = append(all, sample{t: t, x: p.Coords[0][i], speed: p.Speed[i]})
		}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].t < all[b].t })

	out := &recording.Position{
		Coords:       [][]float64{nil, nil},
		SamplingRate: positions[0].SamplingRate,
	}
	for i, s := range all {
		if i > 0 && s.t == all[i-1].t {
			continue
		}
		out.T = append(out.T, s.t)
		out.Coords[0] = append(out.Coords[0], s.x)
		out.Speed = append(out.Speed, s.speed)
	}
	dir := make([]float64, len(out.T))
	for i := range dir {
		dir[i] = -1
	}
	for k := len(epochSets) - 1; k >= 0; k-- {
		norm, err := epochs.Normalize(epochSets[k])
		if err != nil {
			return nil, fmt.Errorf("epoch set %d: %w", k, err)
		}
		for _, i := range epochs.Slice(norm, out.T) {
			dir[i] = float64(k + 1)
		}
	}
	out.Coords[1] = dir
	return out, nil
}
