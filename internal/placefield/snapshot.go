package placefield

import (
	"context"
	"fmt"

	"github.com/banshee-data/placefields/internal/placefield/binning"
	"github.com/banshee-data/placefields/internal/placefield/epochs"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
	"github.com/banshee-data/placefields/internal/recording"
)

// Snapshot is the persistent form of a Set: its inputs and configuration.
// Maps are not stored; Restore recomputes them, which also re-applies the
// peak rate filter.
type Snapshot struct {
	Params       Params         `json:"params"`
	Policy       Policy         `json:"policy"`
	SamplingRate float64        `json:"sampling_rate"`
	NDim         int            `json:"ndim"`
	PseudoDims   int            `json:"pseudo_dims"`
	Edges        binning.Edges  `json:"edges"`
	FixedEdges   bool           `json:"fixed_edges"`
	Epochs       []epochs.Epoch `json:"epochs"`

	Position *recording.Position `json:"-"`
	Spikes   *recording.Spikes   `json:"-"`
}

// Snapshot captures the set's inputs. Edges are only present once Setup has
// run.
func (s *Set) Snapshot() Snapshot {
	st := s.current()
	return Snapshot{
		Params:       st.params.Clone(),
		Policy:       st.policy,
		SamplingRate: st.position.SamplingRate,
		NDim:         st.position.NDim(),
		PseudoDims:   st.pseudoDims,
		Edges:        st.edges.Clone(),
		FixedEdges:   st.fixedEdges || st.phase != Uninitialized,
		Epochs:       append([]epochs.Epoch(nil), st.epochs...),
		Position:     st.position,
		Spikes:       st.spikes,
	}
}

// Restore rebuilds a computed set from a snapshot. Stored edges are reused
// as-is so the maps match the ones that were saved.
func Restore(ctx context.Context, snap Snapshot) (*Set, error) {
	if snap.Position == nil || snap.Spikes == nil {
		return nil, pferr.Configf("snapshot has no position or spikes")
	}
	if snap.NDim != snap.Position.NDim() {
		return nil, pferr.Configf("snapshot is %d-D but its position has %d columns", snap.NDim, snap.Position.NDim())
	}
	if snap.PseudoDims < 0 || snap.PseudoDims >= snap.NDim {
		return nil, pferr.Configf("snapshot has %d pseudo dimensions of %d", snap.PseudoDims, snap.NDim)
	}
	pos := *snap.Position
	if snap.SamplingRate > 0 {
		pos.SamplingRate = snap.SamplingRate
	}
	s, err := New(&pos, snap.Spikes, snap.Epochs, snap.Params, snap.Policy)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	st := s.current()
	st.pseudoDims = snap.PseudoDims
	if snap.FixedEdges && snap.Edges.NDim() > 0 {
		st.fixedEdges = true
		st.edges = snap.Edges.Clone()
	}
	if err := s.Setup(); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if err := s.Compute(ctx); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return s, nil
}
