// Package placefield computes spatial tuning ("place field") maps for a
// population of recorded neurons.
//
// Responsibilities: owning the computation parameters, the epoch- and
// speed-filtered position and spike streams, the bin edges and the per-neuron
// maps; driving the two-phase Setup then Compute pipeline; and the derived
// operations that re-bin, restrict, project or merge sets.
// Key types: Params, Policy, Set, Ratemap, Snapshot.
//
// Lifecycle: New returns an Uninitialized set. Setup filters and bins
// (Filtered), Compute builds occupancy and tuning maps and applies the peak
// rate filter (Computed). Every mutation runs on a private copy of the state
// and is swapped in only on success, so callers never observe bins that
// disagree with the maps.
//
// Dependency rule: placefield may depend on its sub-packages (binning,
// epochs, occupancy, tuning, ndmap, pferr), recording, config and
// monitoring, but never on db or cmd.
package placefield
