// Package recording holds the in-memory position and spike streams that a
// place field computation consumes.
//
// Responsibilities: column-oriented storage of tracked positions (time,
// per-dimension coordinates, speed) and sorted spike events (time, neuron id),
// slicing both by time epochs, and describing recorded units.
// Key types: Position, Spikes, Unit.
//
// Dependency rule: recording may depend on placefield/epochs and pferr, but
// never on the placefield orchestrator.
package recording
