// Package ndmap owns the dense N-dimensional float maps shared by occupancy,
// spike-count and tuning computations.
//
// Responsibilities: shaped storage (row-major, last axis fastest), N-D
// histograms over bin edges, separable Gaussian smoothing, max projection,
// stacking and sample-stream interpolation.
// Key types: Map.
//
// Dependency rule: ndmap is a leaf. It knows nothing about neurons, epochs or
// configuration; callers pass edges and sigmas explicitly.
package ndmap
