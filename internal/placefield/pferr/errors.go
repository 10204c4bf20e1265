// Package pferr defines the error taxonomy shared by the place field packages.
//
// Configuration errors are fatal and never retried. Data errors mean the inputs
// left nothing to compute (for example an empty epoch after speed filtering);
// callers decide whether an empty result is acceptable. Division by zero
// occupancy is defined behaviour and never produces an error.
package pferr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks mismatched tuple lengths, invalid bin specs,
	// unresolvable dimensionality and violated merge/conform preconditions.
	ErrConfiguration = errors.New("placefield: configuration error")

	// ErrData marks empty filtered streams and degenerate bin bounds.
	ErrData = errors.New("placefield: data error")

	// ErrNotFiltered is returned by Compute when Setup has not run.
	ErrNotFiltered = errors.New("placefield: set has not been set up")

	// ErrNotComputed is returned by accessors that need computed maps.
	ErrNotComputed = errors.New("placefield: set has not been computed")
)

// Configf wraps ErrConfiguration with a formatted message.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Dataf wraps ErrData with a formatted message.
func Dataf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}
