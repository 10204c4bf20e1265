package ndmap

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// Interp linearly interpolates ys(xs) at every query point. xs must be sorted
// ascending; repeated xs keep their first sample. Queries before the first or
// after the last sample take the nearest end value. With a single sample every
// query returns that sample; with none every query returns NaN.
func Interp(query, xs, ys []float64) ([]float64, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("ndmap: interp has %d xs and %d ys", len(xs), len(ys))
	}
	out := make([]float64, len(query))
	fx := make([]float64, 0, len(xs))
	fy := make([]float64, 0, len(ys))
	for i, x := range xs {
		if n := len(fx); n > 0 {
			if x < fx[n-1] {
				return nil, fmt.Errorf("ndmap: interp xs not sorted at %d", i)
			}
			if x == fx[n-1] {
				continue
			}
		}
		fx = append(fx, x)
		fy = append(fy, ys[i])
	}

	switch len(fx) {
	case 0:
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	case 1:
		for i := range out {
			out[i] = fy[0]
		}
		return out, nil
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(fx, fy); err != nil {
		return nil, fmt.Errorf("ndmap: interp fit: %w", err)
	}
	for i, q := range query {
		out[i] = pl.Predict(q)
	}
	return out, nil
}

// InterpPrevious returns, for every query, the ys value of the last sample at
// or before it; queries before the first sample take the first value. Used
// for categorical columns where blending neighbours is meaningless. xs must be
// sorted ascending.
func InterpPrevious(query, xs, ys []float64) ([]float64, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("ndmap: interp has %d xs and %d ys", len(xs), len(ys))
	}
	out := make([]float64, len(query))
	for i, q := range query {
		if len(xs) == 0 {
			out[i] = math.NaN()
			continue
		}
		j := sort.Search(len(xs), func(k int) bool { return xs[k] > q }) - 1
		if j < 0 {
			j = 0
		}
		out[i] = ys[j]
	}
	return out, nil
}
