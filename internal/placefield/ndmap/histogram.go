package ndmap

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// BinIndex returns the index of the bin of edges that contains v, using
// left-closed bins [e[i], e[i+1]) except for the last bin, which also includes
// its right edge so the maximum observed value is never dropped. Values outside
// the edges, and NaN, yield -1.
func BinIndex(edges []float64, v float64) int {
	n := len(edges)
	if n < 2 {
		return -1
	}
	if v == edges[n-1] {
		return n - 2
	}
	return floats.Within(edges, v)
}

// Histogram counts points into the cells defined by edges. coords[d] holds the
// d-th coordinate of every point, so all coordinate columns must have the same
// length; edges[d] holds the bin edges of axis d. Points outside the edges on
// any axis are not counted.
func Histogram(coords [][]float64, edges [][]float64) (*Map, error) {
	if len(coords) != len(edges) {
		return nil, fmt.Errorf("ndmap: %d coordinate columns for %d edge arrays", len(coords), len(edges))
	}
	if len(edges) == 0 {
		return nil, fmt.Errorf("ndmap: histogram needs at least one axis")
	}
	shape := make([]int, len(edges))
	for d, e := range edges {
		if len(e) < 2 {
			return nil, fmt.Errorf("ndmap: axis %d has %d edges, need at least 2", d, len(e))
		}
		shape[d] = len(e) - 1
	}
	n := len(coords[0])
	for d, c := range coords {
		if len(c) != n {
			return nil, fmt.Errorf("ndmap: coordinate column %d has %d values, want %d", d, len(c), n)
		}
	}

	h := New(shape...)
	idx := make([]int, len(edges))
points:
	for i := 0; i < n; i++ {
		for d := range edges {
			b := BinIndex(edges[d], coords[d][i])
			if b < 0 {
				continue points
			}
			idx[d] = b
		}
		h.data[h.Offset(idx...)]++
	}
	return h, nil
}
