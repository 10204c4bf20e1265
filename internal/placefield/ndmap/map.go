package ndmap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Map is a dense N-dimensional array of float64 values. Axis order is fixed by
// the caller and shared by every map derived from the same bin edges.
type Map struct {
	shape   []int
	strides []int
	data    []float64
}

// New returns a zero-filled map with the given shape. It panics on a negative
// dimension, mirroring make.
func New(shape ...int) *Map {
	n := 1
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Sprintf("ndmap: negative dimension %d", s))
		}
		n *= s
	}
	m := &Map{shape: append([]int(nil), shape...), data: make([]float64, n)}
	m.strides = stridesFor(m.shape)
	return m
}

// FromData wraps data (row-major) in a map of the given shape. The slice is
// used directly, not copied.
func FromData(shape []int, data []float64) (*Map, error) {
	n := 1
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("ndmap: negative dimension %d", s)
		}
		n *= s
	}
	if n != len(data) {
		return nil, fmt.Errorf("ndmap: shape %v needs %d values, got %d", shape, n, len(data))
	}
	m := &Map{shape: append([]int(nil), shape...), data: data}
	m.strides = stridesFor(m.shape)
	return m, nil
}

func stridesFor(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

// Shape returns a copy of the map's shape.
func (m *Map) Shape() []int { return append([]int(nil), m.shape...) }

// NDim returns the number of axes.
func (m *Map) NDim() int { return len(m.shape) }

// Len returns the number of cells.
func (m *Map) Len() int { return len(m.data) }

// Data exposes the underlying row-major storage.
func (m *Map) Data() []float64 { return m.data }

// Offset converts a multi-index into a flat offset.
func (m *Map) Offset(idx ...int) int {
	if len(idx) != len(m.shape) {
		panic(fmt.Sprintf("ndmap: index has %d axes, map has %d", len(idx), len(m.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= m.shape[i] {
			panic(fmt.Sprintf("ndmap: index %d out of range on axis %d (size %d)", v, i, m.shape[i]))
		}
		off += v * m.strides[i]
	}
	return off
}

// At returns the value at the multi-index.
func (m *Map) At(idx ...int) float64 { return m.data[m.Offset(idx...)] }

// Set stores v at the multi-index.
func (m *Map) Set(v float64, idx ...int) { m.data[m.Offset(idx...)] = v }

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := &Map{
		shape:   append([]int(nil), m.shape...),
		strides: append([]int(nil), m.strides...),
		data:    make([]float64, len(m.data)),
	}
	copy(out.data, m.data)
	return out
}

// SameShape reports whether o has exactly the same shape as m.
func (m *Map) SameShape(o *Map) bool {
	if o == nil || len(m.shape) != len(o.shape) {
		return false
	}
	for i := range m.shape {
		if m.shape[i] != o.shape[i] {
			return false
		}
	}
	return true
}

// Sum returns the sum of all cells.
func (m *Map) Sum() float64 {
	if len(m.data) == 0 {
		return 0
	}
	return floats.Sum(m.data)
}

// Max returns the largest non-NaN value. An empty or all-NaN map yields NaN.
func (m *Map) Max() float64 {
	best := math.NaN()
	for _, v := range m.data {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(best) || v > best {
			best = v
		}
	}
	return best
}

// ArgMax returns the flat offset of the largest value, or -1 for an empty map.
func (m *Map) ArgMax() int {
	if len(m.data) == 0 {
		return -1
	}
	return floats.MaxIdx(m.data)
}

// Scaled returns a copy of m multiplied by c.
func (m *Map) Scaled(c float64) *Map {
	out := m.Clone()
	floats.Scale(c, out.data)
	return out
}

// Normalized returns m / (sum(m) + eps). The result sums to one whenever m has
// at least one non-zero cell and eps is negligible against the sum.
func (m *Map) Normalized(eps float64) *Map {
	return m.Scaled(1 / (m.Sum() + eps))
}

// Equal reports whether both maps have the same shape and identical values.
func (m *Map) Equal(o *Map) bool {
	return m.SameShape(o) && floats.Equal(m.data, o.data)
}

// MaxProject collapses every axis after the first keep axes by taking the
// per-cell maximum over them. MaxProject(1) on an (X, Y) map yields an (X) map
// whose cell x holds max over y.
func (m *Map) MaxProject(keep int) (*Map, error) {
	if keep < 1 || keep > len(m.shape) {
		return nil, fmt.Errorf("ndmap: cannot keep %d of %d axes", keep, len(m.shape))
	}
	out := New(m.shape[:keep]...)
	inner := 1
	for _, s := range m.shape[keep:] {
		inner *= s
	}
	for i := range out.data {
		block := m.data[i*inner : (i+1)*inner]
		if len(block) == 0 {
			continue
		}
		out.data[i] = floats.Max(block)
	}
	return out, nil
}

// Stack joins maps of identical shape along a new trailing axis. Cell
// (i..., k) of the result is cell (i...) of maps[k].
func Stack(maps []*Map) (*Map, error) {
	if len(maps) == 0 {
		return nil, fmt.Errorf("ndmap: nothing to stack")
	}
	base := maps[0]
	for k, mk := range maps[1:] {
		if !base.SameShape(mk) {
			return nil, fmt.Errorf("ndmap: map %d has shape %v, want %v", k+1, mk.shape, base.shape)
		}
	}
	n := len(maps)
	out := New(append(base.Shape(), n)...)
	for i := range base.data {
		for k, mk := range maps {
			out.data[i*n+k] = mk.data[i]
		}
	}
	return out, nil
}

// String renders the shape only; maps are usually too large to print.
func (m *Map) String() string {
	return fmt.Sprintf("ndmap.Map%v", m.shape)
}
