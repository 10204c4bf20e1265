package ndmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ShapeAndOffsets(t *testing.T) {
	m := New(3, 4)
	assert.Equal(t, []int{3, 4}, m.Shape())
	assert.Equal(t, 12, m.Len())
	assert.Equal(t, 2, m.NDim())

	m.Set(7, 2, 1)
	assert.Equal(t, 7.0, m.At(2, 1))
	assert.Equal(t, 9, m.Offset(2, 1))
}

func TestFromData_LengthMismatch(t *testing.T) {
	_, err := FromData([]int{2, 2}, []float64{1, 2, 3})
	assert.Error(t, err)
}

func TestBinIndex(t *testing.T) {
	edges := []float64{0, 1, 2, 3}
	tests := []struct {
		name string
		v    float64
		want int
	}{
		{"first edge", 0, 0},
		{"interior", 1.5, 1},
		{"left closed", 2, 2},
		{"upper edge included", 3, 2},
		{"below", -0.1, -1},
		{"above", 3.0001, -1},
		{"nan", math.NaN(), -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BinIndex(edges, tc.v))
		})
	}
}

func TestHistogram_1D(t *testing.T) {
	h, err := Histogram([][]float64{{0, 0.5, 1, 2.5, 3, 4}}, [][]float64{{0, 1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 2}, h.Data())
}

func TestHistogram_2D(t *testing.T) {
	xs := []float64{0.5, 0.5, 1.5, 1.5}
	ys := []float64{0.5, 1.5, 0.5, 5}
	h, err := Histogram([][]float64{xs, ys}, [][]float64{{0, 1, 2}, {0, 1, 2}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, h.At(0, 0))
	assert.Equal(t, 1.0, h.At(0, 1))
	assert.Equal(t, 1.0, h.At(1, 0))
	assert.Equal(t, 0.0, h.At(1, 1), "out-of-range y must be dropped")
}

func TestHistogram_ColumnMismatch(t *testing.T) {
	_, err := Histogram([][]float64{{1}, {1, 2}}, [][]float64{{0, 1}, {0, 1}})
	assert.Error(t, err)
	_, err = Histogram([][]float64{{1}}, [][]float64{{0, 1}, {0, 1}})
	assert.Error(t, err)
}

func TestGaussianKernel(t *testing.T) {
	k := GaussianKernel(1)
	require.Len(t, k, 9)
	var sum float64
	for _, w := range k {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Equal(t, k[0], k[8])
	assert.Greater(t, k[4], k[3])

	assert.Equal(t, []float64{1}, GaussianKernel(0))
}

func TestSmooth_PreservesMassAndSpreads(t *testing.T) {
	m := New(11)
	m.Set(10, 5)
	s, err := m.Smooth([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, s.Sum(), 1e-9)
	assert.Equal(t, 5, s.ArgMax())
	assert.Greater(t, s.At(4), 0.0)
	assert.Equal(t, 10.0, m.At(5), "source map must not change")
}

func TestSmooth_ReflectBoundaryKeepsMass(t *testing.T) {
	m := New(3)
	m.Set(1, 0)
	s, err := m.Smooth([]float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s.Sum(), 1e-9)
}

func TestSmooth_ZeroSigmaAxisUntouched(t *testing.T) {
	m := New(5, 2)
	m.Set(4, 2, 0)
	s, err := m.Smooth([]float64{1, 0})
	require.NoError(t, err)
	for x := 0; x < 5; x++ {
		assert.Equal(t, 0.0, s.At(x, 1), "column 1 must stay empty at x=%d", x)
	}
	assert.InDelta(t, 4.0, s.Sum(), 1e-9)
}

func TestSmooth_SigmaLengthMismatch(t *testing.T) {
	_, err := New(2, 2).Smooth([]float64{1})
	assert.Error(t, err)
}

func TestMaxProject(t *testing.T) {
	m := New(2, 3)
	m.Set(1, 0, 0)
	m.Set(5, 0, 2)
	m.Set(3, 1, 1)
	p, err := m.MaxProject(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 3}, p.Data())

	_, err = m.MaxProject(0)
	assert.Error(t, err)
}

func TestStack(t *testing.T) {
	a, _ := FromData([]int{2}, []float64{1, 2})
	b, _ := FromData([]int{2}, []float64{3, 4})
	s, err := Stack([]*Map{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, s.Shape())
	assert.Equal(t, 1.0, s.At(0, 0))
	assert.Equal(t, 3.0, s.At(0, 1))
	assert.Equal(t, 4.0, s.At(1, 1))

	_, err = Stack([]*Map{a, New(3)})
	assert.Error(t, err)
}

func TestNormalized(t *testing.T) {
	m, _ := FromData([]int{4}, []float64{1, 1, 2, 0})
	n := m.Normalized(1e-16)
	assert.InDelta(t, 1.0, n.Sum(), 1e-12)

	z := New(3).Normalized(1e-16)
	assert.Equal(t, 0.0, z.Sum())
}

func TestMax_IgnoresNaN(t *testing.T) {
	m, _ := FromData([]int{3}, []float64{math.NaN(), 2, 1})
	assert.Equal(t, 2.0, m.Max())
	assert.True(t, math.IsNaN(New(0).Max()))
}

func TestInterp(t *testing.T) {
	xs := []float64{0, 1, 1, 2}
	ys := []float64{0, 10, 99, 20}
	got, err := Interp([]float64{-1, 0.5, 1, 1.5, 3}, xs, ys)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 5, 10, 15, 20}, got)

	got, err = Interp([]float64{5}, []float64{1}, []float64{7})
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, got)

	_, err = Interp([]float64{1}, []float64{2, 1}, []float64{0, 0})
	assert.Error(t, err)
}

func TestInterpPrevious(t *testing.T) {
	got, err := InterpPrevious([]float64{-1, 0, 0.5, 1, 7}, []float64{0, 1, 2}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 2, 3}, got)
}
