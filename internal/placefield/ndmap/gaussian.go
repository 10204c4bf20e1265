package ndmap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// GaussianTruncate is the kernel half-width in standard deviations.
const GaussianTruncate = 4.0

// GaussianKernel returns the normalised Gaussian weights for sigma, with
// radius int(GaussianTruncate*sigma + 0.5). A non-positive sigma yields the
// identity kernel [1].
func GaussianKernel(sigma float64) []float64 {
	if !(sigma > 0) {
		return []float64{1}
	}
	radius := int(GaussianTruncate*sigma + 0.5)
	k := make([]float64, 2*radius+1)
	inv := -0.5 / (sigma * sigma)
	for i := range k {
		x := float64(i - radius)
		k[i] = math.Exp(inv * x * x)
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// reflectIndex maps i onto [0, n) using half-sample symmetric reflection
// (d c b a | a b c d | d c b a).
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	j := i % period
	if j < 0 {
		j += period
	}
	if j >= n {
		j = period - 1 - j
	}
	return j
}

// smoothLine convolves n values starting at data[base] with stride step.
func smoothLine(data []float64, base, step, n int, kernel, line, out []float64) {
	for i := 0; i < n; i++ {
		line[i] = data[base+i*step]
	}
	radius := len(kernel) / 2
	for i := 0; i < n; i++ {
		var acc float64
		for k, w := range kernel {
			acc += w * line[reflectIndex(i+k-radius, n)]
		}
		out[i] = acc
	}
	for i := 0; i < n; i++ {
		data[base+i*step] = out[i]
	}
}

// Smooth returns a Gaussian-smoothed copy of m. sigma holds one standard
// deviation (in bins) per axis; axes with a non-positive sigma are left
// untouched. The filter is separable and uses reflected boundaries, so the
// sum over each smoothed axis is preserved.
func (m *Map) Smooth(sigma []float64) (*Map, error) {
	if len(sigma) != len(m.shape) {
		return nil, fmt.Errorf("ndmap: %d sigmas for a %d-axis map", len(sigma), len(m.shape))
	}
	out := m.Clone()
	for axis, s := range sigma {
		if !(s > 0) {
			continue
		}
		n := m.shape[axis]
		if n == 0 {
			continue
		}
		kernel := GaussianKernel(s)
		step := m.strides[axis]
		line := make([]float64, n)
		buf := make([]float64, n)
		for base := range out.data {
			if (base/step)%n != 0 {
				continue
			}
			smoothLine(out.data, base, step, n, kernel, line, buf)
		}
	}
	return out, nil
}

// AnyPositive reports whether any sigma component enables smoothing.
func AnyPositive(sigma []float64) bool {
	for _, s := range sigma {
		if s > 0 {
			return true
		}
	}
	return false
}

// Smooth1D applies a Gaussian filter to a single series.
func Smooth1D(values []float64, sigma float64) []float64 {
	m, err := FromData([]int{len(values)}, append([]float64(nil), values...))
	if err != nil {
		return append([]float64(nil), values...)
	}
	out, err := m.Smooth([]float64{sigma})
	if err != nil {
		return m.data
	}
	return out.data
}
