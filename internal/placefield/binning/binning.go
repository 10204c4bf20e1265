// Package binning turns position extents into per-dimension bin edges.
//
// Edges are strictly increasing and the last bin is closed on the right, so
// the maximum observed position always lands in a bin.
package binning

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/placefields/internal/placefield/ndmap"
	"github.com/banshee-data/placefields/internal/placefield/pferr"
)

// Mode records how a dimension's bins were derived.
type Mode string

const (
	ModeBinSize Mode = "bin_size"
	ModeNumBins Mode = "num_bins"
)

// sizeTolerance absorbs floating error in span/size before rounding up, so a
// 0.7 wide extent with 0.1 bins gives 7 bins rather than 8.
const sizeTolerance = 1e-9

// Bounds is a closed [Min, Max] extent along one dimension.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Span returns Max - Min.
func (b Bounds) Span() float64 { return b.Max - b.Min }

// Spec selects fixed-size or fixed-count binning for one dimension. Exactly
// one of Size and Count must be set.
type Spec struct {
	Size  float64
	Count int
}

// Info is the derived bin metadata, one entry per dimension.
type Info struct {
	Mode    Mode      `json:"mode"`
	Step    []float64 `json:"step"`
	NumBins []int     `json:"num_bins"`
}

// Edges holds the bin edges of every dimension plus their metadata.
type Edges struct {
	Edges [][]float64 `json:"edges"`
	Info  Info        `json:"info"`
}

// NDim returns the number of binned dimensions.
func (e Edges) NDim() int { return len(e.Edges) }

// Shape returns the bin count per dimension, the shape of every map built on
// these edges.
func (e Edges) Shape() []int {
	shape := make([]int, len(e.Edges))
	for d, edges := range e.Edges {
		shape[d] = len(edges) - 1
	}
	return shape
}

// Centers returns the bin centres of dimension d.
func (e Edges) Centers(d int) []float64 {
	edges := e.Edges[d]
	if len(edges) < 2 {
		return nil
	}
	c := make([]float64, len(edges)-1)
	for i := range c {
		c[i] = (edges[i] + edges[i+1]) / 2
	}
	return c
}

// StepSize returns the bin width of dimension d, taken from Info when present
// and otherwise from the mean spacing of the bin centres.
func (e Edges) StepSize(d int) float64 {
	if d < len(e.Info.Step) && e.Info.Step[d] > 0 {
		return e.Info.Step[d]
	}
	c := e.Centers(d)
	if len(c) < 2 {
		return math.NaN()
	}
	diffs := make([]float64, len(c)-1)
	for i := range diffs {
		diffs[i] = c[i+1] - c[i]
	}
	return stat.Mean(diffs, nil)
}

// Equal reports whether both edge sets are identical.
func (e Edges) Equal(o Edges) bool {
	if len(e.Edges) != len(o.Edges) {
		return false
	}
	for d := range e.Edges {
		if len(e.Edges[d]) != len(o.Edges[d]) || !floats.Equal(e.Edges[d], o.Edges[d]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (e Edges) Clone() Edges {
	out := Edges{
		Edges: make([][]float64, len(e.Edges)),
		Info: Info{
			Mode:    e.Info.Mode,
			Step:    append([]float64(nil), e.Info.Step...),
			NumBins: append([]int(nil), e.Info.NumBins...),
		},
	}
	for d, edges := range e.Edges {
		out.Edges[d] = append([]float64(nil), edges...)
	}
	return out
}

// Truncate keeps the first n dimensions.
func (e Edges) Truncate(n int) Edges {
	c := e.Clone()
	if n >= len(c.Edges) {
		return c
	}
	c.Edges = c.Edges[:n]
	if len(c.Info.Step) > n {
		c.Info.Step = c.Info.Step[:n]
	}
	if len(c.Info.NumBins) > n {
		c.Info.NumBins = c.Info.NumBins[:n]
	}
	return c
}

// BoundsFromPositions computes the observed min/max of every coordinate column,
// widened by padding[d] on both sides. NaN values are ignored. padding may be
// nil or hold one value per column.
func BoundsFromPositions(coords [][]float64, padding []float64) ([]Bounds, error) {
	if padding != nil && len(padding) != len(coords) {
		return nil, pferr.Configf("%d padding values for %d dimensions", len(padding), len(coords))
	}
	out := make([]Bounds, len(coords))
	for d, col := range coords {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range col {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if math.IsInf(lo, 1) {
			return nil, pferr.Dataf("dimension %d has no finite positions", d)
		}
		if padding != nil {
			lo -= padding[d]
			hi += padding[d]
		}
		out[d] = Bounds{Min: lo, Max: hi}
	}
	return out, nil
}

// Bin builds edges for every dimension. bounds and specs must have the same
// length; every spec must set exactly one of Size or Count, and all specs must
// use the same mode.
func Bin(bounds []Bounds, specs []Spec) (Edges, error) {
	if len(bounds) == 0 {
		return Edges{}, pferr.Configf("no dimensions to bin")
	}
	if len(bounds) != len(specs) {
		return Edges{}, pferr.Configf("%d bounds for %d bin specs", len(bounds), len(specs))
	}
	out := Edges{
		Edges: make([][]float64, len(bounds)),
		Info: Info{
			Step:    make([]float64, len(bounds)),
			NumBins: make([]int, len(bounds)),
		},
	}
	for d, b := range bounds {
		mode, err := specs[d].mode()
		if err != nil {
			return Edges{}, fmt.Errorf("dimension %d: %w", d, err)
		}
		if out.Info.Mode != "" && out.Info.Mode != mode {
			return Edges{}, pferr.Configf("dimension %d uses %s but dimension 0 uses %s", d, mode, out.Info.Mode)
		}
		out.Info.Mode = mode

		var edges []float64
		switch mode {
		case ModeBinSize:
			edges, err = EdgesForSize(b, specs[d].Size)
		default:
			edges, err = EdgesForCount(b, specs[d].Count)
		}
		if err != nil {
			return Edges{}, fmt.Errorf("dimension %d: %w", d, err)
		}
		out.Edges[d] = edges
		out.Info.NumBins[d] = len(edges) - 1
		if mode == ModeBinSize {
			out.Info.Step[d] = specs[d].Size
		} else {
			out.Info.Step[d] = b.Span() / float64(specs[d].Count)
		}
	}
	return out, nil
}

func (s Spec) mode() (Mode, error) {
	switch {
	case s.Size != 0 && s.Count != 0:
		return "", pferr.Configf("both bin size %v and bin count %d given", s.Size, s.Count)
	case s.Size > 0:
		return ModeBinSize, nil
	case s.Count > 0:
		return ModeNumBins, nil
	case s.Size < 0 || s.Count < 0:
		return "", pferr.Configf("negative bin size %v or count %d", s.Size, s.Count)
	default:
		return "", pferr.Configf("neither bin size nor bin count given")
	}
}

func checkBounds(b Bounds) error {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) {
		return pferr.Dataf("non-finite bounds [%v, %v]", b.Min, b.Max)
	}
	if b.Max < b.Min {
		return pferr.Configf("bounds min %v above max %v", b.Min, b.Max)
	}
	if b.Max == b.Min {
		return pferr.Dataf("degenerate bounds min == max == %v", b.Min)
	}
	return nil
}

// EdgesForCount splits b into count equal bins.
func EdgesForCount(b Bounds, count int) ([]float64, error) {
	if err := checkBounds(b); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, pferr.Configf("bin count %d must be positive", count)
	}
	return floats.Span(make([]float64, count+1), b.Min, b.Max), nil
}

// EdgesForSize covers b with ceil(span/size) bins of exactly size. When the
// bins overhang the extent, the bounds are grown symmetrically so the extra
// width is split evenly between both ends.
func EdgesForSize(b Bounds, size float64) ([]float64, error) {
	if err := checkBounds(b); err != nil {
		return nil, err
	}
	if !(size > 0) || math.IsInf(size, 0) {
		return nil, pferr.Configf("bin size %v must be positive and finite", size)
	}
	span := b.Span()
	n := int(math.Ceil(span/size - sizeTolerance))
	if n < 1 {
		n = 1
	}
	covered := float64(n) * size
	exact := math.Abs(covered-span) <= sizeTolerance*size
	lo := b.Min
	if !exact && covered > span {
		lo -= (covered - span) / 2
	}
	edges := make([]float64, n+1)
	for i := range edges {
		edges[i] = lo + float64(i)*size
	}
	// An exact fit closes on the extent itself, so accumulated rounding never
	// leaves the observed maximum past the last edge.
	if exact || edges[n] < b.Max {
		edges[n] = b.Max
	}
	return edges, nil
}

// Discretize returns, for every coordinate column, the 0-based bin index of
// each value, or -1 when the value falls outside the edges.
func Discretize(coords [][]float64, e Edges) ([][]int, error) {
	if len(coords) != len(e.Edges) {
		return nil, pferr.Configf("%d coordinate columns for %d-D bins", len(coords), len(e.Edges))
	}
	out := make([][]int, len(coords))
	for d, col := range coords {
		idx := make([]int, len(col))
		for i, v := range col {
			idx[i] = ndmap.BinIndex(e.Edges[d], v)
		}
		out[d] = idx
	}
	return out, nil
}
