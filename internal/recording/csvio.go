package recording

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/placefields/internal/placefield/pferr"
)

// coordColumns are the recognised coordinate headers, in dimension order.
var coordColumns = []string{"x", "y", "z"}

// ReadPositionCSV parses a position table with a header row. Column "t" is
// required, followed by any prefix of x, y, z. A "speed" column is optional;
// without it speed is derived from the coordinates. Empty cells and "nan"
// read as NaN. rate <= 0 estimates the sampling rate from t.
func ReadPositionCSV(r io.Reader, rate float64) (*Position, error) {
	rows, header, err := readTable(r)
	if err != nil {
		return nil, fmt.Errorf("position csv: %w", err)
	}
	ti, ok := header["t"]
	if !ok {
		return nil, pferr.Configf("position csv: missing t column")
	}
	var dims []int
	for _, name := range coordColumns {
		c, ok := header[name]
		if !ok {
			break
		}
		dims = append(dims, c)
	}
	if len(dims) == 0 {
		return nil, pferr.Configf("position csv: missing x column")
	}
	si, hasSpeed := header["speed"]

	t := make([]float64, len(rows))
	coords := make([][]float64, len(dims))
	for d := range coords {
		coords[d] = make([]float64, len(rows))
	}
	var speed []float64
	if hasSpeed {
		speed = make([]float64, len(rows))
	}
	for i, row := range rows {
		if t[i], err = parseCell(row[ti], false); err != nil {
			return nil, fmt.Errorf("position csv line %d: t: %w", i+2, err)
		}
		for d, c := range dims {
			if coords[d][i], err = parseCell(row[c], true); err != nil {
				return nil, fmt.Errorf("position csv line %d: %s: %w", i+2, coordColumns[d], err)
			}
		}
		if hasSpeed {
			if speed[i], err = parseCell(row[si], true); err != nil {
				return nil, fmt.Errorf("position csv line %d: speed: %w", i+2, err)
			}
		}
	}
	return NewPosition(t, coords, speed, rate)
}

// ReadSpikesCSV parses a spike table with "t" and "neuron_id" columns. When
// "shank" and "cluster" columns are present the unit table is built from
// them; the first row of each neuron wins.
func ReadSpikesCSV(r io.Reader) (*Spikes, error) {
	rows, header, err := readTable(r)
	if err != nil {
		return nil, fmt.Errorf("spike csv: %w", err)
	}
	ti, okT := header["t"]
	ni, okN := header["neuron_id"]
	if !okT || !okN {
		return nil, pferr.Configf("spike csv: t and neuron_id columns are required")
	}
	shank, okS := header["shank"]
	cluster, okC := header["cluster"]
	withUnits := okS && okC

	t := make([]float64, len(rows))
	ids := make([]int, len(rows))
	var units []Unit
	seen := make(map[int]bool)
	for i, row := range rows {
		if t[i], err = parseCell(row[ti], false); err != nil {
			return nil, fmt.Errorf("spike csv line %d: t: %w", i+2, err)
		}
		if ids[i], err = strconv.Atoi(strings.TrimSpace(row[ni])); err != nil {
			return nil, fmt.Errorf("spike csv line %d: neuron_id: %w", i+2, err)
		}
		if !withUnits || seen[ids[i]] {
			continue
		}
		seen[ids[i]] = true
		u := Unit{ID: ids[i]}
		if u.Shank, err = strconv.Atoi(strings.TrimSpace(row[shank])); err != nil {
			return nil, fmt.Errorf("spike csv line %d: shank: %w", i+2, err)
		}
		if u.Cluster, err = strconv.Atoi(strings.TrimSpace(row[cluster])); err != nil {
			return nil, fmt.Errorf("spike csv line %d: cluster: %w", i+2, err)
		}
		units = append(units, u)
	}
	return NewSpikes(t, ids, units)
}

func readTable(r io.Reader) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, pferr.Configf("empty table")
	}
	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return records[1:], header, nil
}

func parseCell(s string, allowMissing bool) (float64, error) {
	s = strings.TrimSpace(s)
	if allowMissing && (s == "" || strings.EqualFold(s, "nan")) {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if !allowMissing && math.IsNaN(v) {
		return 0, fmt.Errorf("NaN not allowed")
	}
	return v, nil
}
