package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/placefields/internal/placefield"
	"github.com/banshee-data/placefields/internal/security"
)

// exportedSet is the JSON export layout. Maps are flattened row-major; Shape
// gives the bins per dimension.
type exportedSet struct {
	ID        string           `json:"id,omitempty"`
	Params    string           `json:"params"`
	Shape     []int            `json:"shape"`
	Edges     [][]float64      `json:"edges"`
	Occupancy []float64        `json:"occupancy_seconds"`
	Neurons   []exportedNeuron `json:"neurons"`
}

type exportedNeuron struct {
	ID         int       `json:"id"`
	Shank      int       `json:"shank"`
	Cluster    int       `json:"cluster"`
	PeakHz     float64   `json:"peak_hz"`
	NumSpikes  int       `json:"num_spikes"`
	Tuning     []float64 `json:"tuning"`
	Unsmoothed []float64 `json:"unsmoothed_tuning"`
}

func printSet(out io.Writer, id uuid.UUID, set *placefield.Set) error {
	rm, err := set.Ratemap()
	if err != nil {
		return err
	}
	if id != uuid.Nil {
		fmt.Fprintf(out, "set %s\n", id)
	}
	fmt.Fprintf(out, "%s\n", set)
	peaks := rm.Peaks()
	if len(peaks) > 0 {
		fmt.Fprintf(out, "%d of %d neurons above threshold; peak rate mean %.2f Hz, max %.2f Hz\n",
			len(peaks), len(rm.CandidateIDs), stat.Mean(peaks, nil), floats.Max(peaks))
	}
	for i, nid := range rm.NeuronIDs {
		x := rm.ExtendedIDs[i]
		fmt.Fprintf(out, "  neuron %d (shank %d, cluster %d): peak %.2f Hz, %d spikes\n",
			nid, x.Shank, x.Cluster, peaks[i], len(rm.SpikeTimes[i]))
	}
	return nil
}

func buildExport(id uuid.UUID, set *placefield.Set) (*exportedSet, error) {
	rm, err := set.Ratemap()
	if err != nil {
		return nil, err
	}
	e := &exportedSet{
		Params:    set.Params().String(),
		Shape:     rm.Shape(),
		Edges:     rm.Edges.Edges,
		Occupancy: rm.Occupancy.Seconds.Data(),
	}
	if id != uuid.Nil {
		e.ID = id.String()
	}
	peaks := rm.Peaks()
	for i, nid := range rm.NeuronIDs {
		x := rm.ExtendedIDs[i]
		e.Neurons = append(e.Neurons, exportedNeuron{
			ID:         nid,
			Shank:      x.Shank,
			Cluster:    x.Cluster,
			PeakHz:     peaks[i],
			NumSpikes:  len(rm.SpikeTimes[i]),
			Tuning:     rm.Maps[i].Tuning.Data(),
			Unsmoothed: rm.Maps[i].UnsmoothedTuning.Data(),
		})
	}
	return e, nil
}

// exportSet writes the maps to <dir>/<prefix>-<params>.json.
func exportSet(dir, prefix string, id uuid.UUID, set *placefield.Set) (string, error) {
	e, err := buildExport(id, set)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path, err := security.ExportFile(dir, prefix+"-"+set.FilenameString(), ".json")
	if err != nil {
		return "", fmt.Errorf("invalid export path: %w", err)
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}
