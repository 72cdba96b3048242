package blocks

import (
	"encoding/json"
	"fmt"
	"io"
)

// ProjectFile is the on-disk JSON shape produced by the editor/loader
// collaborator: a list of targets, each with its block graph and
// variables.
type ProjectFile struct {
	Targets []TargetFile `json:"targets"`
}

// TargetFile is one sprite or stage as serialized in a project file.
type TargetFile struct {
	Name      string                 `json:"name"`
	IsStage   bool                   `json:"is_stage,omitempty"`
	X         float64                `json:"x,omitempty"`
	Y         float64                `json:"y,omitempty"`
	Direction float64                `json:"direction,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Blocks    map[ID]*Block          `json:"blocks"`
}

// Graph builds a Graph from the serialized block map.
func (tf *TargetFile) Graph() *Graph {
	g := NewGraph()
	for id, b := range tf.Blocks {
		g.Add(id, b)
	}
	return g
}

// ParseProject reads project JSON from a reader.
func ParseProject(r io.Reader) (*ProjectFile, error) {
	var pf ProjectFile
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}
	return &pf, nil
}

// ParseProjectBytes parses project JSON from a byte slice.
func ParseProjectBytes(data []byte) (*ProjectFile, error) {
	var pf ProjectFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}
	return &pf, nil
}
