package project

import (
	"fmt"
	"os"

	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/runtime"
)

// BuildTargets instantiates runtime targets from a parsed project
// file, in file order.
func BuildTargets(pf *blocks.ProjectFile) []*runtime.Target {
	targets := make([]*runtime.Target, 0, len(pf.Targets))
	for i := range pf.Targets {
		tf := &pf.Targets[i]
		t := runtime.NewTarget(tf.Name, tf.Graph())
		t.IsStage = tf.IsStage
		t.X = tf.X
		t.Y = tf.Y
		if tf.Direction != 0 {
			t.Direction = tf.Direction
		}
		for name, v := range tf.Variables {
			t.SetVariable(name, v)
		}
		targets = append(targets, t)
	}
	return targets
}

// LoadFile reads and parses a project JSON file from disk.
func LoadFile(path string) (*blocks.ProjectFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	defer f.Close()
	return blocks.ParseProject(f)
}
