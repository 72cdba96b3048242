// Package project handles project-level concerns around the engine:
// the stagehand.toml manifest, the persistent project store, and state
// snapshots for saving and comparing runs.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/stagehand/pkg/runtime"
)

// Manifest represents a stagehand.toml project configuration.
type Manifest struct {
	Project ProjectMeta  `toml:"project"`
	Engine  EngineConfig `toml:"engine"`
	Store   StoreConfig  `toml:"store"`

	// Dir is the directory containing the stagehand.toml file (set at
	// load time).
	Dir string `toml:"-"`
}

// ProjectMeta contains project metadata.
type ProjectMeta struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	// Entry is the project JSON file, relative to the manifest.
	Entry string `toml:"entry"`
}

// EngineConfig tunes the scheduler.
type EngineConfig struct {
	FrameRate    int     `toml:"frame-rate"`
	WorkFraction float64 `toml:"work-fraction"`
	WarpCap      int     `toml:"warp-cap"`
}

// StoreConfig configures project persistence.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LoadManifest parses a stagehand.toml file from the given directory.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "stagehand.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Project.Entry == "" {
		m.Project.Entry = "project.json"
	}
	if m.Store.Path == "" {
		m.Store.Path = "stagehand.db"
	}

	return &m, nil
}

// EntryPath returns the absolute path of the project JSON file.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.Dir, m.Project.Entry)
}

// StorePath returns the absolute path of the project database.
func (m *Manifest) StorePath() string {
	return filepath.Join(m.Dir, m.Store.Path)
}

// RuntimeConfig converts the engine section to a runtime configuration.
// Unset values fall back to the runtime defaults.
func (m *Manifest) RuntimeConfig() runtime.Config {
	return runtime.Config{
		FrameRate:    m.Engine.FrameRate,
		WorkFraction: m.Engine.WorkFraction,
		WarpCap:      m.Engine.WarpCap,
	}
}
