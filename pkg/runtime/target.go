package runtime

import (
	"math"
	"sort"

	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/value"
)

// Target is one sprite or the stage: the owner of a block graph,
// variables, and the execution-relevant visual state threads act on.
// Several threads may run against one target concurrently; access is
// serialized by the cooperative scheduler (only one step function
// executes at any instant), so no locking is needed here.
type Target struct {
	Name    string
	IsStage bool
	Graph   *blocks.Graph

	X         float64
	Y         float64
	Direction float64 // degrees, 90 = facing right
	SaidText  string

	variables map[string]value.Value
}

// NewTarget creates a target with an empty variable map.
func NewTarget(name string, g *blocks.Graph) *Target {
	return &Target{
		Name:      name,
		Graph:     g,
		Direction: 90,
		variables: make(map[string]value.Value),
	}
}

// Variable reads a variable; unset variables read as 0.
func (t *Target) Variable(name string) value.Value {
	if v, ok := t.variables[name]; ok {
		return v
	}
	return float64(0)
}

// SetVariable writes a variable.
func (t *Target) SetVariable(name string, v value.Value) {
	t.variables[name] = v
}

// ChangeVariable adds delta to a variable under numeric coercion.
func (t *Target) ChangeVariable(name string, delta float64) {
	t.variables[name] = value.ToNumber(t.Variable(name)) + delta
}

// VariableNames returns the defined variable names, sorted.
func (t *Target) VariableNames() []string {
	names := make([]string, 0, len(t.variables))
	for name := range t.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variables returns a copy of the variable map.
func (t *Target) Variables() map[string]value.Value {
	out := make(map[string]value.Value, len(t.variables))
	for k, v := range t.variables {
		out[k] = v
	}
	return out
}

// MoveSteps advances the target along its current direction.
func (t *Target) MoveSteps(steps float64) {
	rad := (90 - t.Direction) * math.Pi / 180
	t.X += steps * math.Cos(rad)
	t.Y += steps * math.Sin(rad)
}

// GotoXY places the target at the given coordinates.
func (t *Target) GotoXY(x, y float64) {
	t.X = x
	t.Y = y
}

// Turn rotates the target clockwise by degrees (negative turns left),
// wrapping direction into (-180, 180].
func (t *Target) Turn(degrees float64) {
	d := math.Mod(t.Direction+degrees, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	t.Direction = d
}
