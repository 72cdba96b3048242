package project

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/stagehand/pkg/runtime"
	"github.com/chazu/stagehand/pkg/value"
)

// CBOR encoding uses canonical mode so identical state always encodes
// to identical bytes; comparison tooling diffs snapshots byte-wise.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("project: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is the observable state of a run: every target's variables
// and execution-relevant visual state.
type Snapshot struct {
	Project string       `cbor:"project"`
	TakenAt time.Time    `cbor:"taken_at"`
	Targets []TargetState `cbor:"targets"`
}

// TargetState is one target's captured state.
type TargetState struct {
	Name      string                 `cbor:"name"`
	X         float64                `cbor:"x"`
	Y         float64                `cbor:"y"`
	Direction float64                `cbor:"direction"`
	Said      string                 `cbor:"said,omitempty"`
	Variables map[string]interface{} `cbor:"variables"`
}

// Capture records the current state of every target.
func Capture(name string, rt *runtime.Runtime) *Snapshot {
	snap := &Snapshot{Project: name, TakenAt: time.Now()}
	for _, t := range rt.Targets() {
		vars := make(map[string]interface{})
		for k, v := range t.Variables() {
			vars[k] = v
		}
		snap.Targets = append(snap.Targets, TargetState{
			Name:      t.Name,
			X:         t.X,
			Y:         t.Y,
			Direction: t.Direction,
			Said:      t.SaidText,
			Variables: vars,
		})
	}
	return snap
}

// Apply restores the snapshot onto matching targets. Targets the
// runtime does not know are skipped.
func (s *Snapshot) Apply(rt *runtime.Runtime) {
	for _, st := range s.Targets {
		t, ok := rt.TargetNamed(st.Name)
		if !ok {
			continue
		}
		t.X = st.X
		t.Y = st.Y
		t.Direction = st.Direction
		t.SaidText = st.Said
		for k, v := range st.Variables {
			t.SetVariable(k, value.Value(v))
		}
	}
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("project: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
