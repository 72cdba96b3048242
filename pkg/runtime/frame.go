package runtime

import (
	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/value"
)

// StepKind is the outcome of running one step function. The sequencer
// and the thread's inner loop pattern-match on it instead of branching
// on mutable status flags.
type StepKind int

const (
	// StepContinue keeps executing within the current pass.
	StepContinue StepKind = iota
	// StepEnter means the op pushed a frame; execution continues into it.
	StepEnter
	// StepYield hands control back until the next tick.
	StepYield
	// StepYieldTick hands control back for the rest of this pass but
	// may resume later in the same tick if budget remains.
	StepYieldTick
	// StepWait parks the thread until the attached promise resolves.
	StepWait
	// StepDone ends the thread.
	StepDone
)

// StepResult is the value returned from each step call.
type StepResult struct {
	Kind    StepKind
	Promise *Promise
}

// Shorthand constructors for the common results.
func Continue() StepResult          { return StepResult{Kind: StepContinue} }
func Enter() StepResult             { return StepResult{Kind: StepEnter} }
func Yield() StepResult             { return StepResult{Kind: StepYield} }
func YieldTick() StepResult         { return StepResult{Kind: StepYieldTick} }
func Wait(p *Promise) StepResult    { return StepResult{Kind: StepWait, Promise: p} }
func Done() StepResult              { return StepResult{Kind: StepDone} }

// StepFunc is one compiled operation. It runs against the thread's
// current frame and target.
type StepFunc func(*Thread) StepResult

// LoopState decides, when a loop frame's body completes, whether to run
// another iteration.
type LoopState interface {
	Again(*Thread) bool
}

// RepeatLoop runs a fixed number of iterations. Remaining counts the
// iterations still owed including the one currently executing.
type RepeatLoop struct {
	Remaining int
}

func (l *RepeatLoop) Again(*Thread) bool {
	l.Remaining--
	return l.Remaining > 0
}

// ForeverLoop never exits on its own; only break or stop ends it.
type ForeverLoop struct{}

func (ForeverLoop) Again(*Thread) bool { return true }

// CondLoop re-evaluates a condition before each further iteration.
// Until inverts the test (repeat-until vs while).
type CondLoop struct {
	Cond  func(*Thread) bool
	Until bool
}

func (l *CondLoop) Again(th *Thread) bool {
	c := l.Cond(th)
	if l.Until {
		return !c
	}
	return c
}

// Frame is one activation record in a thread's stack: a branch,
// substack, or procedure body. Frames are exclusively owned by their
// thread and never shared.
type Frame struct {
	Ops   []StepFunc
	PC    int
	Block blocks.ID

	IsLoop       bool
	IsBreakable  bool
	Warp         bool
	ProcBoundary bool

	Loop   LoopState
	Params map[string]value.Value

	// ctx is per-frame scratch state for ops that span steps (timed
	// waits record their deadline here).
	ctx map[string]value.Value
}

// CtxGet reads per-frame execution context.
func (f *Frame) CtxGet(key string) (value.Value, bool) {
	if f.ctx == nil {
		return nil, false
	}
	v, ok := f.ctx[key]
	return v, ok
}

// CtxSet writes per-frame execution context.
func (f *Frame) CtxSet(key string, v value.Value) {
	if f.ctx == nil {
		f.ctx = make(map[string]value.Value)
	}
	f.ctx[key] = v
}

// CtxDelete clears one context key.
func (f *Frame) CtxDelete(key string) {
	if f.ctx != nil {
		delete(f.ctx, key)
	}
}
