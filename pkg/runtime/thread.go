package runtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/value"
)

// Status is a thread's scheduling state.
type Status int

const (
	StatusRunning Status = iota
	StatusPromiseWait
	StatusYield
	StatusYieldTick
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPromiseWait:
		return "promise-wait"
	case StatusYield:
		return "yield"
	case StatusYieldTick:
		return "yield-tick"
	case StatusDone:
		return "done"
	default:
		return "invalid"
	}
}

// Program is a compiled script: the shared, immutable op sequence for
// its root frame. Threads executing the same program get fresh frames;
// all per-execution state lives in the frames.
type Program struct {
	Top blocks.ID
	Ops []StepFunc
}

// Thread is the execution context for one running script instance: a
// stack of frames plus scheduling status. A thread exclusively owns
// its frames and holds a non-owning reference to its target.
type Thread struct {
	id      string
	target  *Target
	rt      *Runtime
	program *Program

	frames []*Frame

	mu      sync.Mutex // guards status/killed/promise against promise resolution
	status  Status
	killed  bool
	promise *Promise

	warpIterations int
}

func newThread(rt *Runtime, target *Target, program *Program) *Thread {
	th := &Thread{
		id:      uuid.New().String(),
		target:  target,
		rt:      rt,
		program: program,
	}
	th.Restart()
	return th
}

// ID returns the thread's unique identifier.
func (th *Thread) ID() string { return th.id }

// TopBlock returns the script root this thread executes.
func (th *Thread) TopBlock() blocks.ID { return th.program.Top }

// Target returns the sprite/stage this thread runs against.
func (th *Thread) Target() *Target { return th.target }

// Runtime returns the owning runtime context.
func (th *Thread) Runtime() *Runtime { return th.rt }

// Status returns the current scheduling state.
func (th *Thread) Status() Status {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.status
}

func (th *Thread) setStatus(s Status) {
	th.mu.Lock()
	th.status = s
	th.mu.Unlock()
}

// Killed reports whether the thread was hard-stopped.
func (th *Thread) Killed() bool {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.killed
}

// Kill hard-stops the thread. Its frames are dropped immediately; the
// sequencer removes it from the active set at the start of the next
// pass. A pending promise resolution becomes a no-op. Kill must run on
// the scheduling goroutine: it drops frames that Step reads unguarded.
func (th *Thread) Kill() {
	th.mu.Lock()
	th.killed = true
	th.status = StatusDone
	th.promise = nil
	th.mu.Unlock()
	th.frames = nil
}

// Restart resets the thread to the top of its script, reusing its
// identity and list position. Hat re-triggers use this.
func (th *Thread) Restart() {
	th.mu.Lock()
	th.status = StatusRunning
	th.killed = false
	th.promise = nil
	th.mu.Unlock()
	th.warpIterations = 0
	th.frames = []*Frame{{Ops: th.program.Ops, Block: th.program.Top}}
}

// Depth returns the current frame stack depth.
func (th *Thread) Depth() int { return len(th.frames) }

// Frame returns the current (top) frame, or nil when the stack is
// exhausted.
func (th *Thread) Frame() *Frame {
	if len(th.frames) == 0 {
		return nil
	}
	return th.frames[len(th.frames)-1]
}

// PushFrame enters a branch, substack, or procedure body. Warp mode is
// inherited: once a frame is warped, everything nested under it is.
func (th *Thread) PushFrame(f *Frame) {
	if cur := th.Frame(); cur != nil && cur.Warp {
		f.Warp = true
	}
	th.frames = append(th.frames, f)
}

func (th *Thread) popFrame() {
	if len(th.frames) > 0 {
		th.frames = th.frames[:len(th.frames)-1]
	}
}

// Param resolves a procedure parameter from the nearest enclosing
// frame that carries params. Missing parameters read as 0.
func (th *Thread) Param(name string) value.Value {
	for i := len(th.frames) - 1; i >= 0; i-- {
		if th.frames[i].Params != nil {
			if v, ok := th.frames[i].Params[name]; ok {
				return v
			}
			return float64(0)
		}
	}
	return float64(0)
}

// BreakLoop unwinds to the nearest breakable frame and exits it.
// Unwinding never crosses a procedure-call boundary: hitting one first
// swallows the break.
func (th *Thread) BreakLoop() {
	for i := len(th.frames) - 1; i >= 0; i-- {
		f := th.frames[i]
		if f.ProcBoundary {
			return
		}
		if f.IsBreakable {
			th.frames = th.frames[:i]
			return
		}
	}
}

// ContinueLoop unwinds to the nearest loop frame and jumps to the end
// of its current iteration. Same boundary rule as BreakLoop.
func (th *Thread) ContinueLoop() {
	for i := len(th.frames) - 1; i >= 0; i-- {
		f := th.frames[i]
		if f.ProcBoundary {
			return
		}
		if f.IsLoop {
			th.frames = th.frames[:i+1]
			f.PC = len(f.Ops)
			return
		}
	}
}

// StopScript ends this thread cleanly (the stop-this-script block).
func (th *Thread) StopScript() StepResult {
	th.frames = nil
	return Done()
}

// Say publishes say-bubble text for this thread's target.
func (th *Thread) Say(text string) {
	th.target.SaidText = text
	th.rt.notify(Event{
		Kind:     EventSay,
		ThreadID: th.id,
		Target:   th.target.Name,
		Message:  text,
	})
}

// Step advances the thread until it yields, waits, or finishes. This
// is the only place frames advance; within one call the frame stack is
// strictly sequential. Warp frames do not give up control here until
// their region completes or the safety bound forces a yield.
func (th *Thread) Step() StepResult {
	th.warpIterations = 0
	for {
		if th.Killed() {
			return Done()
		}
		f := th.Frame()
		if f == nil {
			th.setStatus(StatusDone)
			return Done()
		}

		if f.PC >= len(f.Ops) {
			if f.IsLoop && f.Loop != nil {
				if !f.Loop.Again(th) {
					th.popFrame()
					continue
				}
				f.PC = 0
				if f.Warp {
					th.warpIterations++
					if th.warpIterations >= th.rt.cfg.WarpCap {
						// Liveness beats warp atomicity: force the
						// yield and tell the host.
						th.rt.notify(Event{
							Kind:     EventWarpCapExceeded,
							ThreadID: th.id,
							Target:   th.target.Name,
							Block:    f.Block,
						})
						th.setStatus(StatusYield)
						return Yield()
					}
					continue
				}
				th.setStatus(StatusYield)
				return Yield()
			}
			th.popFrame()
			continue
		}

		op := f.Ops[f.PC]
		f.PC++

		res := op(th)
		switch res.Kind {
		case StepContinue, StepEnter:
			// keep going within this pass
		case StepYield:
			th.setStatus(StatusYield)
			return res
		case StepYieldTick:
			th.setStatus(StatusYieldTick)
			return res
		case StepWait:
			th.mu.Lock()
			th.status = StatusPromiseWait
			th.promise = res.Promise
			th.mu.Unlock()
			// A resolution that landed before the park (the op resolved
			// synchronously, or a host goroutine won the race) found the
			// thread still running and its wakeup went nowhere. Reclaim
			// it instead of parking forever.
			if res.Promise != nil && res.Promise.Resolved() {
				th.resumeFromPromise(res.Promise)
				continue
			}
			return res
		case StepDone:
			th.frames = nil
			th.setStatus(StatusDone)
			return res
		}
	}
}

// resumeFromPromise transitions a parked thread back to running. A
// killed or already-moved-on thread ignores the resolution.
func (th *Thread) resumeFromPromise(p *Promise) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.killed || th.status != StatusPromiseWait || th.promise != p {
		return
	}
	th.status = StatusRunning
	th.promise = nil
}
