package runtime

import (
	"testing"

	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/value"
)

func newTestRuntime(cfg Config) *Runtime {
	return New(cfg)
}

func addThread(rt *Runtime, target *Target, top blocks.ID, ops []StepFunc) *Thread {
	th := newThread(rt, target, &Program{Top: top, Ops: ops})
	rt.threads = append(rt.threads, th)
	return th
}

func incrOp(name string) StepFunc {
	return func(th *Thread) StepResult {
		th.Target().ChangeVariable(name, 1)
		return Continue()
	}
}

func enterLoop(body []StepFunc, loop LoopState, warp bool) StepFunc {
	return func(th *Thread) StepResult {
		th.PushFrame(&Frame{
			Ops:         body,
			IsLoop:      true,
			IsBreakable: true,
			Warp:        warp,
			Loop:        loop,
		})
		return Enter()
	}
}

func numVar(t *testing.T, target *Target, name string) float64 {
	t.Helper()
	return value.ToNumber(target.Variable(name))
}

func TestThreadRunsToCompletion(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())
	th := addThread(rt, target, "top", []StepFunc{
		incrOp("n"),
		incrOp("n"),
		incrOp("n"),
	})

	res := th.Step()
	if res.Kind != StepDone {
		t.Fatalf("Step result = %v, want done", res.Kind)
	}
	if th.Status() != StatusDone {
		t.Errorf("status = %v, want done", th.Status())
	}
	if got := numVar(t, target, "n"); got != 3 {
		t.Errorf("n = %v, want 3", got)
	}
}

func TestThreadYieldsOncePerLoopIteration(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())
	th := addThread(rt, target, "top", []StepFunc{
		enterLoop([]StepFunc{incrOp("n")}, &RepeatLoop{Remaining: 3}, false),
	})

	for i := 1; i <= 2; i++ {
		res := th.Step()
		if res.Kind != StepYield {
			t.Fatalf("iteration %d: Step result = %v, want yield", i, res.Kind)
		}
		if got := numVar(t, target, "n"); got != float64(i) {
			t.Fatalf("iteration %d: n = %v, want %d", i, got, i)
		}
		th.setStatus(StatusRunning)
	}

	// Final iteration exhausts the loop and the root frame.
	if res := th.Step(); res.Kind != StepDone {
		t.Fatalf("final Step result = %v, want done", res.Kind)
	}
	if got := numVar(t, target, "n"); got != 3 {
		t.Errorf("n = %v, want 3", got)
	}
}

func TestWarpLoopCompletesWithoutYielding(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())
	th := addThread(rt, target, "top", []StepFunc{
		enterLoop([]StepFunc{incrOp("n")}, &RepeatLoop{Remaining: 1000}, true),
	})

	res := th.Step()
	if res.Kind != StepDone {
		t.Fatalf("Step result = %v, want done (warp regions run atomically)", res.Kind)
	}
	if got := numVar(t, target, "n"); got != 1000 {
		t.Errorf("n = %v, want 1000", got)
	}
}

func TestWarpCapForcesYield(t *testing.T) {
	rt := newTestRuntime(Config{WarpCap: 100})
	target := NewTarget("sprite", blocks.NewGraph())

	capEvents := 0
	rt.AddListener(func(ev Event) {
		if ev.Kind == EventWarpCapExceeded {
			capEvents++
		}
	})

	th := addThread(rt, target, "top", []StepFunc{
		enterLoop([]StepFunc{incrOp("n")}, ForeverLoop{}, true),
	})

	res := th.Step()
	if res.Kind != StepYield {
		t.Fatalf("Step result = %v, want forced yield", res.Kind)
	}
	if got := numVar(t, target, "n"); got != 100 {
		t.Errorf("n = %v, want exactly the cap (100)", got)
	}
	if capEvents != 1 {
		t.Errorf("cap events = %d, want 1", capEvents)
	}

	// The bound applies per step call, not cumulatively.
	th.setStatus(StatusRunning)
	th.Step()
	if got := numVar(t, target, "n"); got != 200 {
		t.Errorf("n after second step = %v, want 200", got)
	}
}

func TestBreakExitsNearestLoop(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	breakOp := func(th *Thread) StepResult {
		th.BreakLoop()
		return Continue()
	}
	th := addThread(rt, target, "top", []StepFunc{
		enterLoop([]StepFunc{incrOp("n"), breakOp}, &RepeatLoop{Remaining: 5}, false),
		incrOp("after"),
	})

	if res := th.Step(); res.Kind != StepDone {
		t.Fatalf("Step result = %v, want done", res.Kind)
	}
	if got := numVar(t, target, "n"); got != 1 {
		t.Errorf("n = %v, want 1 (break after first iteration)", got)
	}
	if got := numVar(t, target, "after"); got != 1 {
		t.Errorf("after = %v, want 1 (execution continues past the loop)", got)
	}
}

func TestContinueSkipsRestOfIteration(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	continueOp := func(th *Thread) StepResult {
		th.ContinueLoop()
		return Continue()
	}
	th := addThread(rt, target, "top", []StepFunc{
		enterLoop([]StepFunc{incrOp("hit"), continueOp, incrOp("skipped")},
			&RepeatLoop{Remaining: 3}, true),
	})

	if res := th.Step(); res.Kind != StepDone {
		t.Fatalf("Step result = %v, want done", res.Kind)
	}
	if got := numVar(t, target, "hit"); got != 3 {
		t.Errorf("hit = %v, want 3", got)
	}
	if got := numVar(t, target, "skipped"); got != 0 {
		t.Errorf("skipped = %v, want 0", got)
	}
}

func TestBreakNeverCrossesProcedureBoundary(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	breakOp := func(th *Thread) StepResult {
		th.BreakLoop()
		return Continue()
	}
	callProc := func(th *Thread) StepResult {
		th.PushFrame(&Frame{Ops: []StepFunc{breakOp}, ProcBoundary: true})
		return Enter()
	}
	th := addThread(rt, target, "top", []StepFunc{
		enterLoop([]StepFunc{incrOp("n"), callProc}, &RepeatLoop{Remaining: 3}, true),
	})

	if res := th.Step(); res.Kind != StepDone {
		t.Fatalf("Step result = %v, want done", res.Kind)
	}
	// The break inside the procedure is swallowed at the boundary; the
	// loop still runs all iterations.
	if got := numVar(t, target, "n"); got != 3 {
		t.Errorf("n = %v, want 3", got)
	}
}

func TestPromiseParksAndResumesThread(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	var p *Promise
	waitOp := func(th *Thread) StepResult {
		if p == nil {
			p = NewPromise(th)
			th.Frame().PC--
			return Wait(p)
		}
		th.Target().SetVariable("result", p.Value())
		return Continue()
	}
	th := addThread(rt, target, "top", []StepFunc{waitOp})

	if res := th.Step(); res.Kind != StepWait {
		t.Fatalf("Step result = %v, want wait", res.Kind)
	}
	if th.Status() != StatusPromiseWait {
		t.Fatalf("status = %v, want promise-wait", th.Status())
	}

	p.Resolve("answer")
	if th.Status() != StatusRunning {
		t.Fatalf("status after resolve = %v, want running", th.Status())
	}

	if res := th.Step(); res.Kind != StepDone {
		t.Fatalf("Step result = %v, want done", res.Kind)
	}
	if got := target.Variable("result"); got != "answer" {
		t.Errorf("result = %v, want %q", got, "answer")
	}
}

// A promise resolved before the thread parks must not strand it in
// promise-wait: the thread reclaims the result and keeps running.
func TestPromiseResolvedBeforeParkKeepsRunning(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	var p *Promise
	instantOp := func(th *Thread) StepResult {
		if p == nil {
			p = NewPromise(th)
			p.Resolve("instant")
			th.Frame().PC--
			return Wait(p)
		}
		th.Target().SetVariable("result", p.Value())
		return Continue()
	}
	th := addThread(rt, target, "top", []StepFunc{instantOp})

	if res := th.Step(); res.Kind != StepDone {
		t.Fatalf("Step result = %v, want done", res.Kind)
	}
	if th.Status() != StatusDone {
		t.Errorf("status = %v, want done", th.Status())
	}
	if got := target.Variable("result"); got != "instant" {
		t.Errorf("result = %v, want %q", got, "instant")
	}
}

func TestResolvingKilledThreadPromiseIsNoOp(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	var p *Promise
	waitOp := func(th *Thread) StepResult {
		p = NewPromise(th)
		return Wait(p)
	}
	th := addThread(rt, target, "top", []StepFunc{waitOp})
	th.Step()

	th.Kill()
	p.Resolve("late")

	if th.Status() != StatusDone {
		t.Errorf("status = %v, want done", th.Status())
	}
	if !th.Killed() {
		t.Errorf("thread no longer killed after late resolution")
	}
}

func TestRestartPreservesIdentity(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())
	th := addThread(rt, target, "top", []StepFunc{incrOp("n")})

	th.Step()
	if th.Status() != StatusDone {
		t.Fatalf("status = %v, want done", th.Status())
	}

	id := th.ID()
	th.Restart()
	if th.ID() != id {
		t.Errorf("restart changed thread id")
	}
	if th.Status() != StatusRunning {
		t.Errorf("status after restart = %v, want running", th.Status())
	}

	th.Step()
	if got := numVar(t, target, "n"); got != 2 {
		t.Errorf("n = %v, want 2 (body ran again from the top)", got)
	}
}

func TestParamResolvesNearestFrame(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())
	th := addThread(rt, target, "top", nil)

	th.PushFrame(&Frame{Params: map[string]value.Value{"X": float64(1)}})
	th.PushFrame(&Frame{}) // branch inside the procedure
	th.PushFrame(&Frame{Params: map[string]value.Value{"X": float64(2)}})

	if got := th.Param("X"); got != float64(2) {
		t.Errorf("Param(X) = %v, want 2 (innermost binding wins)", got)
	}
	if got := th.Param("missing"); got != float64(0) {
		t.Errorf("Param(missing) = %v, want 0", got)
	}
}
