package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/chazu/stagehand/pkg/blocks"
)

// stubCompiler hands out canned programs for hat-dispatch tests.
type stubCompiler struct {
	programs map[blocks.ID]*Program
	err      error
}

func (s *stubCompiler) Compile(_ *Target, top blocks.ID) (*Program, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.programs[top]
	if !ok {
		return &Program{Top: top}, nil
	}
	return p, nil
}

func logOp(log *[]string, entry string) StepFunc {
	return func(*Thread) StepResult {
		*log = append(*log, entry)
		return Continue()
	}
}

func TestTickStepsThreadsInStartOrder(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	// Three counter loops started in order; every tick steps them in
	// that same order, one iteration each.
	var log []string
	for _, name := range []string{"A", "B", "C"} {
		name := name
		body := []StepFunc{func(th *Thread) StepResult {
			log = append(log, name)
			th.Target().ChangeVariable(name, 1)
			return Continue()
		}}
		addThread(rt, target, blocks.ID("top-"+name), []StepFunc{
			enterLoop(body, ForeverLoop{}, false),
		})
	}

	for tick := 0; tick < 5; tick++ {
		rt.Tick()
	}

	want := []string{"A", "B", "C", "A", "B", "C", "A", "B", "C", "A", "B", "C", "A", "B", "C"}
	if len(log) != len(want) {
		t.Fatalf("log has %d entries, want %d: %v", len(log), len(want), log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %q, want %q (full: %v)", i, log[i], want[i], log)
		}
	}
	for _, name := range []string{"A", "B", "C"} {
		if got := numVar(t, target, name); got != 5 {
			t.Errorf("%s = %v, want 5", name, got)
		}
	}
}

func TestThreadSteppedAtMostOncePerPass(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	// Both threads yield-tick after their first op, so the tick needs a
	// second pass. Within each pass every thread runs at most once.
	var log []string
	yieldTick := func(*Thread) StepResult { return YieldTick() }
	addThread(rt, target, "a", []StepFunc{logOp(&log, "A1"), yieldTick, logOp(&log, "A2")})
	addThread(rt, target, "b", []StepFunc{logOp(&log, "B1"), yieldTick, logOp(&log, "B2")})

	rt.Tick()

	want := []string{"A1", "B1", "A2", "B2"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
	if rt.ThreadCount() != 0 {
		t.Errorf("active threads = %d, want 0", rt.ThreadCount())
	}
}

func TestBudgetDefersRemainingThreads(t *testing.T) {
	// A fake clock that jumps 20ms on every step against a 25ms budget
	// (30fps, 0.75 work fraction): the first tick fits two steps.
	now := time.Unix(0, 0)
	rt := newTestRuntime(Config{
		FrameRate:    30,
		WorkFraction: 0.75,
		Now:          func() time.Time { return now },
	})
	target := NewTarget("sprite", blocks.NewGraph())

	for _, name := range []string{"A", "B", "C"} {
		name := name
		addThread(rt, target, blocks.ID("top-"+name), []StepFunc{
			func(th *Thread) StepResult {
				now = now.Add(20 * time.Millisecond)
				th.Target().ChangeVariable(name, 1)
				return Yield()
			},
			incrOp(name + "-done"),
		})
	}

	rt.Tick()
	if a, b, c := numVar(t, target, "A"), numVar(t, target, "B"), numVar(t, target, "C"); a != 1 || b != 1 || c != 0 {
		t.Fatalf("after tick 1: A=%v B=%v C=%v, want 1 1 0 (C deferred)", a, b, c)
	}

	// The deferred thread is still running and keeps its position.
	rt.Tick()
	if c := numVar(t, target, "C"); c != 1 {
		t.Errorf("after tick 2: C = %v, want 1", c)
	}
}

func TestFaultIsolation(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	var faults []Event
	rt.AddListener(func(ev Event) {
		if ev.Kind == EventThreadFault {
			faults = append(faults, ev)
		}
	})

	bad := addThread(rt, target, "bad", []StepFunc{
		func(*Thread) StepResult { panic("boom") },
	})
	addThread(rt, target, "good", []StepFunc{
		incrOp("n"), incrOp("n"),
	})

	rt.Tick()

	if len(faults) != 1 {
		t.Fatalf("fault events = %d, want 1", len(faults))
	}
	if faults[0].ThreadID != bad.ID() {
		t.Errorf("fault thread = %s, want %s", faults[0].ThreadID, bad.ID())
	}
	if !bad.Killed() {
		t.Errorf("faulting thread not killed")
	}
	if got := numVar(t, target, "n"); got != 2 {
		t.Errorf("n = %v, want 2 (other thread unaffected)", got)
	}
	if rt.ThreadCount() != 0 {
		t.Errorf("active threads = %d, want 0", rt.ThreadCount())
	}
}

func TestHandlerErrorFaultsOnlyThatThread(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	var faults int
	rt.AddListener(func(ev Event) {
		if ev.Kind == EventThreadFault {
			faults++
		}
	})

	failing := addThread(rt, target, "bad", []StepFunc{
		func(th *Thread) StepResult {
			th.Runtime().Sequencer().Fault(th, errors.New("extension failed"))
			return Done()
		},
	})
	addThread(rt, target, "good", []StepFunc{incrOp("n")})

	rt.Tick()

	if faults != 1 {
		t.Errorf("fault events = %d, want 1", faults)
	}
	if !failing.Killed() {
		t.Errorf("failing thread not killed")
	}
	if got := numVar(t, target, "n"); got != 1 {
		t.Errorf("n = %v, want 1", got)
	}
}

func TestAllThreadsFinishedEvent(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	var allDone int
	rt.AddListener(func(ev Event) {
		if ev.Kind == EventAllThreadsFinished {
			allDone++
		}
	})

	addThread(rt, target, "a", []StepFunc{incrOp("n")})
	addThread(rt, target, "b", []StepFunc{incrOp("n")})

	finished := rt.Tick()
	if len(finished) != 2 {
		t.Errorf("finished = %d, want 2", len(finished))
	}
	if allDone != 1 {
		t.Errorf("all-threads-finished events = %d, want 1", allDone)
	}

	// An idle tick emits nothing further.
	rt.Tick()
	if allDone != 1 {
		t.Errorf("all-threads-finished events after idle tick = %d, want 1", allDone)
	}
}

func hatGraph(t *testing.T, tops map[blocks.ID]string) *blocks.Graph {
	t.Helper()
	g := blocks.NewGraph()
	for id, opcode := range tops {
		g.Add(id, &blocks.Block{Opcode: opcode})
	}
	return g
}

func TestGreenFlagStartsMatchingHats(t *testing.T) {
	g := hatGraph(t, map[blocks.ID]string{
		"flag1":  "event_whenflagclicked",
		"flag2":  "event_whenflagclicked",
		"bcast1": "event_whenbroadcastreceived",
	})

	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", g)
	rt.AddTarget(target)
	rt.SetCompiler(&stubCompiler{programs: map[blocks.ID]*Program{
		"flag1": {Top: "flag1", Ops: []StepFunc{incrOp("n")}},
		"flag2": {Top: "flag2", Ops: []StepFunc{incrOp("n")}},
	}})

	started := rt.GreenFlag()
	if len(started) != 2 {
		t.Fatalf("started %d threads, want 2", len(started))
	}
	rt.Tick()
	if got := numVar(t, target, "n"); got != 2 {
		t.Errorf("n = %v, want 2", got)
	}
}

func TestHatRetriggerRestartsInPlace(t *testing.T) {
	g := hatGraph(t, map[blocks.ID]string{"flag": "event_whenflagclicked"})

	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", g)
	rt.AddTarget(target)
	rt.SetCompiler(&stubCompiler{programs: map[blocks.ID]*Program{
		"flag": {Top: "flag", Ops: []StepFunc{
			incrOp("n"),
			func(*Thread) StepResult { return Yield() },
			incrOp("finished"),
		}},
	}})

	first := rt.StartHats("event_whenflagclicked", nil, nil)
	rt.Tick() // runs up to the yield

	second := rt.StartHats("event_whenflagclicked", nil, nil)
	if len(second) != 1 || second[0] != first[0] {
		t.Fatalf("retrigger created a new thread instead of restarting")
	}
	if rt.ThreadCount() != 1 {
		t.Fatalf("active threads = %d, want 1", rt.ThreadCount())
	}

	rt.Tick()
	rt.Tick()
	// First run never passed the yield, so the tail ran exactly once.
	if got := numVar(t, target, "finished"); got != 1 {
		t.Errorf("finished = %v, want 1", got)
	}
	if got := numVar(t, target, "n"); got != 2 {
		t.Errorf("n = %v, want 2 (restart re-ran the head)", got)
	}
}

func TestCompileErrorEmitsEventAndStartsNothing(t *testing.T) {
	g := hatGraph(t, map[blocks.ID]string{"flag": "event_whenflagclicked"})

	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", g)
	rt.AddTarget(target)
	rt.SetCompiler(&stubCompiler{err: errors.New("structural error")})

	var compileErrors []Event
	rt.AddListener(func(ev Event) {
		if ev.Kind == EventCompileError {
			compileErrors = append(compileErrors, ev)
		}
	})

	started := rt.StartHats("event_whenflagclicked", nil, nil)
	if len(started) != 0 {
		t.Errorf("started %d threads, want 0", len(started))
	}
	if len(compileErrors) != 1 {
		t.Fatalf("compile-error events = %d, want 1", len(compileErrors))
	}
	if compileErrors[0].Block != blocks.ID("flag") {
		t.Errorf("event block = %q, want flag", compileErrors[0].Block)
	}
}

func TestBroadcastMatchesFieldCaseInsensitively(t *testing.T) {
	g := blocks.NewGraph()
	g.Add("recv", &blocks.Block{
		Opcode: "event_whenbroadcastreceived",
		Fields: map[string]string{"BROADCAST_OPTION": "Ping"},
	})

	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", g)
	rt.AddTarget(target)
	rt.SetCompiler(&stubCompiler{programs: map[blocks.ID]*Program{
		"recv": {Top: "recv", Ops: []StepFunc{incrOp("n")}},
	}})

	if started := rt.Broadcast("pong"); len(started) != 0 {
		t.Errorf("broadcast pong started %d threads, want 0", len(started))
	}
	if started := rt.Broadcast("PING"); len(started) != 1 {
		t.Errorf("broadcast PING started %d threads, want 1", len(started))
	}
}

func TestBroadcastFromOpRunsReceiverNextPass(t *testing.T) {
	g := blocks.NewGraph()
	g.Add("recv", &blocks.Block{
		Opcode: "event_whenbroadcastreceived",
		Fields: map[string]string{"BROADCAST_OPTION": "go"},
	})

	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", g)
	rt.AddTarget(target)

	var log []string
	rt.SetCompiler(&stubCompiler{programs: map[blocks.ID]*Program{
		"recv": {Top: "recv", Ops: []StepFunc{logOp(&log, "receiver")}},
	}})

	addThread(rt, target, "sender", []StepFunc{
		func(th *Thread) StepResult {
			th.Runtime().Broadcast("go")
			log = append(log, "sender")
			return Continue()
		},
	})

	rt.Tick()

	// The receiver joined behind the sender and ran in a later pass of
	// the same tick, never mid-pass.
	if len(log) != 2 || log[0] != "sender" || log[1] != "receiver" {
		t.Fatalf("log = %v, want [sender receiver]", log)
	}
}

func TestStopAllKillsEverything(t *testing.T) {
	rt := newTestRuntime(Config{})
	target := NewTarget("sprite", blocks.NewGraph())

	for i := 0; i < 3; i++ {
		addThread(rt, target, blocks.ID(rune('a'+i)), []StepFunc{
			enterLoop([]StepFunc{incrOp("n")}, ForeverLoop{}, false),
		})
	}

	rt.Tick()
	rt.StopAll()
	rt.Tick()

	if rt.ThreadCount() != 0 {
		t.Errorf("active threads = %d, want 0", rt.ThreadCount())
	}
	if got := numVar(t, target, "n"); got != 3 {
		t.Errorf("n = %v, want 3 (no steps after stop)", got)
	}
}
