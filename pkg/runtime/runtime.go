// Package runtime implements the cooperative script engine: threads,
// frames, the sequencer that advances them once per pass, and the
// runtime that owns the thread set and dispatches hat triggers.
//
// The model is single-threaded cooperative multitasking. Threads are a
// userland scheduling abstraction; only one thread's step function
// executes at any instant, so scripts see "last write wins within a
// tick" on shared target state with no locking.
package runtime

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chazu/stagehand/pkg/blocks"
)

// Defaults for the scheduling configuration.
const (
	DefaultFrameRate    = 30
	DefaultWorkFraction = 0.75
	DefaultWarpCap      = 500_000
)

// Config tunes the engine. The zero value is usable: defaults apply on
// New.
type Config struct {
	// FrameRate is the target ticks per second; the per-pass budget
	// derives from it.
	FrameRate int
	// WorkFraction is the fraction of the frame interval the
	// sequencer may spend stepping threads before deferring the rest.
	WorkFraction float64
	// WarpCap bounds iterations inside an atomic warp region before a
	// forced yield keeps the host alive.
	WarpCap int
	// Logger receives structured diagnostics; nil means no logging.
	Logger *zap.Logger
	// Now is the clock used for budget checks; nil means time.Now.
	// Tests inject a fake clock here.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	if c.WorkFraction <= 0 || c.WorkFraction > 1 {
		c.WorkFraction = DefaultWorkFraction
	}
	if c.WarpCap <= 0 {
		c.WarpCap = DefaultWarpCap
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Compiler turns a script rooted at a top block into an executable
// program. The code generator implements this; tests substitute stubs.
type Compiler interface {
	Compile(target *Target, top blocks.ID) (*Program, error)
}

// Runtime owns the targets and the active thread set, dispatches hat
// triggers, and emits lifecycle events to the host. It is an explicit
// handle threaded through calls; nothing here is ambient global state.
type Runtime struct {
	cfg       Config
	log       *zap.Logger
	compiler  Compiler
	targets   []*Target
	threads   []*Thread
	listeners []Listener
	seq       *Sequencer
}

// New creates a runtime with the given configuration.
func New(cfg Config) *Runtime {
	cfg.applyDefaults()
	rt := &Runtime{cfg: cfg, log: cfg.Logger}
	rt.seq = &Sequencer{rt: rt}
	return rt
}

// SetCompiler installs the script compiler. Must be set before any
// trigger dispatch.
func (rt *Runtime) SetCompiler(c Compiler) { rt.compiler = c }

// AddTarget registers a sprite/stage with the runtime.
func (rt *Runtime) AddTarget(t *Target) { rt.targets = append(rt.targets, t) }

// Targets returns the registered targets in registration order.
func (rt *Runtime) Targets() []*Target { return rt.targets }

// TargetNamed finds a target by name.
func (rt *Runtime) TargetNamed(name string) (*Target, bool) {
	for _, t := range rt.targets {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// AddListener subscribes to runtime events.
func (rt *Runtime) AddListener(l Listener) {
	rt.listeners = append(rt.listeners, l)
}

func (rt *Runtime) notify(ev Event) {
	for _, l := range rt.listeners {
		l(ev)
	}
}

// Sequencer returns the scheduler bound to this runtime.
func (rt *Runtime) Sequencer() *Sequencer { return rt.seq }

// Now reads the runtime clock. Ops that track wall time (timed waits)
// use this so tests can inject a fake clock.
func (rt *Runtime) Now() time.Time { return rt.cfg.Now() }

// Logger returns the configured logger.
func (rt *Runtime) Logger() *zap.Logger { return rt.log }

// Threads returns a snapshot of the active thread list.
func (rt *Runtime) Threads() []*Thread {
	out := make([]*Thread, len(rt.threads))
	copy(out, rt.threads)
	return out
}

// ThreadCount returns the number of active threads.
func (rt *Runtime) ThreadCount() int { return len(rt.threads) }

// StartHats starts every script whose hat matches the opcode and
// fields, optionally restricted to one target. Re-triggering a hat
// whose thread is still active restarts that thread in place,
// preserving its scheduling position. Scripts that fail IR generation
// surface a compile-error event and are not started.
func (rt *Runtime) StartHats(hatOpcode string, matchFields map[string]string, only *Target) []*Thread {
	var started []*Thread
	for _, target := range rt.targets {
		if only != nil && target != only {
			continue
		}
		for _, top := range target.Graph.HatBlocks(hatOpcode) {
			hat, _ := target.Graph.Block(top)
			if !fieldsMatch(hat.Fields, matchFields) {
				continue
			}
			th := rt.startScript(target, top)
			if th != nil {
				started = append(started, th)
			}
		}
	}
	return started
}

func fieldsMatch(have map[string]string, want map[string]string) bool {
	for k, v := range want {
		if !strings.EqualFold(have[k], v) {
			return false
		}
	}
	return true
}

// startScript compiles (or reuses) and schedules the script rooted at
// top. New threads go to the back of the list, after currently active
// ones; they are not stepped until the next pass.
func (rt *Runtime) startScript(target *Target, top blocks.ID) *Thread {
	for _, th := range rt.threads {
		if th.target == target && th.TopBlock() == top && th.Status() != StatusDone {
			th.Restart()
			rt.log.Debug("thread restarted",
				zap.String("thread", th.ID()),
				zap.String("target", target.Name),
				zap.String("top", string(top)))
			rt.notify(Event{Kind: EventThreadStarted, ThreadID: th.ID(), Target: target.Name, Block: top})
			return th
		}
	}

	program, err := rt.compiler.Compile(target, top)
	if err != nil {
		rt.log.Warn("script failed to compile",
			zap.String("target", target.Name),
			zap.String("top", string(top)),
			zap.Error(err))
		rt.notify(Event{Kind: EventCompileError, Target: target.Name, Block: top, Err: err})
		return nil
	}

	th := newThread(rt, target, program)
	rt.threads = append(rt.threads, th)
	rt.log.Debug("thread started",
		zap.String("thread", th.ID()),
		zap.String("target", target.Name),
		zap.String("top", string(top)))
	rt.notify(Event{Kind: EventThreadStarted, ThreadID: th.ID(), Target: target.Name, Block: top})
	return th
}

// GreenFlag stops everything and fires the green-flag hats.
func (rt *Runtime) GreenFlag() []*Thread {
	rt.StopAll()
	return rt.StartHats("event_whenflagclicked", nil, nil)
}

// Broadcast fires broadcast-receiver hats for the named message.
// Threads it creates are appended and run starting next pass; a
// broadcast never steps another thread directly.
func (rt *Runtime) Broadcast(name string) []*Thread {
	return rt.StartHats("event_whenbroadcastreceived",
		map[string]string{"BROADCAST_OPTION": name}, nil)
}

// KeyPressed fires key-press hats for the named key.
func (rt *Runtime) KeyPressed(key string) []*Thread {
	return rt.StartHats("event_whenkeypressed",
		map[string]string{"KEY_OPTION": key}, nil)
}

// StopAll hard-stops every thread. They leave the active set at the
// start of the next pass.
func (rt *Runtime) StopAll() {
	for _, th := range rt.threads {
		th.Kill()
	}
	rt.log.Debug("stop all", zap.Int("threads", len(rt.threads)))
}

// StopThread hard-stops one thread.
func (rt *Runtime) StopThread(th *Thread) { th.Kill() }

// Tick runs one scheduling tick and returns the threads that finished
// during it.
func (rt *Runtime) Tick() []*Thread {
	return rt.seq.StepThreads()
}

// Run ticks until no threads remain or maxTicks elapse (0 means no
// limit). It returns the number of ticks executed.
func (rt *Runtime) Run(maxTicks int) int {
	ticks := 0
	for rt.ThreadCount() > 0 {
		if maxTicks > 0 && ticks >= maxTicks {
			break
		}
		rt.Tick()
		ticks++
	}
	return ticks
}
