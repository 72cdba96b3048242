// Package codegen lowers IR scripts to executable programs: slices of
// step closures driven by the runtime sequencer. Generation is
// type-directed; every input carries a static type and the consumer
// decides which coercion, if any, to emit. Opcodes the generator does
// not recognize compile to interpreter-fallback ops that dispatch
// through the handler registry at run time.
package codegen

import (
	"fmt"
	"math"
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/ir"
	"github.com/chazu/stagehand/pkg/runtime"
	"github.com/chazu/stagehand/pkg/value"
)

// DefaultProgramCacheSize bounds the compiled-program cache.
const DefaultProgramCacheSize = 256

// Stats reports what one compilation emitted: the number of runtime
// coercion sites and the number of ops routed to the interpreter
// fallback. Fully typed scripts compile with zero coercion sites.
type Stats struct {
	CoercionSites int
	FallbackOps   int
}

// Config tunes the compiler.
type Config struct {
	// CacheSize bounds the IR and program caches; 0 uses the defaults.
	CacheSize int
	// InterpretOnly discards static type information, forcing every
	// consumer through a runtime coercion. Used for differential
	// testing against the typed path.
	InterpretOnly bool
	// Hooks are consulted, in order, before the built-in lowering of
	// every node. The first hook that claims a node wins.
	Hooks []CodegenHook
	// Handlers resolves unknown opcodes at run time. Nil means an
	// empty registry (unknown ops become no-ops).
	Handlers *HandlerRegistry
}

// Compiler lowers block graphs to programs, caching both IR and
// compiled programs keyed on the graph generation.
type Compiler struct {
	cfg      Config
	ir       *ir.Cache
	programs *lru.Cache[string, *runtime.Program]

	lastStats Stats
}

// New creates a compiler.
func New(cfg Config) (*Compiler, error) {
	irCache, err := ir.NewCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultProgramCacheSize
	}
	programs, err := lru.New[string, *runtime.Program](size)
	if err != nil {
		return nil, fmt.Errorf("creating program cache: %w", err)
	}
	if cfg.Handlers == nil {
		cfg.Handlers = NewHandlerRegistry()
	}
	return &Compiler{cfg: cfg, ir: irCache, programs: programs}, nil
}

// Handlers returns the registry unknown opcodes dispatch through.
func (c *Compiler) Handlers() *HandlerRegistry { return c.cfg.Handlers }

// LastStats returns the stats of the most recent cache-missing
// compilation. A cache hit leaves them unchanged.
func (c *Compiler) LastStats() Stats { return c.lastStats }

// Compile implements runtime.Compiler: IR generation (cached), then
// lowering (cached on the same generation key). Structural errors from
// IR generation propagate unwrapped so callers can inspect them.
func (c *Compiler) Compile(target *runtime.Target, top blocks.ID) (*runtime.Program, error) {
	script, err := c.ir.Generate(target.Name, target.Graph, top)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s@%d", target.Name, top, target.Graph.Generation())
	if p, ok := c.programs.Get(key); ok {
		return p, nil
	}

	p, stats := c.CompileScript(script)
	c.lastStats = stats
	c.programs.Add(key, p)
	return p, nil
}

// CompileScript lowers one IR script, bypassing the caches, and
// reports the emission stats alongside the program.
func (c *Compiler) CompileScript(script *ir.Script) (*runtime.Program, Stats) {
	job := &compileJob{
		c:      c,
		script: script,
		procs:  make(map[string]*compiledProc),
	}
	ops := job.chain(script.Body)
	return &runtime.Program{Top: script.Top, Ops: ops}, job.stats
}

// compileJob is the per-script lowering state.
type compileJob struct {
	c      *Compiler
	script *ir.Script
	stats  Stats
	procs  map[string]*compiledProc
}

// compiledProc is a lowered procedure body. The ops slice is filled
// after registration so recursive calls capture the pointer before the
// body exists.
type compiledProc struct {
	params []string
	warp   bool
	ops    []runtime.StepFunc
}

// proc lowers a procedure definition once per script.
func (j *compileJob) proc(code string) *compiledProc {
	if cp, ok := j.procs[code]; ok {
		return cp
	}
	p, ok := j.script.Procedures[code]
	if !ok {
		return nil
	}
	cp := &compiledProc{params: p.Params, warp: p.Warp}
	j.procs[code] = cp
	cp.ops = j.chain(p.Body)
	return cp
}

func (j *compileJob) chain(nodes []*ir.Node) []runtime.StepFunc {
	ops := make([]runtime.StepFunc, 0, len(nodes))
	for _, n := range nodes {
		ops = append(ops, j.stacked(n))
	}
	return ops
}

// stacked lowers one statement node.
func (j *compileJob) stacked(n *ir.Node) runtime.StepFunc {
	for _, h := range j.c.cfg.Hooks {
		if op, ok := h.CompileStacked(n); ok {
			return op
		}
	}

	switch n.Kind {
	case ir.KindSetVariable:
		name := n.Fields["VARIABLE"]
		val := j.expr(n.Inputs[0]).AsRaw()
		return func(th *runtime.Thread) runtime.StepResult {
			th.Target().SetVariable(name, val(th))
			return runtime.Continue()
		}

	case ir.KindChangeVariable:
		name := n.Fields["VARIABLE"]
		delta := j.expr(n.Inputs[0]).AsNumber(j)
		return func(th *runtime.Thread) runtime.StepResult {
			th.Target().ChangeVariable(name, delta(th))
			return runtime.Continue()
		}

	case ir.KindSay:
		msg := j.expr(n.Inputs[0]).AsString(j)
		return func(th *runtime.Thread) runtime.StepResult {
			th.Say(msg(th))
			return runtime.Continue()
		}

	case ir.KindMoveSteps:
		steps := j.expr(n.Inputs[0]).AsNumber(j)
		return func(th *runtime.Thread) runtime.StepResult {
			th.Target().MoveSteps(steps(th))
			return runtime.Continue()
		}

	case ir.KindGotoXY:
		x := j.expr(n.Inputs[0]).AsNumber(j)
		y := j.expr(n.Inputs[1]).AsNumber(j)
		return func(th *runtime.Thread) runtime.StepResult {
			th.Target().GotoXY(x(th), y(th))
			return runtime.Continue()
		}

	case ir.KindTurnRight:
		deg := j.expr(n.Inputs[0]).AsNumber(j)
		return func(th *runtime.Thread) runtime.StepResult {
			th.Target().Turn(deg(th))
			return runtime.Continue()
		}

	case ir.KindTurnLeft:
		deg := j.expr(n.Inputs[0]).AsNumber(j)
		return func(th *runtime.Thread) runtime.StepResult {
			th.Target().Turn(-deg(th))
			return runtime.Continue()
		}

	case ir.KindBroadcast:
		name := j.expr(n.Inputs[0]).AsString(j)
		return func(th *runtime.Thread) runtime.StepResult {
			th.Runtime().Broadcast(name(th))
			return runtime.Continue()
		}

	case ir.KindWait:
		return j.waitOp(n)

	case ir.KindRepeat:
		times := j.expr(n.Inputs[0]).AsNumber(j)
		body := j.chain(n.Branches[0])
		block := n.Block
		return func(th *runtime.Thread) runtime.StepResult {
			count := int(times(th))
			if count <= 0 {
				return runtime.Continue()
			}
			th.PushFrame(&runtime.Frame{
				Ops:         body,
				Block:       block,
				IsLoop:      true,
				IsBreakable: true,
				Loop:        &runtime.RepeatLoop{Remaining: count},
			})
			return runtime.Enter()
		}

	case ir.KindForever:
		body := j.chain(n.Branches[0])
		block := n.Block
		return func(th *runtime.Thread) runtime.StepResult {
			th.PushFrame(&runtime.Frame{
				Ops:         body,
				Block:       block,
				IsLoop:      true,
				IsBreakable: true,
				Loop:        runtime.ForeverLoop{},
			})
			return runtime.Enter()
		}

	case ir.KindWhile, ir.KindRepeatUntil:
		cond := j.expr(n.Inputs[0]).AsBoolean(j)
		body := j.chain(n.Branches[0])
		block := n.Block
		until := n.Kind == ir.KindRepeatUntil
		return func(th *runtime.Thread) runtime.StepResult {
			entered := cond(th)
			if until {
				entered = !entered
			}
			if !entered {
				return runtime.Continue()
			}
			th.PushFrame(&runtime.Frame{
				Ops:         body,
				Block:       block,
				IsLoop:      true,
				IsBreakable: true,
				Loop:        &runtime.CondLoop{Cond: cond, Until: until},
			})
			return runtime.Enter()
		}

	case ir.KindIf:
		cond := j.expr(n.Inputs[0]).AsBoolean(j)
		then := j.chain(n.Branches[0])
		block := n.Block
		return func(th *runtime.Thread) runtime.StepResult {
			if !cond(th) {
				return runtime.Continue()
			}
			th.PushFrame(&runtime.Frame{Ops: then, Block: block})
			return runtime.Enter()
		}

	case ir.KindIfElse:
		cond := j.expr(n.Inputs[0]).AsBoolean(j)
		then := j.chain(n.Branches[0])
		els := j.chain(n.Branches[1])
		block := n.Block
		return func(th *runtime.Thread) runtime.StepResult {
			ops := then
			if !cond(th) {
				ops = els
			}
			th.PushFrame(&runtime.Frame{Ops: ops, Block: block})
			return runtime.Enter()
		}

	case ir.KindAllAtOnce:
		body := j.chain(n.Branches[0])
		block := n.Block
		return func(th *runtime.Thread) runtime.StepResult {
			th.PushFrame(&runtime.Frame{Ops: body, Block: block, Warp: true})
			return runtime.Enter()
		}

	case ir.KindBreak:
		return func(th *runtime.Thread) runtime.StepResult {
			th.BreakLoop()
			return runtime.Continue()
		}

	case ir.KindContinue:
		return func(th *runtime.Thread) runtime.StepResult {
			th.ContinueLoop()
			return runtime.Continue()
		}

	case ir.KindStopScript:
		return func(th *runtime.Thread) runtime.StepResult {
			return th.StopScript()
		}

	case ir.KindStopAll:
		return func(th *runtime.Thread) runtime.StepResult {
			th.Runtime().StopAll()
			return runtime.Done()
		}

	case ir.KindProcedureCall:
		return j.callOp(n)

	default:
		return j.fallbackStacked(n)
	}
}

// waitOp suspends for a duration read once on entry. The deadline lives
// in the frame context so the op is re-entrant across ticks; a timed
// wait yields even inside a warp region.
func (j *compileJob) waitOp(n *ir.Node) runtime.StepFunc {
	secs := j.expr(n.Inputs[0]).AsNumber(j)
	key := "wait:" + string(n.Block)
	return func(th *runtime.Thread) runtime.StepResult {
		f := th.Frame()
		now := th.Runtime().Now()
		if v, ok := f.CtxGet(key); ok {
			deadline, _ := v.(int64)
			if now.UnixNano() >= deadline {
				f.CtxDelete(key)
				return runtime.Continue()
			}
			f.PC--
			return runtime.Yield()
		}
		d := secs(th)
		if d < 0 {
			d = 0
		}
		deadline := now.UnixNano() + int64(d*float64(1e9))
		f.CtxSet(key, deadline)
		f.PC--
		return runtime.Yield()
	}
}

// callOp lowers a procedure call. The callee's ops resolve through the
// compiledProc pointer at run time, which makes recursion work: the
// call inside a body is lowered before the body's op slice is final.
func (j *compileJob) callOp(n *ir.Node) runtime.StepFunc {
	cp := j.proc(n.ProcCode)
	if cp == nil {
		// Undefined procedure: the call degrades to a no-op.
		return func(*runtime.Thread) runtime.StepResult {
			return runtime.Continue()
		}
	}

	names := n.InputNames
	args := make([]func(*runtime.Thread) value.Value, len(n.Inputs))
	for i, in := range n.Inputs {
		args[i] = j.expr(in).AsRaw()
	}
	block := n.Block

	return func(th *runtime.Thread) runtime.StepResult {
		params := make(map[string]value.Value, len(args))
		for i, arg := range args {
			params[names[i]] = arg(th)
		}
		th.PushFrame(&runtime.Frame{
			Ops:          cp.ops,
			Block:        block,
			ProcBoundary: true,
			Warp:         cp.warp,
			Params:       params,
		})
		return runtime.Enter()
	}
}

// expr lowers one expression node to a typed input.
func (j *compileJob) expr(n *ir.Node) TypedInput {
	ti := j.exprTyped(n)
	if j.c.cfg.InterpretOnly && ti.Type != TypeUnknown {
		return unknownInput(ti.Eval)
	}
	return ti
}

func (j *compileJob) exprTyped(n *ir.Node) TypedInput {
	for _, h := range j.c.cfg.Hooks {
		if ti, ok := h.CompileInput(n); ok {
			return ti
		}
	}

	switch n.Kind {
	case ir.KindConstNumber:
		v := n.Num
		return numberInput(func(*runtime.Thread) float64 { return v })

	case ir.KindConstString:
		s := n.Str
		return stringInput(func(*runtime.Thread) string { return s })

	case ir.KindConstBool:
		b := n.Bool
		return boolInput(func(*runtime.Thread) bool { return b })

	case ir.KindVariable:
		name := n.Str
		return unknownInput(func(th *runtime.Thread) value.Value {
			return th.Target().Variable(name)
		})

	case ir.KindParameter:
		name := n.Str
		return unknownInput(func(th *runtime.Thread) value.Value {
			return th.Param(name)
		})

	case ir.KindAdd, ir.KindSubtract, ir.KindMultiply:
		a := j.expr(n.Inputs[0]).AsNumber(j)
		b := j.expr(n.Inputs[1]).AsNumber(j)
		switch n.Kind {
		case ir.KindAdd:
			return numberInput(func(th *runtime.Thread) float64 { return a(th) + b(th) })
		case ir.KindSubtract:
			return numberInput(func(th *runtime.Thread) float64 { return a(th) - b(th) })
		default:
			return numberInput(func(th *runtime.Thread) float64 { return a(th) * b(th) })
		}

	case ir.KindDivide:
		a := j.expr(n.Inputs[0]).AsNumber(j)
		b := j.expr(n.Inputs[1]).AsNumber(j)
		return numberOrNaNInput(func(th *runtime.Thread) float64 {
			return a(th) / b(th)
		})

	case ir.KindMod:
		a := j.expr(n.Inputs[0]).AsNumber(j)
		b := j.expr(n.Inputs[1]).AsNumber(j)
		return numberOrNaNInput(func(th *runtime.Thread) float64 {
			x, y := a(th), b(th)
			r := math.Mod(x, y)
			// Result takes the divisor's sign.
			if r != 0 && (r < 0) != (y < 0) {
				r += y
			}
			return r
		})

	case ir.KindRandom:
		a := j.expr(n.Inputs[0]).AsNumber(j)
		b := j.expr(n.Inputs[1]).AsNumber(j)
		return numberInput(func(th *runtime.Thread) float64 {
			lo, hi := a(th), b(th)
			if lo > hi {
				lo, hi = hi, lo
			}
			if lo == math.Trunc(lo) && hi == math.Trunc(hi) {
				return lo + math.Floor(rand.Float64()*(hi-lo+1))
			}
			return lo + rand.Float64()*(hi-lo)
		})

	case ir.KindEquals, ir.KindGreater, ir.KindLess:
		return j.comparison(n)

	case ir.KindAnd:
		a := j.expr(n.Inputs[0]).AsBoolean(j)
		b := j.expr(n.Inputs[1]).AsBoolean(j)
		return boolInput(func(th *runtime.Thread) bool { return a(th) && b(th) })

	case ir.KindOr:
		a := j.expr(n.Inputs[0]).AsBoolean(j)
		b := j.expr(n.Inputs[1]).AsBoolean(j)
		return boolInput(func(th *runtime.Thread) bool { return a(th) || b(th) })

	case ir.KindNot:
		a := j.expr(n.Inputs[0]).AsBoolean(j)
		return boolInput(func(th *runtime.Thread) bool { return !a(th) })

	case ir.KindJoin:
		a := j.expr(n.Inputs[0]).AsString(j)
		b := j.expr(n.Inputs[1]).AsString(j)
		return stringInput(func(th *runtime.Thread) string { return a(th) + b(th) })

	case ir.KindLetterOf:
		idx := j.expr(n.Inputs[0]).AsNumber(j)
		str := j.expr(n.Inputs[1]).AsString(j)
		return stringInput(func(th *runtime.Thread) string {
			runes := []rune(str(th))
			i := int(idx(th))
			if i < 1 || i > len(runes) {
				return ""
			}
			return string(runes[i-1])
		})

	case ir.KindLength:
		str := j.expr(n.Inputs[0]).AsString(j)
		return numberInput(func(th *runtime.Thread) float64 {
			return float64(len([]rune(str(th))))
		})

	case ir.KindXPosition:
		return numberInput(func(th *runtime.Thread) float64 { return th.Target().X })

	case ir.KindYPosition:
		return numberInput(func(th *runtime.Thread) float64 { return th.Target().Y })

	case ir.KindDirection:
		return numberInput(func(th *runtime.Thread) float64 { return th.Target().Direction })

	default:
		return j.fallbackInput(n)
	}
}

// comparison specializes to a plain numeric compare when both operands
// are statically numbers; otherwise it uses the loose compare (numeric
// when both sides parse as numbers, case-insensitive string otherwise).
func (j *compileJob) comparison(n *ir.Node) TypedInput {
	left := j.expr(n.Inputs[0])
	right := j.expr(n.Inputs[1])

	if !j.c.cfg.InterpretOnly && left.Type == TypeNumber && right.Type == TypeNumber {
		a, b := left.num, right.num
		switch n.Kind {
		case ir.KindEquals:
			return boolInput(func(th *runtime.Thread) bool { return a(th) == b(th) })
		case ir.KindGreater:
			return boolInput(func(th *runtime.Thread) bool { return a(th) > b(th) })
		default:
			return boolInput(func(th *runtime.Thread) bool { return a(th) < b(th) })
		}
	}

	a, b := left.AsRaw(), right.AsRaw()
	switch n.Kind {
	case ir.KindEquals:
		return boolInput(func(th *runtime.Thread) bool {
			return value.Equals(a(th), b(th))
		})
	case ir.KindGreater:
		return boolInput(func(th *runtime.Thread) bool {
			return value.Compare(a(th), b(th)) > 0
		})
	default:
		return boolInput(func(th *runtime.Thread) bool {
			return value.Compare(a(th), b(th)) < 0
		})
	}
}
