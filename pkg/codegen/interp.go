package codegen

import (
	"go.uber.org/zap"

	"github.com/chazu/stagehand/pkg/ir"
	"github.com/chazu/stagehand/pkg/runtime"
	"github.com/chazu/stagehand/pkg/value"
)

// Interpreter fallback: unknown opcodes compile to ops that evaluate
// their inputs generically and dispatch through the handler registry
// at run time. A script with unknown blocks still compiles and runs;
// only the unknown ops pay the dispatch cost.

// fallbackStacked lowers an unknown statement. A missing handler makes
// the op a logged no-op; a handler error kills this thread only.
func (j *compileJob) fallbackStacked(n *ir.Node) runtime.StepFunc {
	j.stats.FallbackOps++

	opcode := n.Opcode
	block := n.Block
	fields := n.Fields
	names := n.InputNames
	args := make([]func(*runtime.Thread) value.Value, len(n.Inputs))
	for i, in := range n.Inputs {
		args[i] = j.expr(in).AsRaw()
	}
	registry := j.c.cfg.Handlers

	return func(th *runtime.Thread) runtime.StepResult {
		h, ok := registry.Lookup(opcode)
		if !ok {
			th.Runtime().Logger().Debug("no handler for opcode",
				zap.String("opcode", opcode),
				zap.String("block", string(block)))
			return runtime.Continue()
		}

		call := &HandlerCall{
			Opcode: opcode,
			Block:  block,
			Inputs: evalInputs(th, names, args),
			Fields: fields,
		}
		res, err := h(th, call)
		if err != nil {
			th.Runtime().Sequencer().Fault(th, err)
			return runtime.Done()
		}
		if res.Promise != nil {
			return runtime.Wait(res.Promise)
		}
		if res.Yield {
			return runtime.Yield()
		}
		return runtime.Continue()
	}
}

// fallbackInput lowers an unknown expression. Expression handlers are
// synchronous: a promise cannot park the thread mid-expression, so one
// returned here is drained for its value if already resolved and
// otherwise dropped with a warning.
func (j *compileJob) fallbackInput(n *ir.Node) TypedInput {
	j.stats.FallbackOps++

	opcode := n.Opcode
	block := n.Block
	fields := n.Fields
	names := n.InputNames
	args := make([]func(*runtime.Thread) value.Value, len(n.Inputs))
	for i, in := range n.Inputs {
		args[i] = j.expr(in).AsRaw()
	}
	registry := j.c.cfg.Handlers

	return unknownInput(func(th *runtime.Thread) value.Value {
		h, ok := registry.Lookup(opcode)
		if !ok {
			th.Runtime().Logger().Debug("no handler for opcode",
				zap.String("opcode", opcode),
				zap.String("block", string(block)))
			return ""
		}

		call := &HandlerCall{
			Opcode: opcode,
			Block:  block,
			Inputs: evalInputs(th, names, args),
			Fields: fields,
		}
		res, err := h(th, call)
		if err != nil {
			th.Runtime().Logger().Warn("input handler failed",
				zap.String("opcode", opcode),
				zap.String("block", string(block)),
				zap.Error(err))
			return ""
		}
		if res.Promise != nil {
			if res.Promise.Resolved() {
				return res.Promise.Value()
			}
			th.Runtime().Logger().Warn("unresolved promise in input position dropped",
				zap.String("opcode", opcode),
				zap.String("block", string(block)))
			return ""
		}
		return res.Value
	})
}

func evalInputs(th *runtime.Thread, names []string, args []func(*runtime.Thread) value.Value) map[string]value.Value {
	inputs := make(map[string]value.Value, len(args))
	for i, arg := range args {
		inputs[names[i]] = arg(th)
	}
	return inputs
}
