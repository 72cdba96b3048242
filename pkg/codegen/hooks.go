package codegen

import (
	"sort"
	"sync"

	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/ir"
	"github.com/chazu/stagehand/pkg/runtime"
	"github.com/chazu/stagehand/pkg/value"
)

// CodegenHook intercepts lowering. Hooks are the sanctioned extension
// point for custom block emission: a hook claims a node and supplies
// its op or typed input, and the built-in lowering never sees it.
type CodegenHook interface {
	// CompileStacked claims a statement node.
	CompileStacked(n *ir.Node) (runtime.StepFunc, bool)
	// CompileInput claims an expression node.
	CompileInput(n *ir.Node) (TypedInput, bool)
}

// HandlerCall carries one unknown-opcode invocation: the original
// opcode, its evaluated inputs by name, and its dropdown fields.
type HandlerCall struct {
	Opcode string
	Block  blocks.ID
	Inputs map[string]value.Value
	Fields map[string]string
}

// HandlerResult is what a handler produced. A non-nil Promise parks
// the thread until the host resolves it; Yield hands control back for
// the rest of the tick.
type HandlerResult struct {
	Value   value.Value
	Promise *runtime.Promise
	Yield   bool
}

// OpcodeHandler executes one unknown opcode. A returned error kills
// the calling thread only; other threads are unaffected.
type OpcodeHandler func(th *runtime.Thread, call *HandlerCall) (HandlerResult, error)

// HandlerRegistry maps opcodes to handlers. Registration is explicit
// and local to one registry; there is no global table.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]OpcodeHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]OpcodeHandler)}
}

// Register installs a handler for an opcode, replacing any previous
// one.
func (r *HandlerRegistry) Register(opcode string, h OpcodeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[opcode] = h
}

// Lookup finds the handler for an opcode.
func (r *HandlerRegistry) Lookup(opcode string) (OpcodeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[opcode]
	return h, ok
}

// Opcodes returns the registered opcodes, sorted.
func (r *HandlerRegistry) Opcodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}
