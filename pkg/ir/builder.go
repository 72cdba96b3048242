// IR generation: a read-only walk of the block graph rooted at a top
// block, producing the typed node tree consumed by code generation.
package ir

import (
	"sort"
	"strings"

	"github.com/chazu/stagehand/pkg/blocks"
)

// Generate walks the block graph from topBlock and builds the IR
// script. The walk is read-only. Malformed structure (a next chain
// that revisits a block, an input referencing a missing or enclosing
// block) returns a *StructuralError and no IR.
func Generate(g *blocks.Graph, topBlock blocks.ID) (*Script, error) {
	top, ok := g.Block(topBlock)
	if !ok {
		return nil, &StructuralError{Block: topBlock, Msg: "top block not found"}
	}

	gen := &generator{
		graph:    g,
		visited:  make(map[blocks.ID]bool),
		building: make(map[blocks.ID]bool),
		procs:    make(map[string]*Proc),
		procDefs: indexProcDefs(g),
	}

	script := &Script{
		Top:        topBlock,
		Procedures: gen.procs,
	}

	bodyStart := topBlock
	if IsHat(top.Opcode) {
		script.HatOpcode = top.Opcode
		script.HatFields = top.Fields
		bodyStart = top.Next
	}

	body, err := gen.buildChain(bodyStart)
	if err != nil {
		return nil, err
	}
	script.Body = body
	return script, nil
}

// indexProcDefs maps proccodes to their definition top blocks.
func indexProcDefs(g *blocks.Graph) map[string]blocks.ID {
	defs := make(map[string]blocks.ID)
	for _, id := range g.HatBlocks("procedures_definition") {
		b, _ := g.Block(id)
		if b.Mutation != nil && b.Mutation.ProcCode != "" {
			defs[b.Mutation.ProcCode] = id
		}
	}
	return defs
}

type generator struct {
	graph    *blocks.Graph
	visited  map[blocks.ID]bool // stacked blocks already placed in a chain
	building map[blocks.ID]bool // input blocks currently being resolved
	procs    map[string]*Proc
	procDefs map[string]blocks.ID
}

// buildChain follows next pointers from start, producing stacked nodes.
// Revisiting a block means the chain loops; that is rejected rather
// than tolerated because it would otherwise walk forever.
func (gen *generator) buildChain(start blocks.ID) ([]*Node, error) {
	var nodes []*Node
	for id := start; id != blocks.None; {
		if gen.visited[id] {
			return nil, &StructuralError{Block: id, Msg: "next chain revisits block"}
		}
		gen.visited[id] = true

		b, ok := gen.graph.Block(id)
		if !ok {
			return nil, &StructuralError{Block: id, Msg: "next chain references missing block"}
		}

		node, err := gen.buildStacked(id, b)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
		id = b.Next
	}
	return nodes, nil
}

func (gen *generator) buildStacked(id blocks.ID, b *blocks.Block) (*Node, error) {
	// control_stop splits on its field rather than mapping 1:1.
	if b.Opcode == "control_stop" {
		kind := KindStopScript
		if b.Fields["STOP_OPTION"] == "all" {
			kind = KindStopAll
		}
		return &Node{Kind: kind, Block: id, Opcode: b.Opcode}, nil
	}

	kind, ok := stackedOpcodes[b.Opcode]
	if !ok {
		return gen.buildUnknown(id, b)
	}

	node := &Node{Kind: kind, Block: id, Opcode: b.Opcode, Fields: b.Fields}

	switch kind {
	case KindSetVariable:
		in, err := gen.input(b, "VALUE", constNode(""))
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{in}

	case KindChangeVariable, KindMoveSteps, KindWait:
		in, err := gen.input(b, valueInputName(kind), &Node{Kind: KindConstNumber})
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{in}

	case KindTurnRight, KindTurnLeft:
		in, err := gen.input(b, "DEGREES", &Node{Kind: KindConstNumber})
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{in}

	case KindGotoXY:
		x, err := gen.input(b, "X", &Node{Kind: KindConstNumber})
		if err != nil {
			return nil, err
		}
		y, err := gen.input(b, "Y", &Node{Kind: KindConstNumber})
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{x, y}

	case KindSay:
		in, err := gen.input(b, "MESSAGE", constNode(""))
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{in}

	case KindBroadcast:
		in, err := gen.input(b, "BROADCAST_INPUT", constNode(""))
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{in}

	case KindRepeat:
		times, err := gen.input(b, "TIMES", &Node{Kind: KindConstNumber})
		if err != nil {
			return nil, err
		}
		body, err := gen.branch(b, "SUBSTACK")
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{times}
		node.Branches = [][]*Node{body}

	case KindForever, KindAllAtOnce:
		body, err := gen.branch(b, "SUBSTACK")
		if err != nil {
			return nil, err
		}
		node.Branches = [][]*Node{body}

	case KindWhile, KindRepeatUntil:
		cond, err := gen.input(b, "CONDITION", &Node{Kind: KindConstBool})
		if err != nil {
			return nil, err
		}
		body, err := gen.branch(b, "SUBSTACK")
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{cond}
		node.Branches = [][]*Node{body}

	case KindIf:
		cond, err := gen.input(b, "CONDITION", &Node{Kind: KindConstBool})
		if err != nil {
			return nil, err
		}
		then, err := gen.branch(b, "SUBSTACK")
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{cond}
		node.Branches = [][]*Node{then}

	case KindIfElse:
		cond, err := gen.input(b, "CONDITION", &Node{Kind: KindConstBool})
		if err != nil {
			return nil, err
		}
		then, err := gen.branch(b, "SUBSTACK")
		if err != nil {
			return nil, err
		}
		els, err := gen.branch(b, "SUBSTACK2")
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{cond}
		node.Branches = [][]*Node{then, els}

	case KindProcedureCall:
		if err := gen.buildCall(node, b); err != nil {
			return nil, err
		}
	}

	return node, nil
}

func valueInputName(k Kind) string {
	switch k {
	case KindMoveSteps:
		return "STEPS"
	case KindWait:
		return "DURATION"
	default:
		return "VALUE"
	}
}

// buildCall resolves a procedures_call block, building the callee
// definition on first use. A call to an undefined procedure keeps its
// ProcCode and degrades to a no-op at run time.
func (gen *generator) buildCall(node *Node, b *blocks.Block) error {
	if b.Mutation == nil || b.Mutation.ProcCode == "" {
		return nil
	}
	code := b.Mutation.ProcCode
	node.ProcCode = code

	proc, err := gen.buildProc(code)
	if err != nil {
		return err
	}

	var params []string
	if proc != nil {
		params = proc.Params
	} else {
		params = b.Mutation.ArgumentNames
	}

	for _, name := range params {
		arg, err := gen.input(b, name, constNode(""))
		if err != nil {
			return err
		}
		node.Inputs = append(node.Inputs, arg)
		node.InputNames = append(node.InputNames, name)
	}
	return nil
}

// buildProc builds a procedure definition once, inserting a placeholder
// first so recursive calls resolve without rebuilding.
func (gen *generator) buildProc(code string) (*Proc, error) {
	if p, ok := gen.procs[code]; ok {
		return p, nil
	}
	defID, ok := gen.procDefs[code]
	if !ok {
		return nil, nil
	}
	def, _ := gen.graph.Block(defID)

	p := &Proc{
		Code:   code,
		Params: def.Mutation.ArgumentNames,
		Warp:   def.Mutation.Warp,
	}
	gen.procs[code] = p

	body, err := gen.buildChain(def.Next)
	if err != nil {
		return nil, err
	}
	p.Body = body
	return p, nil
}

// branch resolves a substack input into a stacked chain. An empty or
// missing substack is a nil body.
func (gen *generator) branch(b *blocks.Block, name string) ([]*Node, error) {
	in, ok := b.Inputs[name]
	if !ok || in.Block == blocks.None {
		return nil, nil
	}
	return gen.buildChain(in.Block)
}

// input resolves one named input: a shadow literal becomes a constant
// node, a block reference is built recursively, and a missing input
// takes the supplied default.
func (gen *generator) input(b *blocks.Block, name string, def *Node) (*Node, error) {
	in, ok := b.Inputs[name]
	if !ok {
		return def, nil
	}
	if in.HasShadow {
		return constNode(in.Shadow), nil
	}
	if in.Block == blocks.None {
		return def, nil
	}
	return gen.buildInput(in.Block)
}

func (gen *generator) buildInput(id blocks.ID) (*Node, error) {
	if gen.building[id] {
		return nil, &StructuralError{Block: id, Msg: "input references enclosing block"}
	}
	b, ok := gen.graph.Block(id)
	if !ok {
		return nil, &StructuralError{Block: id, Msg: "input references missing block"}
	}
	gen.building[id] = true
	defer delete(gen.building, id)

	kind, ok := inputOpcodes[b.Opcode]
	if !ok {
		return gen.buildUnknown(id, b)
	}

	node := &Node{Kind: kind, Block: id, Opcode: b.Opcode, Fields: b.Fields}

	switch kind {
	case KindVariable:
		node.Str = b.Fields["VARIABLE"]

	case KindParameter:
		node.Str = b.Fields["VALUE"]

	case KindAdd, KindSubtract, KindMultiply, KindDivide, KindMod, KindRandom:
		op1, err := gen.input(b, firstOperand(b), &Node{Kind: KindConstNumber})
		if err != nil {
			return nil, err
		}
		op2, err := gen.input(b, secondOperand(b), &Node{Kind: KindConstNumber})
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{op1, op2}

	case KindEquals, KindGreater, KindLess, KindJoin:
		op1, err := gen.input(b, firstOperand(b), constNode(""))
		if err != nil {
			return nil, err
		}
		op2, err := gen.input(b, secondOperand(b), constNode(""))
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{op1, op2}

	case KindAnd, KindOr:
		op1, err := gen.input(b, "OPERAND1", &Node{Kind: KindConstBool})
		if err != nil {
			return nil, err
		}
		op2, err := gen.input(b, "OPERAND2", &Node{Kind: KindConstBool})
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{op1, op2}

	case KindNot:
		op, err := gen.input(b, "OPERAND", &Node{Kind: KindConstBool})
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{op}

	case KindLetterOf:
		letter, err := gen.input(b, "LETTER", &Node{Kind: KindConstNumber, Num: 1})
		if err != nil {
			return nil, err
		}
		str, err := gen.input(b, "STRING", constNode(""))
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{letter, str}

	case KindLength:
		str, err := gen.input(b, "STRING", constNode(""))
		if err != nil {
			return nil, err
		}
		node.Inputs = []*Node{str}
	}

	return node, nil
}

// firstOperand and secondOperand cover the two operand naming schemes
// (NUM1/NUM2 for arithmetic and random's FROM/TO, OPERAND1/OPERAND2
// for comparison, STRING1/STRING2 for join).
func firstOperand(b *blocks.Block) string {
	for _, name := range []string{"NUM1", "FROM", "OPERAND1", "STRING1"} {
		if _, ok := b.Inputs[name]; ok {
			return name
		}
	}
	return "NUM1"
}

func secondOperand(b *blocks.Block) string {
	for _, name := range []string{"NUM2", "TO", "OPERAND2", "STRING2"} {
		if _, ok := b.Inputs[name]; ok {
			return name
		}
	}
	return "NUM2"
}

// buildUnknown wraps an unrecognized opcode so the interpreter fallback
// can run it. Expression inputs are resolved in sorted name order for
// determinism; substack inputs are not entered.
func (gen *generator) buildUnknown(id blocks.ID, b *blocks.Block) (*Node, error) {
	node := &Node{Kind: KindUnknown, Block: id, Opcode: b.Opcode, Fields: b.Fields}

	names := make([]string, 0, len(b.Inputs))
	for name := range b.Inputs {
		if strings.HasPrefix(name, "SUBSTACK") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		in, err := gen.input(b, name, constNode(""))
		if err != nil {
			return nil, err
		}
		node.Inputs = append(node.Inputs, in)
		node.InputNames = append(node.InputNames, name)
	}
	return node, nil
}
