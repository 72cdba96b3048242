// Package ir defines the intermediate representation for script
// compilation. The IR sits between the raw block graph and code
// generation, providing:
// - Opcode resolution (string opcodes become a closed Kind enum)
// - One-time input/branch resolution so executions can share structure
// - Structural validation (cycle and missing-operand detection)
//
// An IR tree is immutable once built; editing the underlying graph
// requires a rebuild (the cache keys on the graph generation).
package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/stagehand/pkg/blocks"
)

// Kind classifies an IR node. Stacked kinds sequence as statements;
// input kinds produce a value.
type Kind int

const (
	// Stacked nodes.
	KindSetVariable Kind = iota
	KindChangeVariable
	KindRepeat
	KindForever
	KindWhile
	KindRepeatUntil
	KindIf
	KindIfElse
	KindWait
	KindStopScript
	KindStopAll
	KindBreak
	KindContinue
	KindAllAtOnce
	KindSay
	KindMoveSteps
	KindGotoXY
	KindTurnRight
	KindTurnLeft
	KindBroadcast
	KindProcedureCall

	// Input nodes.
	KindConstNumber
	KindConstString
	KindConstBool
	KindVariable
	KindParameter
	KindAdd
	KindSubtract
	KindMultiply
	KindDivide
	KindMod
	KindRandom
	KindEquals
	KindGreater
	KindLess
	KindAnd
	KindOr
	KindNot
	KindJoin
	KindLetterOf
	KindLength
	KindXPosition
	KindYPosition
	KindDirection

	// KindUnknown defers to the interpreter fallback. It appears in
	// both stacked and input position.
	KindUnknown
)

var kindNames = map[Kind]string{
	KindSetVariable:    "set_variable",
	KindChangeVariable: "change_variable",
	KindRepeat:         "repeat",
	KindForever:        "forever",
	KindWhile:          "while",
	KindRepeatUntil:    "repeat_until",
	KindIf:             "if",
	KindIfElse:         "if_else",
	KindWait:           "wait",
	KindStopScript:     "stop_script",
	KindStopAll:        "stop_all",
	KindBreak:          "break",
	KindContinue:       "continue",
	KindAllAtOnce:      "all_at_once",
	KindSay:            "say",
	KindMoveSteps:      "move_steps",
	KindGotoXY:         "goto_xy",
	KindTurnRight:      "turn_right",
	KindTurnLeft:       "turn_left",
	KindBroadcast:      "broadcast",
	KindProcedureCall:  "procedure_call",
	KindConstNumber:    "const_number",
	KindConstString:    "const_string",
	KindConstBool:      "const_bool",
	KindVariable:       "variable",
	KindParameter:      "parameter",
	KindAdd:            "add",
	KindSubtract:       "subtract",
	KindMultiply:       "multiply",
	KindDivide:         "divide",
	KindMod:            "mod",
	KindRandom:         "random",
	KindEquals:         "equals",
	KindGreater:        "greater",
	KindLess:           "less",
	KindAnd:            "and",
	KindOr:             "or",
	KindNot:            "not",
	KindJoin:           "join",
	KindLetterOf:       "letter_of",
	KindLength:         "length",
	KindXPosition:      "x_position",
	KindYPosition:      "y_position",
	KindDirection:      "direction",
	KindUnknown:        "unknown",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "invalid"
}

// Node is one IR tree node. Which fields are populated depends on the
// Kind: constants use Num/Str/Bool, operators use Inputs, control
// structures use Branches.
type Node struct {
	Kind   Kind
	Block  blocks.ID
	Opcode string // original opcode, kept for unknown-node dispatch

	Inputs     []*Node
	InputNames []string // parallel to Inputs, for unknown-node handlers
	Branches   [][]*Node
	Fields     map[string]string

	Num  float64
	Str  string
	Bool bool

	ProcCode string // procedure call target
}

// Proc is a resolved custom-block definition.
type Proc struct {
	Code   string
	Params []string
	Warp   bool
	Body   []*Node
}

// Script is the IR for one top-level script: the hat that triggers it,
// the stacked body, and every procedure reachable from it.
type Script struct {
	Top        blocks.ID
	HatOpcode  string
	HatFields  map[string]string
	Body       []*Node
	Procedures map[string]*Proc
}

// StructuralError reports a malformed block graph: a cycle in a next
// chain, or a reference to a missing block. It is fatal to compiling
// the one script it occurs in.
type StructuralError struct {
	Block blocks.ID
	Msg   string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error at block %q: %s", e.Block, e.Msg)
}

var hatOpcodes = map[string]bool{
	"event_whenflagclicked":       true,
	"event_whenbroadcastreceived": true,
	"event_whenkeypressed":        true,
	"procedures_definition":       true,
}

// IsHat reports whether an opcode is a script trigger.
func IsHat(opcode string) bool {
	return hatOpcodes[opcode]
}

var stackedOpcodes = map[string]Kind{
	"data_setvariableto":    KindSetVariable,
	"data_changevariableby": KindChangeVariable,
	"control_repeat":        KindRepeat,
	"control_forever":       KindForever,
	"control_while":         KindWhile,
	"control_repeat_until":  KindRepeatUntil,
	"control_if":            KindIf,
	"control_if_else":       KindIfElse,
	"control_wait":          KindWait,
	"control_break":         KindBreak,
	"control_continue":      KindContinue,
	"control_all_at_once":   KindAllAtOnce,
	"looks_say":             KindSay,
	"motion_movesteps":      KindMoveSteps,
	"motion_gotoxy":         KindGotoXY,
	"motion_turnright":      KindTurnRight,
	"motion_turnleft":       KindTurnLeft,
	"event_broadcast":       KindBroadcast,
	"procedures_call":       KindProcedureCall,
}

var inputOpcodes = map[string]Kind{
	"data_variable":                   KindVariable,
	"argument_reporter_string_number": KindParameter,
	"argument_reporter_boolean":       KindParameter,
	"operator_add":                    KindAdd,
	"operator_subtract":               KindSubtract,
	"operator_multiply":               KindMultiply,
	"operator_divide":                 KindDivide,
	"operator_mod":                    KindMod,
	"operator_random":                 KindRandom,
	"operator_equals":                 KindEquals,
	"operator_gt":                     KindGreater,
	"operator_lt":                     KindLess,
	"operator_and":                    KindAnd,
	"operator_or":                     KindOr,
	"operator_not":                    KindNot,
	"operator_join":                   KindJoin,
	"operator_letter_of":              KindLetterOf,
	"operator_length":                 KindLength,
	"motion_xposition":                KindXPosition,
	"motion_yposition":                KindYPosition,
	"motion_direction":                KindDirection,
}

// constNode turns a shadow literal into a typed constant node. Numeric
// shadows become number constants so code generation can elide runtime
// coercion for them.
func constNode(raw string) *Node {
	s := strings.TrimSpace(raw)
	if s != "" {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return &Node{Kind: KindConstNumber, Num: n, Str: raw}
		}
	}
	return &Node{Kind: KindConstString, Str: raw}
}
