package export

import (
	"strings"
	"testing"

	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/ir"
)

func generateFor(t *testing.T, g *blocks.Graph, top blocks.ID) *Result {
	t.Helper()
	script, err := ir.Generate(g, top)
	if err != nil {
		t.Fatalf("Generate IR: %v", err)
	}
	res, err := Generate("sprite", script)
	if err != nil {
		t.Fatalf("Generate export: %v", err)
	}
	return res
}

func TestExportSimpleScript(t *testing.T) {
	g := blocks.NewGraph()
	g.Add("hat", &blocks.Block{Opcode: "event_whenflagclicked", Next: "set"})
	g.Add("set", &blocks.Block{
		Opcode: "data_setvariableto", Parent: "hat", Next: "loop",
		Inputs: map[string]blocks.Input{"VALUE": blocks.ShadowInput("0")},
		Fields: map[string]string{"VARIABLE": "n"},
	})
	g.Add("loop", &blocks.Block{
		Opcode: "control_repeat", Parent: "set",
		Inputs: map[string]blocks.Input{
			"TIMES":    blocks.ShadowInput("10"),
			"SUBSTACK": blocks.BlockInput("chg"),
		},
	})
	g.Add("chg", &blocks.Block{
		Opcode: "data_changevariableby", Parent: "loop",
		Inputs: map[string]blocks.Input{"VALUE": blocks.ShadowInput("1")},
		Fields: map[string]string{"VARIABLE": "n"},
	})

	res := generateFor(t, g, "hat")

	for _, want := range []string{
		"package main",
		"func main()",
		`vars["n"]`,
		"for i := 0;",
		"func toNum(v interface{}) float64",
	} {
		if !strings.Contains(res.Code, want) {
			t.Errorf("generated code missing %q\n%s", want, res.Code)
		}
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
}

func TestExportProcedure(t *testing.T) {
	g := blocks.NewGraph()
	g.Add("def", &blocks.Block{
		Opcode:   "procedures_definition",
		Next:     "body",
		Mutation: &blocks.Mutation{ProcCode: "bump %s", ArgumentNames: []string{"N"}, Warp: true},
	})
	g.Add("body", &blocks.Block{
		Opcode: "data_changevariableby", Parent: "def",
		Inputs: map[string]blocks.Input{"VALUE": blocks.BlockInput("arg")},
		Fields: map[string]string{"VARIABLE": "acc"},
	})
	g.Add("arg", &blocks.Block{
		Opcode: "argument_reporter_string_number", Parent: "body",
		Fields: map[string]string{"VALUE": "N"},
	})
	g.Add("hat", &blocks.Block{Opcode: "event_whenflagclicked", Next: "call"})
	g.Add("call", &blocks.Block{
		Opcode:   "procedures_call", Parent: "hat",
		Inputs:   map[string]blocks.Input{"N": blocks.ShadowInput("7")},
		Mutation: &blocks.Mutation{ProcCode: "bump %s", ArgumentNames: []string{"N"}},
	})

	res := generateFor(t, g, "hat")

	if !strings.Contains(res.Code, "func proc_bump__s(") {
		t.Errorf("generated code missing procedure function\n%s", res.Code)
	}
	if !strings.Contains(res.Code, "proc_bump__s(vars,") {
		t.Errorf("generated code missing procedure call\n%s", res.Code)
	}
}

func TestExportForeverWarns(t *testing.T) {
	g := blocks.NewGraph()
	g.Add("hat", &blocks.Block{Opcode: "event_whenflagclicked", Next: "loop"})
	g.Add("loop", &blocks.Block{
		Opcode: "control_forever", Parent: "hat",
		Inputs: map[string]blocks.Input{"SUBSTACK": blocks.BlockInput("chg")},
	})
	g.Add("chg", &blocks.Block{
		Opcode: "data_changevariableby", Parent: "loop",
		Inputs: map[string]blocks.Input{"VALUE": blocks.ShadowInput("1")},
		Fields: map[string]string{"VARIABLE": "n"},
	})

	res := generateFor(t, g, "hat")

	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], "forever") {
		t.Errorf("warning = %q, want mention of forever", res.Warnings[0])
	}
}
