// Package export generates standalone Go source from a compiled
// script: an ahead-of-time rendition that replays the script's effects
// without the engine. Scripts using cooperative-only behavior (forever
// loops, extension blocks) export with warnings for the parts that
// have no standalone equivalent.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/chazu/stagehand/pkg/ir"
)

// Result contains the generated code and any warnings.
type Result struct {
	Code     string
	Warnings []string
}

// Generate produces a Go main package from one IR script.
func Generate(targetName string, script *ir.Script) (*Result, error) {
	g := &generator{script: script}

	f := jen.NewFile("main")
	f.HeaderComment(fmt.Sprintf("Exported from target %q.", targetName))

	g.generateHelpers(f)
	f.Line()

	for _, code := range procCodes(script) {
		g.generateProc(f, script.Procedures[code])
		f.Line()
	}

	f.Func().Id("main").Params().Block(g.mainBody()...)

	var buf strings.Builder
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering export: %w", err)
	}
	return &Result{Code: buf.String(), Warnings: g.warnings}, nil
}

func procCodes(script *ir.Script) []string {
	codes := make([]string, 0, len(script.Procedures))
	for code := range script.Procedures {
		codes = append(codes, code)
	}
	// Deterministic output order.
	sort.Strings(codes)
	return codes
}

type generator struct {
	script   *ir.Script
	warnings []string
}

func (g *generator) warn(format string, args ...interface{}) {
	g.warnings = append(g.warnings, fmt.Sprintf(format, args...))
}

// generateHelpers emits the loose-typing helpers the exported code
// shares with the engine's value semantics.
func (g *generator) generateHelpers(f *jen.File) {
	f.Func().Id("toNum").Params(jen.Id("v").Interface()).Float64().Block(
		jen.Switch(jen.Id("x").Op(":=").Id("v").Assert(jen.Type())).Block(
			jen.Case(jen.Float64()).Block(jen.Return(jen.Id("x"))),
			jen.Case(jen.Bool()).Block(
				jen.If(jen.Id("x")).Block(jen.Return(jen.Lit(1))),
				jen.Return(jen.Lit(0)),
			),
			jen.Case(jen.String()).Block(
				jen.List(jen.Id("n"), jen.Id("err")).Op(":=").Qual("strconv", "ParseFloat").Call(
					jen.Qual("strings", "TrimSpace").Call(jen.Id("x")), jen.Lit(64)),
				jen.If(jen.Id("err").Op("!=").Nil()).Block(jen.Return(jen.Lit(0))),
				jen.Return(jen.Id("n")),
			),
		),
		jen.Return(jen.Lit(0)),
	)
	f.Line()
	f.Func().Id("toStr").Params(jen.Id("v").Interface()).String().Block(
		jen.If(jen.List(jen.Id("s"), jen.Id("ok")).Op(":=").Id("v").Assert(jen.String()), jen.Id("ok")).Block(
			jen.Return(jen.Id("s")),
		),
		jen.Return(jen.Qual("fmt", "Sprint").Call(jen.Id("v"))),
	)
}

func (g *generator) generateProc(f *jen.File, p *ir.Proc) {
	f.Func().Id(procName(p.Code)).Params(
		jen.Id("vars").Map(jen.String()).Interface(),
		jen.Id("params").Map(jen.String()).Interface(),
	).Block(g.statements(p.Body)...)
}

func (g *generator) mainBody() []jen.Code {
	body := []jen.Code{
		jen.Id("vars").Op(":=").Map(jen.String()).Interface().Values(),
		jen.Var().Id("params").Map(jen.String()).Interface(),
		jen.Id("_").Op("=").Id("params"),
		jen.Line(),
	}
	body = append(body, g.statements(g.script.Body)...)
	body = append(body,
		jen.Line(),
		jen.For(jen.List(jen.Id("name"), jen.Id("v")).Op(":=").Range().Id("vars")).Block(
			jen.Qual("fmt", "Printf").Call(jen.Lit("%s = %v\n"), jen.Id("name"), jen.Id("v")),
		),
	)
	return body
}

func (g *generator) statements(nodes []*ir.Node) []jen.Code {
	var out []jen.Code
	for _, n := range nodes {
		out = append(out, g.statement(n)...)
	}
	if len(out) == 0 {
		out = append(out, jen.Empty())
	}
	return out
}

func (g *generator) statement(n *ir.Node) []jen.Code {
	switch n.Kind {
	case ir.KindSetVariable:
		return []jen.Code{
			jen.Id("vars").Index(jen.Lit(n.Fields["VARIABLE"])).Op("=").Add(g.exprRaw(n.Inputs[0])),
		}

	case ir.KindChangeVariable:
		name := n.Fields["VARIABLE"]
		return []jen.Code{
			jen.Id("vars").Index(jen.Lit(name)).Op("=").
				Id("toNum").Call(jen.Id("vars").Index(jen.Lit(name))).
				Op("+").Add(g.exprNum(n.Inputs[0])),
		}

	case ir.KindSay:
		return []jen.Code{
			jen.Qual("fmt", "Println").Call(g.exprStr(n.Inputs[0])),
		}

	case ir.KindWait:
		return []jen.Code{
			jen.Qual("time", "Sleep").Call(
				jen.Qual("time", "Duration").Parens(
					jen.Add(g.exprNum(n.Inputs[0])).Op("*").Float64().Parens(jen.Qual("time", "Second")))),
		}

	case ir.KindRepeat:
		return []jen.Code{
			jen.For(
				jen.Id("i").Op(":=").Lit(0),
				jen.Id("i").Op("<").Int().Parens(g.exprNum(n.Inputs[0])),
				jen.Id("i").Op("++"),
			).Block(g.statements(n.Branches[0])...),
		}

	case ir.KindWhile:
		return []jen.Code{
			jen.For(g.exprBool(n.Inputs[0])).Block(g.statements(n.Branches[0])...),
		}

	case ir.KindRepeatUntil:
		return []jen.Code{
			jen.For(jen.Op("!").Parens(g.exprBool(n.Inputs[0]))).Block(g.statements(n.Branches[0])...),
		}

	case ir.KindIf:
		return []jen.Code{
			jen.If(g.exprBool(n.Inputs[0])).Block(g.statements(n.Branches[0])...),
		}

	case ir.KindIfElse:
		return []jen.Code{
			jen.If(g.exprBool(n.Inputs[0])).Block(g.statements(n.Branches[0])...).
				Else().Block(g.statements(n.Branches[1])...),
		}

	case ir.KindAllAtOnce:
		// Everything exports as straight-line code already.
		return g.statements(n.Branches[0])

	case ir.KindBreak:
		return []jen.Code{jen.Break()}

	case ir.KindContinue:
		return []jen.Code{jen.Continue()}

	case ir.KindStopScript, ir.KindStopAll:
		return []jen.Code{jen.Return()}

	case ir.KindProcedureCall:
		if _, ok := g.script.Procedures[n.ProcCode]; !ok {
			g.warn("call to undefined procedure %q dropped", n.ProcCode)
			return nil
		}
		dict := jen.Dict{}
		args := jen.Map(jen.String()).Interface().Values(dict)
		for i, in := range n.Inputs {
			dict[jen.Lit(n.InputNames[i])] = g.exprRaw(in)
		}
		return []jen.Code{
			jen.Id(procName(n.ProcCode)).Call(jen.Id("vars"), args),
		}

	case ir.KindForever:
		g.warn("forever loop at block %q has no standalone equivalent; skipped", n.Block)
		return []jen.Code{jen.Commentf("forever loop %s skipped", n.Block)}

	default:
		g.warn("opcode %q has no export lowering; skipped", n.Opcode)
		return []jen.Code{jen.Commentf("block %s (%s) skipped", n.Block, n.Opcode)}
	}
}

func (g *generator) exprRaw(n *ir.Node) *jen.Statement {
	switch n.Kind {
	case ir.KindConstString:
		return jen.Lit(n.Str)
	case ir.KindConstBool:
		return jen.Lit(n.Bool)
	case ir.KindVariable:
		return jen.Id("vars").Index(jen.Lit(n.Str))
	case ir.KindParameter:
		return jen.Id("params").Index(jen.Lit(n.Str))
	default:
		return g.exprNum(n)
	}
}

func (g *generator) exprNum(n *ir.Node) *jen.Statement {
	switch n.Kind {
	case ir.KindConstNumber:
		return jen.Lit(n.Num)
	case ir.KindConstString, ir.KindConstBool:
		return jen.Id("toNum").Call(g.exprRaw(n))
	case ir.KindVariable:
		return jen.Id("toNum").Call(jen.Id("vars").Index(jen.Lit(n.Str)))
	case ir.KindParameter:
		return jen.Id("toNum").Call(jen.Id("params").Index(jen.Lit(n.Str)))
	case ir.KindAdd:
		return jen.Parens(g.exprNum(n.Inputs[0]).Op("+").Add(g.exprNum(n.Inputs[1])))
	case ir.KindSubtract:
		return jen.Parens(g.exprNum(n.Inputs[0]).Op("-").Add(g.exprNum(n.Inputs[1])))
	case ir.KindMultiply:
		return jen.Parens(g.exprNum(n.Inputs[0]).Op("*").Add(g.exprNum(n.Inputs[1])))
	case ir.KindDivide:
		return jen.Parens(g.exprNum(n.Inputs[0]).Op("/").Add(g.exprNum(n.Inputs[1])))
	case ir.KindMod:
		return jen.Qual("math", "Mod").Call(g.exprNum(n.Inputs[0]), g.exprNum(n.Inputs[1]))
	case ir.KindLength:
		return jen.Float64().Parens(jen.Len(g.exprStr(n.Inputs[0])))
	default:
		g.warn("expression %q exported as constant 0", n.Opcode)
		return jen.Lit(float64(0))
	}
}

func (g *generator) exprStr(n *ir.Node) *jen.Statement {
	switch n.Kind {
	case ir.KindConstString:
		return jen.Lit(n.Str)
	case ir.KindVariable:
		return jen.Id("toStr").Call(jen.Id("vars").Index(jen.Lit(n.Str)))
	case ir.KindParameter:
		return jen.Id("toStr").Call(jen.Id("params").Index(jen.Lit(n.Str)))
	case ir.KindJoin:
		return jen.Parens(g.exprStr(n.Inputs[0]).Op("+").Add(g.exprStr(n.Inputs[1])))
	default:
		return jen.Id("toStr").Call(g.exprRaw(n))
	}
}

func (g *generator) exprBool(n *ir.Node) *jen.Statement {
	switch n.Kind {
	case ir.KindConstBool:
		return jen.Lit(n.Bool)
	case ir.KindEquals:
		return jen.Parens(g.exprNum(n.Inputs[0]).Op("==").Add(g.exprNum(n.Inputs[1])))
	case ir.KindGreater:
		return jen.Parens(g.exprNum(n.Inputs[0]).Op(">").Add(g.exprNum(n.Inputs[1])))
	case ir.KindLess:
		return jen.Parens(g.exprNum(n.Inputs[0]).Op("<").Add(g.exprNum(n.Inputs[1])))
	case ir.KindAnd:
		return jen.Parens(g.exprBool(n.Inputs[0]).Op("&&").Add(g.exprBool(n.Inputs[1])))
	case ir.KindOr:
		return jen.Parens(g.exprBool(n.Inputs[0]).Op("||").Add(g.exprBool(n.Inputs[1])))
	case ir.KindNot:
		return jen.Op("!").Parens(g.exprBool(n.Inputs[0]))
	default:
		return jen.Parens(g.exprNum(n).Op("!=").Lit(0))
	}
}

// procName maps a proccode like "bump %s" to a valid Go identifier.
func procName(code string) string {
	var b strings.Builder
	b.WriteString("proc_")
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
