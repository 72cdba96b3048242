// Package main provides a CLI tool for comparing the typed compiler
// path against the forced interpreter path.
//
// Usage:
//
//	stage-compare ir <project.json>       # Dump generated IR as JSON
//	stage-compare run <project.json>      # Run typed, dump final state JSON
//	stage-compare interp <project.json>   # Run interpreter-only, dump final state JSON
//	stage-compare diff <project.json>     # Run both paths and compare snapshots
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chazu/stagehand/pkg/codegen"
	"github.com/chazu/stagehand/pkg/ir"
	"github.com/chazu/stagehand/pkg/project"
	"github.com/chazu/stagehand/pkg/runtime"
)

const maxTicks = 10000

func main() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}

	command, path := os.Args[1], os.Args[2]

	var err error
	switch command {
	case "ir":
		err = cmdIR(path)
	case "run":
		err = cmdRun(path, false)
	case "interp":
		err = cmdRun(path, true)
	case "diff":
		err = cmdDiff(path)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`stage-compare - compare typed and interpreter execution paths

Usage:
  stage-compare ir <project.json>       Dump generated IR as JSON
  stage-compare run <project.json>      Run the typed path, dump final state
  stage-compare interp <project.json>   Run the interpreter path, dump final state
  stage-compare diff <project.json>     Run both paths and report divergence`)
}

func cmdIR(path string) error {
	pf, err := project.LoadFile(path)
	if err != nil {
		return err
	}

	out := make(map[string]map[string]*ir.Script)
	for _, t := range project.BuildTargets(pf) {
		scripts := make(map[string]*ir.Script)
		for _, top := range t.Graph.TopBlocks() {
			script, err := ir.Generate(t.Graph, top)
			if err != nil {
				return fmt.Errorf("target %s, script %s: %w", t.Name, top, err)
			}
			scripts[string(top)] = script
		}
		out[t.Name] = scripts
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func execute(path string, interpret bool) (*runtime.Runtime, error) {
	pf, err := project.LoadFile(path)
	if err != nil {
		return nil, err
	}
	compiler, err := codegen.New(codegen.Config{InterpretOnly: interpret})
	if err != nil {
		return nil, err
	}

	rt := runtime.New(runtime.Config{})
	rt.SetCompiler(compiler)
	for _, t := range project.BuildTargets(pf) {
		rt.AddTarget(t)
	}

	rt.GreenFlag()
	rt.Run(maxTicks)
	return rt, nil
}

func cmdRun(path string, interpret bool) error {
	rt, err := execute(path, interpret)
	if err != nil {
		return err
	}

	snap := project.Capture(path, rt)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap.Targets)
}

// cmdDiff runs the script both ways and compares the canonical
// snapshot encodings byte for byte (timestamps excluded).
func cmdDiff(path string) error {
	typed, err := execute(path, false)
	if err != nil {
		return err
	}
	interp, err := execute(path, true)
	if err != nil {
		return err
	}

	a := project.Capture(path, typed)
	b := project.Capture(path, interp)
	a.TakenAt = b.TakenAt

	aBytes, err := project.MarshalSnapshot(a)
	if err != nil {
		return err
	}
	bBytes, err := project.MarshalSnapshot(b)
	if err != nil {
		return err
	}

	if bytes.Equal(aBytes, bBytes) {
		fmt.Println("MATCH: typed and interpreter paths agree")
		return nil
	}

	fmt.Println("MISMATCH: paths diverged")
	for i := range a.Targets {
		at, bt := a.Targets[i], b.Targets[i]
		for name, av := range at.Variables {
			if bv := bt.Variables[name]; av != bv {
				fmt.Printf("  %s.%s: typed=%v interp=%v\n", at.Name, name, av, bv)
			}
		}
		if at.X != bt.X || at.Y != bt.Y || at.Direction != bt.Direction {
			fmt.Printf("  %s: typed=(%v,%v,%v) interp=(%v,%v,%v)\n",
				at.Name, at.X, at.Y, at.Direction, bt.X, bt.Y, bt.Direction)
		}
	}
	return fmt.Errorf("execution paths diverged")
}
