// Stagehand - cooperative script engine runner
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/chazu/stagehand/pkg/codegen"
	"github.com/chazu/stagehand/pkg/project"
	"github.com/chazu/stagehand/pkg/runtime"
	"github.com/chazu/stagehand/pkg/value"
)

var (
	projectPath = flag.String("project", "", "project JSON file to run (overrides the manifest entry)")
	manifestDir = flag.String("manifest", "", "directory containing stagehand.toml")
	maxTicks    = flag.Int("max-ticks", 10000, "stop after this many ticks (0 = run until idle)")
	interpret   = flag.Bool("interpret", false, "force the interpreter path (no typed lowering)")
	snapshotOut = flag.String("snapshot", "", "write a CBOR state snapshot to this file on exit")
	verbose     = flag.Bool("verbose", false, "enable debug logging")
	version     = flag.Bool("version", false, "print version and exit")
)

const versionStr = "0.3.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Stagehand - cooperative script engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  stagehand -project project.json [options]\n")
		fmt.Fprintf(os.Stderr, "  stagehand -manifest dir/ [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *version {
		fmt.Printf("stagehand version %s\n", versionStr)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rtCfg := runtime.Config{}
	entry := *projectPath

	var manifestName string
	if *manifestDir != "" {
		m, err := project.LoadManifest(*manifestDir)
		if err != nil {
			return err
		}
		rtCfg = m.RuntimeConfig()
		manifestName = m.Project.Name
		if entry == "" {
			entry = m.EntryPath()
		}
	}
	if entry == "" {
		flag.Usage()
		return fmt.Errorf("no project given")
	}

	logger := zap.NewNop()
	if *verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer dev.Sync()
		logger = dev
	}
	rtCfg.Logger = logger

	pf, err := project.LoadFile(entry)
	if err != nil {
		return err
	}

	compiler, err := codegen.New(codegen.Config{InterpretOnly: *interpret})
	if err != nil {
		return err
	}

	rt := runtime.New(rtCfg)
	rt.SetCompiler(compiler)
	for _, t := range project.BuildTargets(pf) {
		rt.AddTarget(t)
	}

	rt.AddListener(func(ev runtime.Event) {
		switch ev.Kind {
		case runtime.EventSay:
			fmt.Printf("%s says: %s\n", ev.Target, ev.Message)
		case runtime.EventCompileError:
			fmt.Fprintf(os.Stderr, "compile error in %s at %s: %v\n", ev.Target, ev.Block, ev.Err)
		case runtime.EventThreadFault:
			fmt.Fprintf(os.Stderr, "thread fault in %s: %v\n", ev.Target, ev.Err)
		}
	})

	rt.GreenFlag()
	ticks := rt.Run(*maxTicks)
	logger.Debug("run complete", zap.Int("ticks", ticks), zap.Int("threads-left", rt.ThreadCount()))

	printVariables(rt)

	if *snapshotOut != "" {
		name := manifestName
		if name == "" {
			name = entry
		}
		data, err := project.MarshalSnapshot(project.Capture(name, rt))
		if err != nil {
			return err
		}
		if err := os.WriteFile(*snapshotOut, data, 0o644); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
	}
	return nil
}

func printVariables(rt *runtime.Runtime) {
	for _, t := range rt.Targets() {
		names := t.VariableNames()
		if len(names) == 0 {
			continue
		}
		fmt.Printf("%s:\n", t.Name)
		for _, name := range names {
			fmt.Printf("  %s = %s\n", name, value.ToString(t.Variable(name)))
		}
	}
}
