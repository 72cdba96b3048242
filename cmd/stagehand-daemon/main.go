// stagehand-daemon - long-running engine host
//
// The daemon keeps projects loaded in a SQLite store and drives their
// runtimes on demand via a stdin/stdout JSON-lines protocol: one
// request object per line in, one response object per line out.
//
// Build: go build ./cmd/stagehand-daemon
// Usage: stagehand-daemon [--store PATH]
package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/chazu/stagehand/pkg/blocks"
	"github.com/chazu/stagehand/pkg/codegen"
	"github.com/chazu/stagehand/pkg/project"
	"github.com/chazu/stagehand/pkg/runtime"
	"github.com/chazu/stagehand/pkg/value"
)

// Request is one line of the protocol.
type Request struct {
	// Op selects the action: save, load, flag, broadcast, key, tick,
	// stop, snapshot, list.
	Op      string          `json:"op"`
	Project string          `json:"project,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"` // project JSON for save
	Name    string          `json:"name,omitempty"` // broadcast message / key name
	Ticks   int             `json:"ticks,omitempty"`
}

// Response is the reply to one request.
type Response struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	Started   int               `json:"started,omitempty"`
	Finished  int               `json:"finished,omitempty"`
	Threads   int               `json:"threads,omitempty"`
	Projects  []string          `json:"projects,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Snapshot  string            `json:"snapshot,omitempty"` // base64 CBOR
}

// Daemon holds the store and the currently loaded runtime.
type Daemon struct {
	store *project.Store
	log   *zap.Logger

	current string
	rt      *runtime.Runtime
}

var (
	storePath = flag.String("store", "stagehand.db", "path to the project database")
	verbose   = flag.Bool("verbose", false, "enable debug logging")
)

func main() {
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
			os.Exit(1)
		}
		defer dev.Sync()
		logger = dev
	}

	store, err := project.OpenStore(*storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	d := &Daemon{store: store, log: logger}
	d.serve(os.Stdin, os.Stdout)
}

func (d *Daemon) serve(in *os.File, out *os.File) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			encoder.Encode(Response{Error: fmt.Sprintf("bad request: %v", err)})
			continue
		}

		resp := d.handle(&req)
		if err := encoder.Encode(resp); err != nil {
			d.log.Error("writing response", zap.Error(err))
			return
		}
	}
}

func (d *Daemon) handle(req *Request) Response {
	d.log.Debug("request", zap.String("op", req.Op), zap.String("project", req.Project))

	switch req.Op {
	case "save":
		pf, err := blocks.ParseProjectBytes(req.Data)
		if err != nil {
			return errResponse(err)
		}
		if err := d.store.Save(req.Project, pf); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case "load":
		pf, err := d.store.Load(req.Project)
		if err != nil {
			return errResponse(err)
		}
		compiler, err := codegen.New(codegen.Config{})
		if err != nil {
			return errResponse(err)
		}
		rt := runtime.New(runtime.Config{Logger: d.log})
		rt.SetCompiler(compiler)
		for _, t := range project.BuildTargets(pf) {
			rt.AddTarget(t)
		}
		d.current = req.Project
		d.rt = rt
		return Response{OK: true}

	case "list":
		ids, err := d.store.List()
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Projects: ids}

	case "flag":
		if d.rt == nil {
			return errResponse(fmt.Errorf("no project loaded"))
		}
		started := d.rt.GreenFlag()
		return Response{OK: true, Started: len(started), Threads: d.rt.ThreadCount()}

	case "broadcast":
		if d.rt == nil {
			return errResponse(fmt.Errorf("no project loaded"))
		}
		started := d.rt.Broadcast(req.Name)
		return Response{OK: true, Started: len(started), Threads: d.rt.ThreadCount()}

	case "key":
		if d.rt == nil {
			return errResponse(fmt.Errorf("no project loaded"))
		}
		started := d.rt.KeyPressed(req.Name)
		return Response{OK: true, Started: len(started), Threads: d.rt.ThreadCount()}

	case "tick":
		if d.rt == nil {
			return errResponse(fmt.Errorf("no project loaded"))
		}
		ticks := req.Ticks
		if ticks <= 0 {
			ticks = 1
		}
		finished := 0
		for i := 0; i < ticks && d.rt.ThreadCount() > 0; i++ {
			finished += len(d.rt.Tick())
		}
		return Response{
			OK:        true,
			Finished:  finished,
			Threads:   d.rt.ThreadCount(),
			Variables: d.collectVariables(),
		}

	case "stop":
		if d.rt == nil {
			return errResponse(fmt.Errorf("no project loaded"))
		}
		d.rt.StopAll()
		d.rt.Tick()
		return Response{OK: true, Threads: d.rt.ThreadCount()}

	case "snapshot":
		if d.rt == nil {
			return errResponse(fmt.Errorf("no project loaded"))
		}
		data, err := project.MarshalSnapshot(project.Capture(d.current, d.rt))
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Snapshot: base64.StdEncoding.EncodeToString(data)}

	default:
		return errResponse(fmt.Errorf("unknown op %q", req.Op))
	}
}

func (d *Daemon) collectVariables() map[string]string {
	vars := make(map[string]string)
	for _, t := range d.rt.Targets() {
		for _, name := range t.VariableNames() {
			vars[t.Name+"."+name] = value.ToString(t.Variable(name))
		}
	}
	return vars
}

func errResponse(err error) Response {
	return Response{Error: err.Error()}
}
