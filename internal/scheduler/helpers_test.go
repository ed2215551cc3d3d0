package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/forge/internal/events"
	"github.com/aristath/forge/internal/fingerprint"
	"github.com/aristath/forge/internal/graph"
	"github.com/aristath/forge/internal/logging"
	"github.com/aristath/forge/internal/stamp"
	"github.com/aristath/forge/internal/task"
)

// fileClock hands out strictly increasing modification times so every write
// in a test changes the file's size+mtime stamp.
var fileClock atomic.Int64

func bumpMtime(path string) error {
	mtime := time.Unix(1700000000+fileClock.Add(1), 0)
	return os.Chtimes(path, mtime, mtime)
}

// recorder collects task names in execution order.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *recorder) index(name string) int {
	for i, n := range r.list() {
		if n == name {
			return i
		}
	}
	return -1
}

// fakeTask concatenates its inputs (explicit then discovered) into each output.
type fakeTask struct {
	inputs        []string
	outputs       []string
	discovered    []string
	needsImplicit bool
	params        string
	uncacheable   bool
	failWith      error
	panicWith     any
	intermediates []string
	onExecute     func(ctx context.Context)
	rec           *recorder

	execs       atomic.Int32
	discoveries atomic.Int32
}

func (f *fakeTask) ExplicitIO() ([]string, []string) { return f.inputs, f.outputs }

func (f *fakeTask) RequiresImplicitInputs() bool { return f.needsImplicit }

func (f *fakeTask) ImplicitInputs(context.Context) ([]string, error) {
	f.discoveries.Add(1)
	return f.discovered, nil
}

func (f *fakeTask) CacheableParameters() (string, bool) {
	if f.uncacheable {
		return "", false
	}
	return "fake " + f.params, true
}

func (f *fakeTask) PrimaryOutput() string { return f.outputs[0] }

func (f *fakeTask) IntermediateFiles() []string { return f.intermediates }

func (f *fakeTask) Execute(ctx context.Context) error {
	f.execs.Add(1)
	if f.rec != nil {
		f.rec.add(filepath.Base(f.outputs[0]))
	}
	if f.onExecute != nil {
		f.onExecute(ctx)
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.failWith != nil {
		return f.failWith
	}

	var b strings.Builder
	sources := append(append([]string(nil), f.inputs...), f.discovered...)
	for _, in := range sources {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		b.Write(data)
	}
	for _, out := range append(append([]string(nil), f.outputs...), f.intermediates...) {
		if err := os.WriteFile(out, []byte(b.String()), 0644); err != nil {
			return err
		}
		if err := bumpMtime(out); err != nil {
			return err
		}
	}
	return nil
}

type harness struct {
	t       *testing.T
	dir     string
	store   fingerprint.Store
	bus     events.Publisher
	metrics *Metrics
	rec     *recorder
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:     t,
		dir:   t.TempDir(),
		store: fingerprint.NewFileStore(),
		rec:   &recorder{},
	}
}

func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

func (h *harness) paths(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, h.path(n))
	}
	return out
}

// write creates or replaces a source file with a fresh stamp.
func (h *harness) write(name, content string) {
	h.t.Helper()
	p := h.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		h.t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		h.t.Fatal(err)
	}
	if err := bumpMtime(p); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) exists(name string) bool {
	_, err := os.Stat(h.path(name))
	return err == nil
}

// task declares a fake task producing output from inputs, all relative to the
// harness directory.
func (h *harness) task(output string, inputs ...string) *fakeTask {
	return &fakeTask{
		inputs:  h.paths(inputs),
		outputs: []string{h.path(output)},
		rec:     h.rec,
	}
}

func (h *harness) run(req Request, tasks ...*fakeTask) (*Results, error) {
	h.t.Helper()

	list := make([]task.Task, 0, len(tasks))
	for _, ft := range tasks {
		list = append(list, ft)
	}
	reg, err := graph.NewRegistry(list...)
	if err != nil {
		return nil, err
	}

	s, err := New(Config{
		Registry: reg,
		Store:    h.store,
		Stamps:   &stamp.ModTime{},
		Bus:      h.bus,
		Metrics:  h.metrics,
	})
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}

	ctx := logging.WithLogger(context.Background(), logging.Discard())
	return s.Run(ctx, req)
}

func (h *harness) build(tasks ...*fakeTask) *Results {
	h.t.Helper()
	res, err := h.run(Request{Action: ActionBuild, ProcessDependencies: true, MaxConcurrency: 4}, tasks...)
	if err != nil {
		h.t.Fatalf("Run: %v", err)
	}
	return res
}

func (h *harness) status(res *Results, output string) Status {
	h.t.Helper()
	st, ok := res.Statuses[h.path(output)]
	if !ok {
		h.t.Fatalf("%s not in results (have %v)", output, res.Statuses)
	}
	return st
}

func (h *harness) failure(res *Results, output string) Failure {
	h.t.Helper()
	for _, f := range res.Failures {
		if f.Task == h.path(output) {
			return f
		}
	}
	h.t.Fatalf("no failure recorded for %s", output)
	return Failure{}
}

func expectCounts(t *testing.T, res *Results, required, executed, upToDate, failed int) {
	t.Helper()
	if res.RequiredCount != required || res.ExecutedCount != executed ||
		res.UpToDateCount != upToDate || res.FailedCount != failed {
		t.Fatalf("counts required=%d executed=%d upToDate=%d failed=%d, want %d/%d/%d/%d",
			res.RequiredCount, res.ExecutedCount, res.UpToDateCount, res.FailedCount,
			required, executed, upToDate, failed)
	}
}

func removeFile(path string) error {
	return os.Remove(path)
}
