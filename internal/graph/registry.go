// Package graph holds the static part of the build graph: which task produces
// each path, which tasks consume it, and the dependency edges implied by
// explicit inputs.
package graph

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/aristath/forge/internal/task"
)

// NodeID addresses a registered task. IDs are dense, start at zero and stay
// stable for the lifetime of the Registry.
type NodeID int

// NoProducer marks a path no registered task produces.
const NoProducer NodeID = -1

// FileEntry records who produces and who consumes a path.
type FileEntry struct {
	Path      string
	Producer  NodeID
	Consumers []NodeID
}

// IO is a task's explicit I/O with every path cleaned.
type IO struct {
	Inputs  []string
	Outputs []string
}

// Registry indexes tasks by the paths they produce and consume.
type Registry struct {
	mu sync.RWMutex

	tasks []task.Task
	io    []IO
	files map[string]*FileEntry

	deps          [][]NodeID
	edgesComputed bool
	edgesErr      error
}

// NewRegistry registers tasks in order. The first conflicting output fails the
// whole pass and no registry is returned.
func NewRegistry(tasks ...task.Task) (*Registry, error) {
	r := &Registry{files: make(map[string]*FileEntry)}
	for _, t := range tasks {
		if _, err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t and claims its explicit outputs and primary output. A path
// already claimed by another task yields a *ConflictError and leaves the
// registry unchanged. A task with an empty primary output is rejected.
func (r *Registry) Register(t task.Task) (NodeID, error) {
	if t.PrimaryOutput() == "" {
		inputs, _ := t.ExplicitIO()
		return NoProducer, fmt.Errorf("%w (inputs %v)", ErrNoPrimaryOutput, inputs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inputs, outputs := t.ExplicitIO()
	io := IO{
		Inputs:  cleanAll(inputs),
		Outputs: cleanAll(outputs),
	}
	primary := filepath.Clean(t.PrimaryOutput())

	claims := io.Outputs
	if !contains(claims, primary) {
		claims = append(append([]string(nil), claims...), primary)
	}

	// Check every claim before mutating anything.
	for _, path := range claims {
		if e, ok := r.files[path]; ok && e.Producer != NoProducer {
			return NoProducer, &ConflictError{
				Path:     path,
				Existing: filepath.Clean(r.tasks[e.Producer].PrimaryOutput()),
				Incoming: primary,
			}
		}
	}

	id := NodeID(len(r.tasks))
	r.tasks = append(r.tasks, t)
	r.io = append(r.io, io)

	for _, path := range claims {
		r.entryLocked(path).Producer = id
	}
	for _, path := range io.Inputs {
		e := r.entryLocked(path)
		e.Consumers = append(e.Consumers, id)
	}

	r.edgesComputed = false
	return id, nil
}

// ResolveEdges turns every explicit input with a known producer into a
// dependency edge, then checks the result for cycles. Inputs nobody produces
// are leaves. The result is cached until the next Register.
func (r *Registry) ResolveEdges() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.edgesComputed {
		return r.edgesErr
	}

	deps := make([][]NodeID, len(r.tasks))
	for i, io := range r.io {
		seen := make(map[NodeID]struct{})
		for _, in := range io.Inputs {
			e, ok := r.files[in]
			if !ok || e.Producer == NoProducer {
				continue
			}
			if _, dup := seen[e.Producer]; dup {
				continue
			}
			seen[e.Producer] = struct{}{}
			deps[i] = append(deps[i], e.Producer)
		}
	}

	r.deps = deps
	r.edgesErr = r.checkAcyclicLocked()
	r.edgesComputed = true
	return r.edgesErr
}

// Entry returns the entry for path, creating an unproduced one on demand.
func (r *Registry) Entry(path string) *FileEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryLocked(filepath.Clean(path))
}

func (r *Registry) entryLocked(path string) *FileEntry {
	e, ok := r.files[path]
	if !ok {
		e = &FileEntry{Path: path, Producer: NoProducer}
		r.files[path] = e
	}
	return e
}

// Producer returns the task producing path.
func (r *Registry) Producer(path string) (NodeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.files[filepath.Clean(path)]
	if !ok || e.Producer == NoProducer {
		return NoProducer, false
	}
	return e.Producer, true
}

// Consumers returns the tasks that list path as an explicit input.
func (r *Registry) Consumers(path string) []NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.files[filepath.Clean(path)]
	if !ok {
		return nil
	}
	return append([]NodeID(nil), e.Consumers...)
}

// Dependencies returns the static dependencies of id. ResolveEdges must have
// been called.
func (r *Registry) Dependencies(id NodeID) []NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(id) >= len(r.deps) {
		return nil
	}
	return append([]NodeID(nil), r.deps[id]...)
}

// Task returns the task registered as id.
func (r *Registry) Task(id NodeID) task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[id]
}

// IO returns the cleaned explicit I/O of id.
func (r *Registry) IO(id NodeID) IO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.io[id]
}

// Name returns the cleaned primary output of id, used in logs and reports.
func (r *Registry) Name(id NodeID) string {
	return filepath.Clean(r.Task(id).PrimaryOutput())
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Lookup resolves a target path to the task producing it.
func (r *Registry) Lookup(target string) (NodeID, error) {
	id, ok := r.Producer(target)
	if !ok {
		return NoProducer, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	return id, nil
}

func cleanAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if !contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func contains(paths []string, p string) bool {
	for _, q := range paths {
		if q == p {
			return true
		}
	}
	return false
}
