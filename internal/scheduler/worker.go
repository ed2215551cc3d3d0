package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/forge/internal/fingerprint"
	"github.com/aristath/forge/internal/graph"
	"github.com/aristath/forge/internal/logging"
	"github.com/aristath/forge/internal/task"
)

// attempt is the immutable snapshot a worker gets for one dispatch.
type attempt struct {
	id            graph.NodeID
	name          string
	task          task.Task
	io            graph.IO
	implicit      []string
	implicitKnown bool
}

// outcome is what a worker posts back. status is terminal, or
// StatusImplicitInputsComputed with implicit set.
type outcome struct {
	id       graph.NodeID
	status   Status
	reason   FailureReason
	err      error
	implicit []string
	executed bool
}

func failed(id graph.NodeID, reason FailureReason, err error) outcome {
	return outcome{id: id, status: StatusFailed, reason: reason, err: err}
}

// runOne performs one attempt on a worker goroutine. Panics from the task
// are reported as execution failures.
func (s *Scheduler) runOne(ctx context.Context, action Action, a attempt) (o outcome) {
	defer func() {
		if p := recover(); p != nil {
			o = failed(a.id, ReasonExecuteFailed, fmt.Errorf("%w: panic: %v", ErrExecuteFailed, p))
		}
	}()

	if action == ActionClean {
		return s.clean(ctx, a)
	}
	if a.task.RequiresImplicitInputs() && !a.implicitKnown {
		return s.discover(ctx, a)
	}
	return s.build(ctx, a)
}

// discover checks the stored fingerprint, re-stamping the implicit inputs it
// recorded last time. Only a stale task runs its discovery step.
func (s *Scheduler) discover(ctx context.Context, a attempt) outcome {
	log := logging.FromContext(ctx).With("task", a.name)
	params, cacheable := a.task.CacheableParameters()

	previous, hasPrevious := s.loadFingerprint(ctx, a)
	if hasPrevious && cacheable {
		var recorded []string
		if fp, err := fingerprint.Decode(previous); err == nil {
			recorded = fp.ImplicitPaths()
		} else {
			log.Debug("stored fingerprint unreadable", "error", err)
		}

		// A recorded input another task produces may be rebuilt in this run,
		// so its producer has to be ordered first through a fresh discovery.
		if !s.anyProduced(recorded) {
			fresh, err := fingerprint.Compute(fingerprint.IO{
				Implicit: recorded,
				Inputs:   a.io.Inputs,
				Outputs:  a.io.Outputs,
			}, params, cacheable, s.stamps)
			if err == nil && !fingerprint.IsStale(fresh, previous, true) {
				return outcome{id: a.id, status: StatusUpToDate}
			}
		}
	}

	if missing := missingPaths(a.io.Inputs); len(missing) > 0 {
		return inputsMissing(a.id, missing)
	}

	paths, err := a.task.ImplicitInputs(ctx)
	if err != nil {
		return failed(a.id, ReasonExecuteFailed,
			fmt.Errorf("%w: discovering implicit inputs: %w", ErrExecuteFailed, err))
	}
	return outcome{id: a.id, status: StatusImplicitInputsComputed, implicit: cleanPaths(paths)}
}

// build is the steady state: compare the full fingerprint, check inputs,
// execute and persist.
func (s *Scheduler) build(ctx context.Context, a attempt) outcome {
	log := logging.FromContext(ctx).With("task", a.name)
	params, cacheable := a.task.CacheableParameters()
	io := fingerprint.IO{Implicit: a.implicit, Inputs: a.io.Inputs, Outputs: a.io.Outputs}

	var before *fingerprint.Fingerprint
	if cacheable {
		previous, hasPrevious := s.loadFingerprint(ctx, a)
		before = fingerprint.Build(io, params, s.stamps)
		if !fingerprint.IsStale(before.Encode(), previous, hasPrevious) {
			return outcome{id: a.id, status: StatusUpToDate}
		}
	}

	inputs := append(append([]string(nil), a.io.Inputs...), a.implicit...)
	if missing := missingPaths(inputs); len(missing) > 0 {
		return inputsMissing(a.id, missing)
	}

	if err := s.execute(ctx, a); err != nil {
		o := failed(a.id, ReasonExecuteFailed, fmt.Errorf("%w: %w", ErrExecuteFailed, err))
		o.executed = true
		return o
	}

	if before != nil {
		// Inputs keep the stamps they had when the task started: one edited
		// while the task ran leaves the stored text stale.
		before.RestampOutputs(s.stamps)
		err := s.store.Save(ctx, fingerprint.PathFor(a.task.PrimaryOutput()), before.Encode())
		if err != nil {
			log.Warn("fingerprint not saved, task will rebuild next run", "error", err)
		}
	}
	return outcome{id: a.id, status: StatusSucceeded, executed: true}
}

// execute runs the task holding its output and intermediate paths.
func (s *Scheduler) execute(ctx context.Context, a attempt) (err error) {
	scratch := append(append([]string(nil), a.io.Outputs...), cleanPaths(a.task.IntermediateFiles())...)
	s.scratch.LockAll(scratch)
	defer s.scratch.UnlockAll(scratch)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return a.task.Execute(ctx)
}

// clean removes outputs, intermediates and the stored fingerprint. Missing
// files are fine.
func (s *Scheduler) clean(ctx context.Context, a attempt) outcome {
	paths := append(append([]string(nil), a.io.Outputs...), cleanPaths(a.task.IntermediateFiles())...)
	paths = append(paths, filepath.Clean(a.task.PrimaryOutput()))

	s.scratch.LockAll(paths)
	defer s.scratch.UnlockAll(paths)

	var errs []error
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Delete(ctx, fingerprint.PathFor(a.task.PrimaryOutput())); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		o := failed(a.id, ReasonExecuteFailed, fmt.Errorf("%w: cleaning: %w", ErrExecuteFailed, err))
		o.executed = true
		return o
	}
	return outcome{id: a.id, status: StatusSucceeded, executed: true}
}

func (s *Scheduler) loadFingerprint(ctx context.Context, a attempt) (string, bool) {
	text, ok, err := s.store.Load(ctx, fingerprint.PathFor(a.task.PrimaryOutput()))
	if err != nil {
		logging.FromContext(ctx).Warn("ignoring unreadable fingerprint", "task", a.name, "error", err)
		return "", false
	}
	return text, ok
}

func (s *Scheduler) anyProduced(paths []string) bool {
	for _, p := range paths {
		if _, ok := s.reg.Producer(p); ok {
			return true
		}
	}
	return false
}

func inputsMissing(id graph.NodeID, missing []string) outcome {
	return failed(id, ReasonInputsMissing,
		fmt.Errorf("%w: %s", ErrInputsMissing, strings.Join(missing, ", ")))
}

func missingPaths(paths []string) []string {
	var missing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}

func cleanPaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
