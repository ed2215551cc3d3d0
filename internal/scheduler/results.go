package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Failure attributes one failed task.
type Failure struct {
	Task   string
	Reason FailureReason
	Err    error
}

func (f Failure) String() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Task, f.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", f.Task, f.Reason, f.Err)
}

// Results is the outcome of one Run.
type Results struct {
	RunID  string
	Action Action

	Success                bool
	RequiredCount          int
	ExecutedCount          int
	UpToDateCount          int
	FailedCount            int
	NotRunCount            int
	ImplicitRecomputeCount int

	Failures []Failure
	// Statuses maps each required task's primary output to its final status.
	Statuses map[string]Status

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall-clock time of the run.
func (r *Results) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Err returns nil for a successful run and an ErrBuildFailed-wrapping error
// listing the failures otherwise.
func (r *Results) Err() error {
	if r.Success {
		return nil
	}
	if len(r.Failures) == 0 {
		return fmt.Errorf("%w: %d task(s) not run", ErrBuildFailed, r.NotRunCount)
	}
	lines := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		lines = append(lines, f.String())
	}
	return fmt.Errorf("%w:\n  %s", ErrBuildFailed, strings.Join(lines, "\n  "))
}

// aggregator accumulates Results. It is written from the completion-draining
// path and read by observers, hence the lock.
type aggregator struct {
	mu  sync.Mutex
	res Results
}

func newAggregator(runID string, action Action, now time.Time) *aggregator {
	return &aggregator{res: Results{
		RunID:     runID,
		Action:    action,
		Statuses:  make(map[string]Status),
		StartedAt: now,
	}}
}

func (a *aggregator) require(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.res.RequiredCount++
	a.res.Statuses[name] = StatusPending
}

func (a *aggregator) implicitRecompute() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.res.ImplicitRecomputeCount++
}

func (a *aggregator) record(name string, o outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.res.Statuses[name] = o.status
	if o.executed {
		a.res.ExecutedCount++
	}
	switch o.status {
	case StatusUpToDate:
		a.res.UpToDateCount++
	case StatusFailed:
		a.res.FailedCount++
		a.res.Failures = append(a.res.Failures, Failure{Task: name, Reason: o.reason, Err: o.err})
	}
}

// snapshot returns counts for progress reporting.
func (a *aggregator) snapshot() (required, failed, upToDate int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.res.RequiredCount, a.res.FailedCount, a.res.UpToDateCount
}

// finish seals the results and returns a copy.
func (a *aggregator) finish(done int, now time.Time) *Results {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := a.res
	res.FinishedAt = now
	res.NotRunCount = res.RequiredCount - done
	res.Success = res.FailedCount == 0 && res.NotRunCount == 0

	res.Failures = append([]Failure(nil), a.res.Failures...)
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Task < res.Failures[j].Task })

	res.Statuses = make(map[string]Status, len(a.res.Statuses))
	for k, v := range a.res.Statuses {
		res.Statuses[k] = v
	}
	return &res
}
