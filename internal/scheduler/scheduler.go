// Package scheduler runs the tasks needed for a set of targets, in dependency
// order and with bounded concurrency, skipping tasks whose fingerprint is
// unchanged. Dependencies discovered while the run is in progress (implicit
// inputs) are folded into the graph and scheduled before the task that
// discovered them executes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/forge/internal/events"
	"github.com/aristath/forge/internal/fingerprint"
	"github.com/aristath/forge/internal/graph"
	"github.com/aristath/forge/internal/logging"
	"github.com/aristath/forge/internal/stamp"
)

// Action selects what a run does to each required task.
type Action int

const (
	ActionBuild Action = iota
	ActionClean
)

func (a Action) String() string {
	switch a {
	case ActionBuild:
		return "build"
	case ActionClean:
		return "clean"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction maps "build" or "clean" to an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "build":
		return ActionBuild, nil
	case "clean":
		return ActionClean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Request describes one run.
type Request struct {
	Action  Action
	Targets []string // empty means every registered task

	// ProcessDependencies builds the transitive closure of the targets. When
	// false only the targets run and their inputs are assumed up to date.
	ProcessDependencies bool

	MaxConcurrency  int // <= 0 means 1
	ContinueOnError bool
}

// Config wires a Scheduler to its collaborators.
type Config struct {
	Registry *graph.Registry
	Store    fingerprint.Store
	Stamps   stamp.Provider   // defaults to size+mtime
	Bus      events.Publisher // optional
	Metrics  *Metrics         // optional
}

// Scheduler runs requests against one registry. Runs must not overlap.
type Scheduler struct {
	reg     *graph.Registry
	store   fingerprint.Store
	stamps  stamp.Provider
	bus     events.Publisher
	metrics *Metrics

	// scratch serializes tasks that write the same output or intermediate path.
	scratch *fingerprint.KeyedLocks
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("scheduler: registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("scheduler: fingerprint store is required")
	}
	if cfg.Stamps == nil {
		cfg.Stamps = &stamp.ModTime{}
	}
	return &Scheduler{
		reg:     cfg.Registry,
		store:   cfg.Store,
		stamps:  cfg.Stamps,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		scratch: fingerprint.NewKeyedLocks(),
	}, nil
}

// Run executes req. Graph errors, unknown targets, cancellation and stalls
// are returned as errors; failures of individual tasks are reported through
// Results (see Results.Err).
func (s *Scheduler) Run(ctx context.Context, req Request) (*Results, error) {
	log := logging.FromContext(ctx)

	if err := s.reg.ResolveEdges(); err != nil {
		return nil, fmt.Errorf("resolving dependency graph: %w", err)
	}

	targets, err := s.resolveTargets(req.Targets)
	if err != nil {
		return nil, err
	}

	if req.MaxConcurrency <= 0 {
		req.MaxConcurrency = 1
	}

	r := newRun(ctx, s, req)
	r.seed(targets)

	log.Info("run starting",
		"run", r.agg.res.RunID,
		"action", req.Action.String(),
		"targets", len(targets),
		"required", r.required,
		"jobs", req.MaxConcurrency,
	)

	runErr := r.loop()
	res := r.agg.finish(r.done, time.Now())

	s.publish(events.TopicRun, events.RunFinishedEvent{
		RunID:     res.RunID,
		Success:   res.Success && runErr == nil,
		Duration:  res.Duration(),
		Timestamp: res.FinishedAt,
	})
	log.Info("run finished",
		"run", res.RunID,
		"success", res.Success && runErr == nil,
		"executed", res.ExecutedCount,
		"up_to_date", res.UpToDateCount,
		"failed", res.FailedCount,
		"not_run", res.NotRunCount,
		"duration", res.Duration(),
	)

	if runErr != nil {
		res.Success = false
		return res, runErr
	}
	return res, nil
}

func (s *Scheduler) resolveTargets(targets []string) ([]graph.NodeID, error) {
	if len(targets) == 0 {
		ids := make([]graph.NodeID, s.reg.Len())
		for i := range ids {
			ids[i] = graph.NodeID(i)
		}
		return ids, nil
	}

	ids := make([]graph.NodeID, 0, len(targets))
	for _, t := range targets {
		id, err := s.reg.Lookup(t)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Scheduler) publish(topic string, e events.Event) {
	if s.bus != nil {
		s.bus.Publish(topic, e)
	}
}

func newRunID() string {
	return uuid.NewString()
}
