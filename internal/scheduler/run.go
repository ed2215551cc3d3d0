package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/forge/internal/events"
	"github.com/aristath/forge/internal/graph"
	"github.com/aristath/forge/internal/logging"
)

// node is the per-run state of one task. Nodes live in an arena indexed by
// graph.NodeID and are only touched by the orchestrator goroutine.
type node struct {
	id   graph.NodeID
	name string

	status   Status
	required bool

	deps      map[graph.NodeID]struct{}
	depOrder  []graph.NodeID
	consumers []graph.NodeID
	waiting   int // dependencies not yet terminal

	implicit      []string
	implicitKnown bool

	attempts int
	started  time.Time
}

// run holds the orchestrator state of one Scheduler.Run call.
type run struct {
	ctx context.Context
	s   *Scheduler
	req Request
	log *slog.Logger
	agg *aggregator

	nodes    []*node
	order    []graph.NodeID // required nodes, dependencies first
	ready    []graph.NodeID
	required int
	done     int
	inFlight int
	stopping bool

	queue   *completionQueue
	workers errgroup.Group
}

func newRun(ctx context.Context, s *Scheduler, req Request) *run {
	r := &run{
		ctx:   ctx,
		s:     s,
		req:   req,
		log:   logging.FromContext(ctx),
		agg:   newAggregator(newRunID(), req.Action, time.Now()),
		nodes: make([]*node, s.reg.Len()),
		queue: newCompletionQueue(),
	}
	r.workers.SetLimit(req.MaxConcurrency)
	return r
}

func (r *run) node(id graph.NodeID) *node {
	n := r.nodes[id]
	if n == nil {
		n = &node{
			id:   id,
			name: r.s.reg.Name(id),
			deps: make(map[graph.NodeID]struct{}),
		}
		r.nodes[id] = n
	}
	return n
}

// seed computes the required set for targets and the initial ready queue.
func (r *run) seed(targets []graph.NodeID) {
	for _, id := range targets {
		if r.req.ProcessDependencies {
			r.collect(id)
		} else if n := r.node(id); !n.required {
			r.markRequired(n)
			r.order = append(r.order, id)
		}
	}

	// Clean has no data dependencies, and without dependency processing the
	// inputs are taken as already built.
	ordered := r.req.Action == ActionBuild && r.req.ProcessDependencies
	for _, id := range r.order {
		n := r.nodes[id]
		if ordered {
			for _, dep := range r.s.reg.Dependencies(id) {
				r.addEdge(n, dep)
			}
		}
		if n.waiting == 0 {
			r.enqueue(id)
		}
	}
}

// collect walks dependencies depth-first, appending in post-order.
func (r *run) collect(id graph.NodeID) {
	n := r.node(id)
	if n.required {
		return
	}
	r.markRequired(n)
	for _, dep := range r.s.reg.Dependencies(id) {
		r.collect(dep)
	}
	r.order = append(r.order, id)
}

func (r *run) markRequired(n *node) {
	n.required = true
	r.required++
	r.agg.require(n.name)
}

// addEdge makes n depend on dep. The wait-count only grows for a dependency
// that has not finished yet.
func (r *run) addEdge(n *node, dep graph.NodeID) {
	if _, ok := n.deps[dep]; ok {
		return
	}
	n.deps[dep] = struct{}{}
	n.depOrder = append(n.depOrder, dep)

	d := r.node(dep)
	d.consumers = append(d.consumers, n.id)
	if !d.status.Terminal() {
		n.waiting++
	}
}

// depsOf returns the known dependencies of id: the run's edges for required
// nodes, the static edges otherwise.
func (r *run) depsOf(id graph.NodeID) []graph.NodeID {
	if n := r.nodes[id]; n != nil && n.required {
		return n.depOrder
	}
	return r.s.reg.Dependencies(id)
}

func (r *run) enqueue(id graph.NodeID) {
	r.ready = append(r.ready, id)
}

func (r *run) enqueueFront(id graph.NodeID) {
	r.ready = append([]graph.NodeID{id}, r.ready...)
}

// loop drives the run until every required node is terminal, the run stops
// after a failure or cancellation, or no progress is possible.
func (r *run) loop() error {
	if a := r.req.Action; a != ActionBuild && a != ActionClean {
		for _, id := range r.order {
			r.finish(r.nodes[id], outcome{
				id:     id,
				status: StatusFailed,
				reason: ReasonUnknown,
				err:    fmt.Errorf("%w: %s", ErrUnknownAction, a),
			})
		}
		return nil
	}

	stop := context.AfterFunc(r.ctx, r.queue.cancel)
	defer stop()
	defer r.workers.Wait()

	for r.done < r.required {
		// The AfterFunc wake-up can lose the race against a posted outcome,
		// so the context is checked before every dispatch.
		if !r.stopping && r.ctx.Err() != nil {
			r.log.Warn("run cancelled, draining in-flight tasks", "in_flight", r.inFlight)
			r.stopping = true
		}
		r.launch()

		if r.inFlight == 0 {
			if r.stopping {
				break
			}
			return r.stall()
		}

		batch, cancelled := r.queue.wait(r.stopping)
		if cancelled && !r.stopping {
			r.log.Warn("run cancelled, draining in-flight tasks", "in_flight", r.inFlight)
			r.stopping = true
		}
		for _, o := range batch {
			r.inFlight--
			r.handle(o)
		}
		r.progress()
	}

	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

// launch hands ready nodes to workers while the concurrency budget allows.
func (r *run) launch() {
	for !r.stopping && r.inFlight < r.req.MaxConcurrency && len(r.ready) > 0 {
		id := r.ready[0]
		r.ready = r.ready[1:]

		n := r.nodes[id]
		n.status = StatusInProgress
		n.attempts++
		if n.started.IsZero() {
			n.started = time.Now()
		}

		a := attempt{
			id:            id,
			name:          n.name,
			task:          r.s.reg.Task(id),
			io:            r.s.reg.IO(id),
			implicit:      append([]string(nil), n.implicit...),
			implicitKnown: n.implicitKnown,
		}

		r.inFlight++
		r.log.Debug("dispatch", "task", n.name, "attempt", n.attempts)
		r.s.publish(events.TopicTask, events.TaskStartedEvent{
			Task:      n.name,
			Attempt:   n.attempts,
			Timestamp: time.Now(),
		})

		action := r.req.Action
		r.workers.Go(func() error {
			r.queue.post(r.s.runOne(r.ctx, action, a))
			return nil
		})
	}
}

func (r *run) handle(o outcome) {
	n := r.nodes[o.id]
	if o.status == StatusImplicitInputsComputed {
		r.admitImplicit(n, o.implicit)
		return
	}
	r.finish(n, o)
}

// admitImplicit folds discovered inputs into the graph. Producers of those
// inputs become dependencies of n; producers outside the required set join
// it. n is re-dispatched at once when nothing new is outstanding.
func (r *run) admitImplicit(n *node, paths []string) {
	r.agg.implicitRecompute()
	r.s.metrics.observeDiscovery()

	n.status = StatusImplicitInputsComputed
	n.implicit = paths
	n.implicitKnown = true

	var admitted []string
	if r.req.ProcessDependencies {
		for _, path := range paths {
			dep := r.s.reg.Entry(path).Producer
			if dep == graph.NoProducer || dep == n.id {
				continue
			}
			if _, ok := n.deps[dep]; ok {
				continue
			}
			if graph.Reaches(dep, n.id, r.depsOf) {
				r.finish(n, outcome{
					id:     n.id,
					status: StatusFailed,
					reason: ReasonCycleDetected,
					err: fmt.Errorf("%w: %s reads %s, which depends on %s",
						graph.ErrCycleDetected, n.name, path, n.name),
				})
				return
			}
			if !r.node(dep).required {
				r.admit(dep)
				admitted = append(admitted, r.nodes[dep].name)
			}
			r.addEdge(n, dep)
		}
	}

	r.log.Debug("implicit inputs discovered",
		"task", n.name,
		"inputs", len(paths),
		"admitted", admitted,
		"waiting", n.waiting,
	)
	r.s.publish(events.TopicTask, events.ImplicitDiscoveredEvent{
		Task:      n.name,
		Inputs:    paths,
		Admitted:  admitted,
		Timestamp: time.Now(),
	})

	n.status = StatusPending
	if n.waiting == 0 {
		r.enqueueFront(n.id)
	}
}

// admit adds id and its missing static dependencies to the required set
// mid-run. Readiness comes from the dependencies' current status.
func (r *run) admit(id graph.NodeID) {
	n := r.node(id)
	if n.required {
		return
	}
	r.markRequired(n)
	for _, dep := range r.s.reg.Dependencies(id) {
		r.admit(dep)
		r.addEdge(n, dep)
	}
	r.order = append(r.order, id)
	if n.waiting == 0 {
		r.enqueue(id)
	}
}

// finish records a terminal outcome and releases n's consumers. Consumers of
// a failed node are released too; they fail on their own input check.
func (r *run) finish(n *node, o outcome) {
	n.status = o.status
	r.done++
	r.agg.record(n.name, o)

	var elapsed time.Duration
	if !n.started.IsZero() {
		elapsed = time.Since(n.started)
	}
	r.s.metrics.observe(o.status, o.reason, elapsed)
	r.s.publish(events.TopicTask, events.TaskFinishedEvent{
		Task:      n.name,
		Status:    o.status.String(),
		Reason:    o.reason.String(),
		Err:       o.err,
		Duration:  elapsed,
		Timestamp: time.Now(),
	})

	switch o.status {
	case StatusFailed:
		r.log.Warn("task failed", "task", n.name, "reason", o.reason.String(), "error", o.err)
		if !r.req.ContinueOnError {
			r.stopping = true
		}
	case StatusSucceeded:
		r.log.Info("task finished", "task", n.name, "duration", elapsed)
	default:
		r.log.Debug("task up to date", "task", n.name)
	}

	for _, c := range n.consumers {
		cn := r.nodes[c]
		if !cn.required || cn.status.Terminal() {
			continue
		}
		cn.waiting--
		if cn.waiting == 0 && cn.status == StatusPending {
			r.enqueue(c)
		}
	}
}

// stall fails every remaining node. It only happens when required nodes are
// left with nothing in flight and nothing ready.
func (r *run) stall() error {
	var stuck []string
	for _, id := range r.order {
		n := r.nodes[id]
		if n.status.Terminal() {
			continue
		}
		stuck = append(stuck, n.name)
		r.finish(n, outcome{id: id, status: StatusFailed, reason: ReasonUnknown, err: ErrStalled})
	}
	return fmt.Errorf("%w: %s", ErrStalled, strings.Join(stuck, ", "))
}

func (r *run) progress() {
	required, failed, upToDate := r.agg.snapshot()
	r.s.publish(events.TopicRun, events.RunProgressEvent{
		Required:  required,
		Done:      r.done,
		Running:   r.inFlight,
		Failed:    failed,
		UpToDate:  upToDate,
		Timestamp: time.Now(),
	})
}
