package events

import (
	"time"
)

// Event is implemented by everything published on the bus.
type Event interface {
	EventType() string
	// TaskName is the primary output of the task concerned, or "" for
	// run-wide events.
	TaskName() string
}

// Topics.
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event types.
const (
	EventTypeTaskStarted        = "task.started"
	EventTypeTaskOutput         = "task.output"
	EventTypeTaskFinished       = "task.finished"
	EventTypeImplicitDiscovered = "task.implicit"
	EventTypeRunProgress        = "run.progress"
	EventTypeRunFinished        = "run.finished"
)

// TaskStartedEvent is published when a worker picks up a task attempt.
type TaskStartedEvent struct {
	Task      string
	Attempt   int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskName() string  { return e.Task }

// TaskOutputEvent carries one line written by a task's process.
type TaskOutputEvent struct {
	Task      string
	Line      string
	Stderr    bool
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) TaskName() string  { return e.Task }

// TaskFinishedEvent is published when a task reaches a terminal status.
// Reason and Err are set only for failures.
type TaskFinishedEvent struct {
	Task      string
	Status    string
	Reason    string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) TaskName() string  { return e.Task }

// ImplicitDiscoveredEvent is published after a task's implicit inputs are
// folded into the graph. Admitted lists producers that joined the run.
type ImplicitDiscoveredEvent struct {
	Task      string
	Inputs    []string
	Admitted  []string
	Timestamp time.Time
}

func (e ImplicitDiscoveredEvent) EventType() string { return EventTypeImplicitDiscovered }
func (e ImplicitDiscoveredEvent) TaskName() string  { return e.Task }

// RunProgressEvent summarizes the run after each batch of completions.
type RunProgressEvent struct {
	Required  int
	Done      int
	Running   int
	Failed    int
	UpToDate  int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskName() string  { return "" }

// RunFinishedEvent is published once when the scheduler returns.
type RunFinishedEvent struct {
	RunID     string
	Success   bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskName() string  { return "" }
