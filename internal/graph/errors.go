package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflictingProducer is returned when two tasks claim the same output.
	ErrConflictingProducer = errors.New("conflicting producer")

	// ErrCycleDetected is returned when dependency edges form a cycle.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrUnknownTarget is returned for a target no registered task produces.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrNoPrimaryOutput is returned by Register for a task without a primary
	// output. Its fingerprint and clean step would have nothing to anchor to.
	ErrNoPrimaryOutput = errors.New("task has no primary output")
)

// ConflictError names the path claimed twice and both claimants.
type ConflictError struct {
	Path     string
	Existing string // primary output of the task that claimed Path first
	Incoming string // primary output of the task rejected
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s is produced by both %s and %s",
		ErrConflictingProducer, e.Path, e.Existing, e.Incoming)
}

func (e *ConflictError) Unwrap() error { return ErrConflictingProducer }

// CycleError carries one deterministic witness of a dependency cycle, listed
// as primary outputs where each entry depends on the next. The first and last
// entries are the same task.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycleDetected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }
