package scheduler

import "errors"

var (
	// ErrInputsMissing wraps the error of a task whose inputs did not exist.
	ErrInputsMissing = errors.New("inputs missing")

	// ErrExecuteFailed wraps the error of a task whose discovery or execution failed.
	ErrExecuteFailed = errors.New("execute failed")

	// ErrUnknownAction is recorded against every required task of a run
	// requesting an action the scheduler does not know.
	ErrUnknownAction = errors.New("unknown action")

	// ErrStalled is returned when required tasks remain but none can run.
	ErrStalled = errors.New("scheduler stalled")

	// ErrBuildFailed is returned by Results.Err when any task failed.
	ErrBuildFailed = errors.New("build failed")
)
