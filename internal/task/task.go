package task

import (
	"context"
)

// Task is a unit of build work. The engine never constructs tasks; adapters
// (Command, Copy, or anything else satisfying this interface) are registered
// with the graph and scheduled by the core.
type Task interface {
	// ExplicitIO returns the statically known input and output paths.
	ExplicitIO() (inputs, outputs []string)

	// RequiresImplicitInputs reports whether the task has inputs that are only
	// known after a discovery step (e.g. a compiler's header list).
	RequiresImplicitInputs() bool

	// ImplicitInputs runs the discovery step. Only called when
	// RequiresImplicitInputs returns true and the task is stale.
	ImplicitInputs(ctx context.Context) ([]string, error)

	// CacheableParameters returns the serialized configuration of the task.
	// ok=false means the task can never be cached and always rebuilds.
	CacheableParameters() (params string, ok bool)

	// PrimaryOutput identifies the task and locates its fingerprint.
	PrimaryOutput() string

	// Execute produces the outputs.
	Execute(ctx context.Context) error

	// IntermediateFiles lists extra files removed by Clean.
	IntermediateFiles() []string
}
