package scheduler

// Status is the state of one task within one run.
type Status int

const (
	StatusPending                Status = iota // Waiting for dependencies
	StatusInProgress                           // Handed to a worker
	StatusImplicitInputsComputed               // Discovery finished, not yet executed
	StatusUpToDate                             // Fingerprint unchanged, nothing ran
	StatusSucceeded                            // Executed (or cleaned) successfully
	StatusFailed                               // See FailureReason
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in-progress"
	case StatusImplicitInputsComputed:
		return "implicit-inputs-computed"
	case StatusUpToDate:
		return "up-to-date"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Terminal reports whether s ends a task's participation in a run.
func (s Status) Terminal() bool {
	return s == StatusUpToDate || s == StatusSucceeded || s == StatusFailed
}

// FailureReason says why a task failed.
type FailureReason int

const (
	ReasonNone          FailureReason = iota
	ReasonInputsMissing                // An input was absent when the task was about to run
	ReasonExecuteFailed                // Discovery or Execute returned an error or panicked
	ReasonUnknown                      // Unrecognized action, or the run stalled
	ReasonCycleDetected                // A discovered input closed a dependency cycle
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonInputsMissing:
		return "inputs-missing"
	case ReasonExecuteFailed:
		return "execute-failed"
	case ReasonUnknown:
		return "unknown"
	case ReasonCycleDetected:
		return "cycle-detected"
	default:
		return "invalid"
	}
}
