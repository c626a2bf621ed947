package pipeline

// State is a pipeline stage. A run moves strictly forward through the states
// and ends in Succeeded or Failed. Failed is terminal; there is no retry.
type State string

const (
	StateIdle                  State = "Idle"
	StateReading               State = "Reading"
	StateProfiling             State = "Profiling"
	StateKeyDetection          State = "KeyDetection"
	StateRelationshipInference State = "RelationshipInference"
	StateWriting               State = "Writing"
	StateValidating            State = "Validating"
	StateSucceeded             State = "Succeeded"
	StateFailed                State = "Failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Status is the run outcome.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Observer is called synchronously on every state transition, in order.
// Observers must not block.
type Observer func(runID string, from, to State)

// stage names used in logs and metrics.
func (s State) stage() string {
	switch s {
	case StateReading:
		return "read"
	case StateProfiling:
		return "profile"
	case StateKeyDetection:
		return "keys"
	case StateRelationshipInference:
		return "relate"
	case StateWriting:
		return "write"
	case StateValidating:
		return "validate"
	default:
		return "run"
	}
}
