package job

import "fmt"

// State is the lifecycle state of a background job.
type State string

const (
	StateNotStarted State = "NotStarted"
	StateRunning    State = "Running"
	StateStopping   State = "Stopping"
	StateStopped    State = "Stopped"
	StateCompleted  State = "Completed"
	StateFailed     State = "Failed"
)

// IsTerminal reports whether the job can no longer change state.
func (s State) IsTerminal() bool {
	switch s {
	case StateStopped, StateCompleted, StateFailed:
		return true
	}
	return false
}

func (s State) isValidTransition(target State) bool {
	switch s {
	case StateNotStarted:
		return target == StateRunning || target == StateStopped
	case StateRunning:
		return target == StateStopping || target == StateStopped ||
			target == StateCompleted || target == StateFailed
	case StateStopping:
		return target == StateStopped
	}
	return false
}

func (s State) validateTransition(target State) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job state transition from %s to %s", s, target)
	}
	return nil
}
