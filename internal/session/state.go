package session

import (
	"errors"
	"fmt"
)

// State is the controller's pipeline state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateTranscribing State = "transcribing"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// ErrInvalidTransition is returned for edges the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid transition")

// isValidTransition enforces the allowed state machine edges.
func isValidTransition(from, to State) bool {
	if to == StateShuttingDown {
		return from != StateShuttingDown && from != StateStopped
	}
	switch from {
	case StateIdle:
		return to == StateRecording
	case StateRecording:
		return to == StateStopping
	case StateStopping:
		return to == StateIdle || to == StateTranscribing || to == StateRecording
	case StateTranscribing:
		return to == StateIdle || to == StateRecording
	case StateShuttingDown:
		return to == StateStopped
	default:
		return false
	}
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
