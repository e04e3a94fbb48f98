package serving

import "github.com/pkg/errors"

// State is the lifecycle state of a real-time inference endpoint.
type State string

const (
	// Creating means the endpoint is being brought up for the first time.
	Creating State = "Creating"
	// Updating means a new endpoint config is being rolled onto the endpoint.
	Updating State = "Updating"
	// SystemUpdating means the platform is patching the endpoint.
	SystemUpdating State = "SystemUpdating"
	// RollingBack means a failed update is being reverted.
	RollingBack State = "RollingBack"
	// InService means the endpoint serves predictions.
	InService State = "InService"
	// OutOfService means the endpoint exists but serves nothing.
	OutOfService State = "OutOfService"
	// Deleting means the endpoint is being torn down.
	Deleting State = "Deleting"
	// Failed means the endpoint cannot serve and must be deleted.
	Failed State = "Failed"
)

var states = map[State]bool{
	Creating:       true,
	Updating:       true,
	SystemUpdating: true,
	RollingBack:    true,
	InService:      true,
	OutOfService:   true,
	Deleting:       true,
	Failed:         true,
}

// ParseState maps a platform endpoint status string onto a State. Anything
// outside the table is an error, never a guess.
func ParseState(status string) (State, error) {
	state := State(status)
	if !states[state] {
		return "", errors.Errorf("unknown endpoint status %q", status)
	}
	return state, nil
}

// Serving reports whether the endpoint accepts invocations.
func (s State) Serving() bool {
	return s == InService
}
