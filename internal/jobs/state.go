package jobs

import "github.com/pkg/errors"

// State is the run state of a processing or training job.
type State string

const (
	// Pending means the job was submitted but the platform has not reported
	// a status yet.
	Pending State = "Pending"
	// InProgress means the job is provisioning or running.
	InProgress State = "InProgress"
	// Stopping means a stop was requested and the job is winding down.
	Stopping State = "Stopping"
	// Completed means the job finished successfully.
	Completed State = "Completed"
	// Failed means the job finished unsuccessfully.
	Failed State = "Failed"
	// Stopped means the job was stopped before finishing.
	Stopped State = "Stopped"
)

// TerminalStates are the states a job never leaves.
var TerminalStates = map[State]bool{
	Completed: true,
	Failed:    true,
	Stopped:   true,
}

// Transitions maps job states to their possible successor states.
var Transitions = map[State]map[State]bool{
	Pending: {
		InProgress: true,
		Stopping:   true,
		Completed:  true,
		Failed:     true,
		Stopped:    true,
	},
	InProgress: {
		Stopping:  true,
		Completed: true,
		Failed:    true,
		Stopped:   true,
	},
	Stopping: {
		Completed: true,
		Failed:    true,
		Stopped:   true,
	},
	Completed: {},
	Failed:    {},
	Stopped:   {},
}

// ReverseTransitions maps job states to the states that can precede them.
var ReverseTransitions = reverseTransitions(Transitions)

func reverseTransitions(transitions map[State]map[State]bool) map[State]map[State]bool {
	ret := make(map[State]map[State]bool)
	for state := range transitions {
		ret[state] = make(map[State]bool)
	}
	for start, ends := range transitions {
		for end := range ends {
			ret[end][start] = true
		}
	}
	return ret
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return TerminalStates[s]
}

// ParseState maps a platform job status string onto a State. The platform
// reports exactly the non-Pending constants; anything else is an error, never
// a guess.
func ParseState(status string) (State, error) {
	state := State(status)
	if _, ok := Transitions[state]; !ok || state == Pending {
		return "", errors.Errorf("unknown job status %q", status)
	}
	return state, nil
}
