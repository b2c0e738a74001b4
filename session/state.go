// Package session runs sync sessions between two nodes.
package session

import (
	"errors"
	"fmt"
)

// State is a stage of a sync session.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StatePulling
	StateDiffing
	StateConflictPending
	StateResolving
	StatePushing
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateConnecting:      "connecting",
	StateHandshaking:     "handshaking",
	StatePulling:         "pulling",
	StateDiffing:         "diffing",
	StateConflictPending: "conflict_pending",
	StateResolving:       "resolving",
	StatePushing:         "pushing",
	StateCompleted:       "completed",
	StateFailed:          "failed",
	StateCancelled:       "cancelled",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal states accept no further transition.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrInvalidTransition is returned when a session tries to skip or revisit a stage.
var ErrInvalidTransition = errors.New("session: invalid state transition")

var transitions = map[State][]State{
	StateConnecting:      {StateHandshaking},
	StateHandshaking:     {StatePulling},
	StatePulling:         {StateDiffing},
	StateDiffing:         {StateConflictPending, StateResolving, StatePushing},
	StateConflictPending: {StateResolving},
	StateResolving:       {StatePushing},
	StatePushing:         {StateCompleted},
}

// canTransition reports whether from may move to to. Every non-terminal
// state may fail or be cancelled.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// progress is the fraction reported while in a state, with the label shown to the user.
func progress(s State) (float64, string) {
	switch s {
	case StateConnecting:
		return 0, "Connecting"
	case StateHandshaking:
		return 0.1, "Handshaking"
	case StatePulling:
		return 0.25, "Downloading library"
	case StateDiffing:
		return 0.5, "Comparing libraries"
	case StateResolving:
		return 0.65, "Resolving conflicts"
	case StatePushing:
		return 0.8, "Saving changes"
	}
	return 1, ""
}
