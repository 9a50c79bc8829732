package swap

import "time"

// State is a step of the swap state machine
type State string

const (
	StateIdle              State = "idle"
	StateCheckingAllowance State = "checking_allowance"
	StateApproving         State = "approving"
	StateQuoting           State = "quoting"
	StateSubmitting        State = "submitting"
	StateConfirmed         State = "confirmed"
	StateFailed            State = "failed"
	StateCancelled         State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateCancelled
}

// Cancellable reports whether a caller may still withdraw in this state.
// Once Submitting begins the outcome must be awaited.
func (s State) Cancellable() bool {
	switch s {
	case StateIdle, StateCheckingAllowance, StateApproving, StateQuoting:
		return true
	default:
		return false
	}
}

var transitions = map[State][]State{
	StateIdle:              {StateCheckingAllowance},
	StateCheckingAllowance: {StateApproving, StateQuoting},
	StateApproving:         {StateQuoting},
	StateQuoting:           {StateSubmitting},
	StateSubmitting:        {StateConfirmed},
}

// CanTransition reports whether from -> to is a legal edge. Failed is
// reachable from every non-terminal state, Cancelled from every
// cancellable one.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateFailed:
		return true
	case StateCancelled:
		return from.Cancellable()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded edge of an orchestration
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}
