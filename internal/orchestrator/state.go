package orchestrator

import "fmt"

type State int

const (
	StatePending State = iota
	StateDiffing
	StateEncrypting
	StatePersisting
	StateValidated
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateDiffing:
		return "DIFFING"
	case StateEncrypting:
		return "ENCRYPTING"
	case StatePersisting:
		return "PERSISTING"
	case StateValidated:
		return "VALIDATED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateValidated || s == StateFailed || s == StateCancelled
}
