package widget

// State is the lifecycle state of a hosted widget instance.
type State string

const (
	StateCreated     State = "created"
	StateInitialized State = "initialized"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
	StateErrored     State = "error"
	StateDisposed    State = "disposed"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Transitions are monotonic except the started/stopped pair;
// disposed and error are terminal.
func (s State) CanTransition(next State) bool {
	if s == StateDisposed || s == StateErrored {
		return false
	}
	switch next {
	case StateInitialized:
		return s == StateCreated
	case StateStarted:
		return s == StateInitialized || s == StateStopped
	case StateStopped:
		return s == StateStarted
	case StateDisposed, StateErrored:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are valid from s.
func (s State) Terminal() bool {
	return s == StateDisposed || s == StateErrored
}
