package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin lifecycle states.
const (
	// StateDiscovered - descriptor built, nothing loaded. Initial state.
	StateDiscovered State = iota

	// StateLoaded - plugin code executed in its sandbox.
	StateLoaded

	// StateInitialized - plugin init hook completed.
	StateInitialized

	// StateActive - plugin is active.
	StateActive

	// StateInactive - plugin deactivated but still loaded.
	StateInactive

	// StateError - plugin failed; message recorded in health.
	StateError

	// StateUnloaded - terminal. Sandbox and code handle released.
	StateUnloaded
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateLoaded:
		return "loaded"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateError:
		return "error"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for states with no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateUnloaded
}

// legalTransitions is the edge set of the lifecycle state machine.
// Any non-terminal state may additionally transition to StateError.
var legalTransitions = map[State][]State{
	StateDiscovered:  {StateLoaded},
	StateLoaded:      {StateInitialized},
	StateInitialized: {StateActive},
	StateActive:      {StateInactive, StateUnloaded},
	StateInactive:    {StateActive, StateUnloaded},
	StateError:       {StateUnloaded},
	StateUnloaded:    {},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to State) bool {
	if to == StateError {
		return !from.IsTerminal()
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
