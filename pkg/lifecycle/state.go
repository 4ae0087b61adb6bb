package lifecycle

// State is the engine's position in the credential lifecycle.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateActive
	StateRotating
	StateExpired
	StateRevoked
	StateClosed
)

var stateNames = map[State]string{
	StateUnregistered: "unregistered",
	StateRegistered:   "registered",
	StateActive:       "active",
	StateRotating:     "rotating",
	StateExpired:      "expired",
	StateRevoked:      "revoked",
	StateClosed:       "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// HasToken reports whether a current token is held in this state.
func (s State) HasToken() bool {
	switch s {
	case StateActive, StateRotating, StateExpired, StateRevoked:
		return true
	}
	return false
}
