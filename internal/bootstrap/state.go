package bootstrap

import (
	"encoding/json"
	"fmt"
)

// State is a step of the boot sequence.
type State int32

const (
	// StateUnconfigured is the initial state: nothing has been inspected yet.
	StateUnconfigured State = iota

	// StateMaterializing means default configuration is being written.
	StateMaterializing

	// StateConfigured means the configuration directory is complete.
	StateConfigured

	// StateDatabaseConnecting means the database connection is being opened.
	StateDatabaseConnecting

	// StateMigrationApplying means pending migrations are being applied.
	StateMigrationApplying

	// StateAddonLoading means addons are being composed onto the server.
	StateAddonLoading

	// StateRunning means the boot finished and the server may serve.
	StateRunning

	// StateFailed means a fatal error stopped the boot.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateMaterializing:
		return "materializing"
	case StateConfigured:
		return "configured"
	case StateDatabaseConnecting:
		return "database-connecting"
	case StateMigrationApplying:
		return "migration-applying"
	case StateAddonLoading:
		return "addon-loading"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsTerminal returns true if no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateRunning || s == StateFailed
}

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	StateUnconfigured:       {StateMaterializing, StateConfigured, StateFailed},
	StateMaterializing:      {StateFailed},
	StateConfigured:         {StateDatabaseConnecting, StateFailed},
	StateDatabaseConnecting: {StateMigrationApplying, StateFailed},
	StateMigrationApplying:  {StateAddonLoading, StateFailed},
	StateAddonLoading:       {StateRunning, StateFailed},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid state transition.
type TransitionError struct {
	From State
	To   State
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
