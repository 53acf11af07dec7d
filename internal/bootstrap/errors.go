package bootstrap

import "fmt"

// Kind classifies fatal boot errors.
type Kind int

const (
	// KindConfigWrite covers failures creating or completing the configuration directory.
	KindConfigWrite Kind = iota + 1
	// KindConfig covers unreadable or invalid configuration documents.
	KindConfig
	// KindConnection covers database and redis connection failures.
	KindConnection
	// KindMigration covers migration failures.
	KindMigration
	// KindAddonLoad covers manifest, artifact, module and composition failures.
	KindAddonLoad
)

func (k Kind) String() string {
	switch k {
	case KindConfigWrite:
		return "config write error"
	case KindConfig:
		return "config error"
	case KindConnection:
		return "connection error"
	case KindMigration:
		return "migration error"
	case KindAddonLoad:
		return "addon load error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a fatal boot error. State is the step that failed.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
