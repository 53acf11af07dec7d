package addon

import (
	"errors"
	"fmt"
)

// Addon system errors.
var (
	// ErrInvalidManifest is returned when the manifest cannot be interpreted.
	ErrInvalidManifest = errors.New("invalid addon manifest")

	// ErrArtifactNotFound is returned when no file exists at an entry's path.
	ErrArtifactNotFound = errors.New("addon artifact not found")

	// ErrUnsupportedArtifact is returned for files the loader has no runtime for.
	ErrUnsupportedArtifact = errors.New("unsupported addon artifact")

	// ErrModuleNotFound is returned when the module identifier does not resolve.
	ErrModuleNotFound = errors.New("addon module not defined")

	// ErrOperationConflict is returned when two providers define the same operation.
	ErrOperationConflict = errors.New("operation already defined")

	// ErrUnknownOperation is returned when invoking an operation nobody defined.
	ErrUnknownOperation = errors.New("unknown operation")
)

// LoadError is returned by LoadAll for the entry that stopped the load.
type LoadError struct {
	Addon  string
	Module string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("addon %q: %v", e.Addon, e.Err)
	}
	return fmt.Sprintf("addon %q (module %s): %v", e.Addon, e.Module, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
