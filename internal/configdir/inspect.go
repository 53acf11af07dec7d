package configdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/R3E-Network/straight_server/internal/config"
)

// State classifies a configuration directory.
type State int

const (
	// StateMissing means none of the expected files exist.
	StateMissing State = iota
	// StatePartial means some, but not all, expected files exist.
	StatePartial
	// StateComplete means every expected file exists.
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ExpectedFiles lists the files a configured directory contains.
func ExpectedFiles() []string {
	return []string{config.FileName, config.AddonsFileName, config.SecretFileName}
}

// Status is the result of Inspect.
type Status struct {
	Dir     string
	State   State
	Missing []string
}

// Inspect reports which expected files are present in dir.
func Inspect(dir string) (Status, error) {
	status := Status{Dir: dir}
	expected := ExpectedFiles()
	for _, name := range expected {
		info, err := os.Stat(filepath.Join(dir, name))
		switch {
		case err == nil && info.IsDir():
			return status, fmt.Errorf("%s is a directory", filepath.Join(dir, name))
		case err == nil:
		case os.IsNotExist(err):
			status.Missing = append(status.Missing, name)
		default:
			return status, fmt.Errorf("stat %s: %w", name, err)
		}
	}

	switch len(status.Missing) {
	case 0:
		status.State = StateComplete
	case len(expected):
		status.State = StateMissing
	default:
		status.State = StatePartial
	}
	return status, nil
}
