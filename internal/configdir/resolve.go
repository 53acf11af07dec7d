package configdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
)

// DefaultDirName is the directory created under the user's home.
const DefaultDirName = ".straight"

// EnvConfigDir overrides the configuration directory when set.
const EnvConfigDir = "STRAIGHT_CONFIG_DIR"

type environment struct {
	ConfigDir string `env:"STRAIGHT_CONFIG_DIR"`
}

// Resolver determines the configuration directory.
type Resolver struct {
	// Override takes precedence over the environment and the home default.
	Override string
}

// Resolve returns the absolute configuration directory. It does not create it.
func (r Resolver) Resolve() (string, error) {
	if dir := strings.TrimSpace(r.Override); dir != "" {
		return absolute(dir)
	}

	var env environment
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return "", fmt.Errorf("decode environment: %w", err)
	}
	if dir := strings.TrimSpace(env.ConfigDir); dir != "" {
		return absolute(dir)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return absolute(filepath.Join(home, DefaultDirName))
}

func absolute(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dir, err)
	}
	return filepath.Clean(abs), nil
}
