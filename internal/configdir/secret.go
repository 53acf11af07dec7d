package configdir

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/R3E-Network/straight_server/internal/config"
)

// SecretLength is the number of alphanumeric characters in a generated secret.
const SecretLength = 16

// Secret is the persisted server secret.
type Secret struct {
	value string
}

// Value returns the token.
func (s Secret) Value() string { return s.value }

// String redacts the token so it never ends up in logs.
func (s Secret) String() string {
	if s.value == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// GenerateIfAbsent returns the secret stored in dir, creating it first when absent.
// The boolean reports whether the secret was created by this call.
func GenerateIfAbsent(dir string) (Secret, bool, error) {
	path := filepath.Join(dir, config.SecretFileName)

	if secret, err := ReadSecret(dir); err == nil {
		return secret, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Secret{}, false, err
	}

	token, err := newToken()
	if err != nil {
		return Secret{}, false, err
	}
	created, err := writeExclusive(path, []byte(token+"\n"), 0o600)
	if err != nil {
		return Secret{}, false, err
	}
	if !created {
		// Lost a race with another writer; theirs wins.
		secret, err := ReadSecret(dir)
		return secret, false, err
	}
	return Secret{value: token}, true, nil
}

// ReadSecret loads the existing secret from dir.
func ReadSecret(dir string) (Secret, error) {
	path := filepath.Join(dir, config.SecretFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Secret{}, fmt.Errorf("read server secret: %w", err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return Secret{}, fmt.Errorf("server secret %s is empty", path)
	}
	return Secret{value: value}, nil
}

func newToken() (string, error) {
	buf := make([]byte, SecretLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate server secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
