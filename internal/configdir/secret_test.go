package configdir

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/R3E-Network/straight_server/internal/config"
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

func TestGenerateIfAbsentFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		dir := t.TempDir()
		secret, created, err := GenerateIfAbsent(dir)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !created {
			t.Fatal("expected secret to be created")
		}

		data, err := os.ReadFile(filepath.Join(dir, config.SecretFileName))
		if err != nil {
			t.Fatalf("read secret: %v", err)
		}
		if got := len(nonAlnum.ReplaceAllString(string(data), "")); got != SecretLength {
			t.Fatalf("expected %d alphanumeric characters, got %d (%q)", SecretLength, got, data)
		}
		if secret.Value() != nonAlnum.ReplaceAllString(string(data), "") {
			t.Fatalf("returned secret does not match file")
		}
	}
}

func TestGenerateIfAbsentIsStable(t *testing.T) {
	dir := t.TempDir()
	first, _, err := GenerateIfAbsent(dir)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(dir, config.SecretFileName)
	before, _ := os.ReadFile(path)

	second, created, err := GenerateIfAbsent(dir)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if created {
		t.Fatal("existing secret must not be regenerated")
	}
	if first.Value() != second.Value() {
		t.Fatalf("secret changed across calls")
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("secret file was rewritten")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}
}

func TestSecretStringRedacts(t *testing.T) {
	s := Secret{value: "abcdef0123456789"}
	if s.String() == s.Value() {
		t.Fatal("String must not leak the secret")
	}
}

func TestReadSecretRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.SecretFileName), []byte("\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSecret(dir); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
	if _, _, err := GenerateIfAbsent(dir); err == nil {
		t.Fatal("generate must not replace an empty secret file")
	}
}
