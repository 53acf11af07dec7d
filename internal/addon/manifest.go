package addon

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is a single addon listed in the manifest.
type Entry struct {
	Name   string `yaml:"-"`
	Path   string `yaml:"path"`
	Module string `yaml:"module"`
}

// Builtin reports whether the entry names a compiled-in module.
func (e Entry) Builtin() bool {
	return strings.TrimSpace(e.Path) == ""
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read addon manifest: %w", err)
	}
	entries, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseManifest decodes a manifest document keeping entries in declared order.
func ParseManifest(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	// Empty or comment-only documents decode to a zero node.
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: top level must be a mapping of addon names", ErrInvalidManifest, root.Line)
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		name := strings.TrimSpace(key.Value)
		if key.Kind != yaml.ScalarNode || name == "" {
			return nil, fmt.Errorf("%w: line %d: addon name must be a non-empty string", ErrInvalidManifest, key.Line)
		}
		if value.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: addon %q (line %d): expected a mapping with path and module", ErrInvalidManifest, name, value.Line)
		}

		var entry Entry
		if err := value.Decode(&entry); err != nil {
			return nil, fmt.Errorf("%w: addon %q: %v", ErrInvalidManifest, name, err)
		}
		entry.Name = name
		entry.Path = strings.TrimSpace(entry.Path)
		entry.Module = strings.TrimSpace(entry.Module)
		if entry.Module == "" {
			return nil, fmt.Errorf("%w: addon %q: module is required", ErrInvalidManifest, name)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
