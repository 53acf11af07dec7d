package configdir

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/R3E-Network/straight_server/internal/config"
)

//go:embed templates/*.yml
var templatesFS embed.FS

// Template is a bundled default document.
type Template struct {
	Name string
	Data []byte
}

// WriteError reports a filesystem failure while writing into the configuration directory.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Templates returns the bundled defaults in materialization order.
func Templates() ([]Template, error) {
	names := []string{config.FileName, config.AddonsFileName}
	out := make([]Template, 0, len(names))
	for _, name := range names {
		tpl, err := LookupTemplate(name)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

// LookupTemplate returns a single bundled template by file name.
func LookupTemplate(name string) (Template, error) {
	data, err := fs.ReadFile(templatesFS, "templates/"+name)
	if err != nil {
		return Template{}, fmt.Errorf("template %s: %w", name, err)
	}
	return Template{Name: name, Data: data}, nil
}

// Result lists the files a Materialize call created.
type Result struct {
	Created []string
}

// Fresh reports whether anything was written.
func (r Result) Fresh() bool {
	return len(r.Created) > 0
}

// Materialize creates dir and copies every template whose target is absent.
func Materialize(dir string) (Result, error) {
	var res Result

	templates, err := Templates()
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, &WriteError{Op: "mkdir", Path: dir, Err: err}
	}

	for _, tpl := range templates {
		path := filepath.Join(dir, tpl.Name)
		created, err := writeExclusive(path, tpl.Data, 0o644)
		if err != nil {
			return res, err
		}
		if created {
			res.Created = append(res.Created, path)
		}
	}
	return res, nil
}

// writeExclusive writes data to path unless path already exists.
func writeExclusive(path string, data []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, &WriteError{Op: "create", Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return false, &WriteError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return false, &WriteError{Op: "close", Path: path, Err: err}
	}
	return true, nil
}
