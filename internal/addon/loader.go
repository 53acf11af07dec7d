package addon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/straight_server/internal/config"
	"github.com/R3E-Network/straight_server/internal/metrics"
)

// Kind identifies how a bundle was produced.
type Kind string

const (
	KindBuiltin    Kind = "builtin"
	KindJavaScript Kind = "javascript"
	KindLua        Kind = "lua"
)

var extensionKinds = map[string]Kind{
	".js":  KindJavaScript,
	".lua": KindLua,
}

// probeOrder is used when an entry path has no recognised extension.
var probeOrder = []string{".js", ".lua"}

// Loaded describes an addon that was composed onto the target.
type Loaded struct {
	Entry      Entry
	Kind       Kind
	Artifact   string
	Operations []string

	bundle Bundle
}

// Close releases the addon's bundle.
func (l Loaded) Close() error {
	if l.bundle == nil {
		return nil
	}
	return closeBundle(l.bundle)
}

// CloseAll closes every loaded addon in reverse load order.
func CloseAll(loaded []Loaded) error {
	var errs []error
	for i := len(loaded) - 1; i >= 0; i-- {
		if err := loaded[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close addon %s: %w", loaded[i].Entry.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Loader resolves manifest entries into bundles and composes them onto a Host.
type Loader struct {
	dir      string
	registry *Registry
	metrics  *metrics.Registry
	env      Env
	log      logrus.FieldLogger
}

// Option configures a Loader.
type Option func(*Loader)

// WithRegistry sets the registry compiled-in modules are looked up in.
func WithRegistry(r *Registry) Option {
	return func(l *Loader) {
		if r != nil {
			l.registry = r
		}
	}
}

// WithMetrics sets the registry load and invocation metrics are recorded in.
func WithMetrics(m *metrics.Registry) Option {
	return func(l *Loader) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithEnv sets the resources handed to compiled-in factories.
func WithEnv(env Env) Option {
	return func(l *Loader) { l.env = env }
}

// WithLogger sets the logger used for load and script output.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLoader creates a loader resolving artifact paths under dir.
func NewLoader(dir string, opts ...Option) *Loader {
	l := &Loader{
		dir:      dir,
		registry: Default(),
		metrics:  metrics.Default(),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.env.ConfigDir == "" {
		l.env.ConfigDir = dir
	}
	if l.env.Log != nil && l.log == logrus.StandardLogger() {
		l.log = l.env.Log.Component("addon")
	}
	return l
}

// LoadAll loads every manifest entry in order and mixes its operations into target.
// On failure the operations mixed in by this call are removed from target, everything
// loaded is closed and a *LoadError is returned.
func (l *Loader) LoadAll(ctx context.Context, manifestPath string, target Host) ([]Loaded, error) {
	entries, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	var (
		loaded    []Loaded
		names     = make(map[string]struct{}, len(entries))
		artifacts = make(map[string]string, len(entries))
	)
	fail := func(entry Entry, err error) ([]Loaded, error) {
		for _, item := range loaded {
			target.Remove(item.Entry.Name)
		}
		if cerr := CloseAll(loaded); cerr != nil {
			l.log.WithError(cerr).Warn("release addons after load failure")
		}
		return nil, &LoadError{Addon: entry.Name, Module: entry.Module, Err: err}
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fail(entry, err)
		}
		if _, dup := names[entry.Name]; dup {
			l.log.WithField("addon", entry.Name).Warn("addon listed more than once, skipping")
			continue
		}

		kind, artifact, err := l.Resolve(entry)
		if err != nil {
			return fail(entry, err)
		}
		key := string(kind) + ":" + artifact + "#" + entry.Module
		if first, dup := artifacts[key]; dup {
			l.log.WithFields(logrus.Fields{
				"addon":     entry.Name,
				"module":    entry.Module,
				"loaded_as": first,
			}).Warn("addon module already loaded, skipping")
			continue
		}

		item, err := l.load(ctx, entry, kind, artifact)
		if err != nil {
			return fail(entry, err)
		}
		if err := target.Mixin(entry.Name, l.instrument(entry.Name, item.bundle.Operations())); err != nil {
			_ = item.Close()
			return fail(entry, err)
		}

		names[entry.Name] = struct{}{}
		artifacts[key] = entry.Name
		loaded = append(loaded, item)
		l.metrics.RecordAddonLoaded(string(kind))
		l.log.WithFields(logrus.Fields{
			"module":     entry.Module,
			"kind":       kind,
			"operations": len(item.Operations),
		}).Infof("addon %s loaded", entry.Name)
	}
	return loaded, nil
}

// Resolve determines the kind and concrete artifact of an entry without loading it.
func (l *Loader) Resolve(entry Entry) (Kind, string, error) {
	if entry.Builtin() {
		if !l.registry.IsRegistered(entry.Module) {
			return "", "", fmt.Errorf("%w: %s is not a compiled-in module (available: %s)",
				ErrModuleNotFound, entry.Module, strings.Join(l.registry.List(), ", "))
		}
		return KindBuiltin, entry.Module, nil
	}

	roots := []string{l.dir, filepath.Join(l.dir, config.AddonsDirName)}
	var unsupported string
	for _, root := range roots {
		base, err := securejoin.SecureJoin(root, entry.Path)
		if err != nil {
			return "", "", fmt.Errorf("resolve %s: %w", entry.Path, err)
		}
		if kind, ok := extensionKinds[strings.ToLower(filepath.Ext(base))]; ok {
			if isFile(base) {
				return kind, base, nil
			}
			continue
		}
		for _, ext := range probeOrder {
			if isFile(base + ext) {
				return extensionKinds[ext], base + ext, nil
			}
		}
		if unsupported == "" && isFile(base) {
			unsupported = base
		}
	}
	if unsupported != "" {
		return "", "", fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedArtifact, unsupported, supportedExtensions())
	}
	return "", "", fmt.Errorf("%w: %s (looked in %s)", ErrArtifactNotFound, entry.Path, strings.Join(roots, ", "))
}

func (l *Loader) load(ctx context.Context, entry Entry, kind Kind, artifact string) (Loaded, error) {
	log := l.log.WithField("addon", entry.Name)

	var (
		bundle Bundle
		err    error
	)
	switch kind {
	case KindBuiltin:
		bundle, err = l.registry.MustGet(entry.Module)(l.env)
		if err == nil && bundle == nil {
			err = fmt.Errorf("module %s returned no bundle", entry.Module)
		}
	case KindJavaScript:
		bundle, err = openJavaScript(ctx, artifact, entry.Module, log)
	case KindLua:
		bundle, err = openLua(ctx, artifact, entry.Module, log)
	default:
		err = fmt.Errorf("%w: kind %s", ErrUnsupportedArtifact, kind)
	}
	if err != nil {
		return Loaded{}, err
	}

	ops := bundle.Operations()
	if len(ops) == 0 {
		_ = closeBundle(bundle)
		return Loaded{}, fmt.Errorf("%w: %s defines no operations", ErrModuleNotFound, entry.Module)
	}
	return Loaded{
		Entry:      entry,
		Kind:       kind,
		Artifact:   artifact,
		Operations: sortedNames(ops),
		bundle:     bundle,
	}, nil
}

// instrument wraps every operation with invocation metrics.
func (l *Loader) instrument(addonName string, ops map[string]Operation) map[string]Operation {
	wrapped := make(map[string]Operation, len(ops))
	for name, op := range ops {
		name, op := name, op
		if op == nil {
			wrapped[name] = nil
			continue
		}
		wrapped[name] = func(ctx context.Context, args ...any) (any, error) {
			start := time.Now()
			result, err := op(ctx, args...)
			l.metrics.RecordAddonInvocation(addonName, name, time.Since(start), err)
			return result, err
		}
	}
	return wrapped
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func supportedExtensions() string {
	exts := make([]string, 0, len(extensionKinds))
	for ext := range extensionKinds {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
