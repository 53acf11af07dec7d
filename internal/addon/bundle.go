package addon

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Operation is a single callable contributed by a bundle.
type Operation func(ctx context.Context, args ...any) (any, error)

// Bundle is a capability bundle: a collection of named operations.
// Bundles that hold resources also implement io.Closer.
type Bundle interface {
	Operations() map[string]Operation
}

// Host is anything operations can be mixed into and withdrawn from again.
type Host interface {
	Mixin(owner string, ops map[string]Operation) error
	Remove(owner string) int
}

// Method describes an entry of a MethodSet.
type Method struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

type boundOperation struct {
	owner string
	op    Operation
}

// MethodSet is a concurrency-safe table of named operations. Embedding it gives a type
// the ability to grow new operations at runtime.
type MethodSet struct {
	mu  sync.RWMutex
	ops map[string]boundOperation
}

var _ Host = (*MethodSet)(nil)

// NewMethodSet returns an empty MethodSet.
func NewMethodSet() *MethodSet {
	return &MethodSet{ops: make(map[string]boundOperation)}
}

// Define adds a single operation owned by owner.
func (m *MethodSet) Define(owner, name string, op Operation) error {
	return m.Mixin(owner, map[string]Operation{name: op})
}

// Mixin adds every operation in ops. Either all are added or, on a conflict, none are.
func (m *MethodSet) Mixin(owner string, ops map[string]Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range sortedNames(ops) {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s: operation name is empty", owner)
		}
		if ops[name] == nil {
			return fmt.Errorf("%s: operation %q is nil", owner, name)
		}
		if existing, ok := m.ops[name]; ok {
			return fmt.Errorf("%w: %q is provided by %s", ErrOperationConflict, name, existing.owner)
		}
	}
	for name, op := range ops {
		m.ops[name] = boundOperation{owner: owner, op: op}
	}
	return nil
}

// Remove drops every operation owned by owner and reports how many were removed.
func (m *MethodSet) Remove(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for name, b := range m.ops {
		if b.owner == owner {
			delete(m.ops, name)
			removed++
		}
	}
	return removed
}

// RespondsTo reports whether name is defined.
func (m *MethodSet) RespondsTo(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ops[name]
	return ok
}

// Owner returns who defined name.
func (m *MethodSet) Owner(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.ops[name]
	return b.owner, ok
}

// Invoke calls the operation registered under name.
func (m *MethodSet) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	m.mu.RLock()
	b, ok := m.ops[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return b.op(ctx, args...)
}

// Methods lists every operation sorted by name.
func (m *MethodSet) Methods() []Method {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Method, 0, len(m.ops))
	for name, b := range m.ops {
		out = append(out, Method{Name: name, Owner: b.owner})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// closeBundle releases b when it holds resources.
func closeBundle(b Bundle) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func sortedNames(ops map[string]Operation) []string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Funcs adapts a plain map into a Bundle; handy for compiled-in modules.
type Funcs map[string]Operation

// Operations implements Bundle.
func (f Funcs) Operations() map[string]Operation { return f }
