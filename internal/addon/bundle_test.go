package addon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v any) Operation {
	return func(context.Context, ...any) (any, error) { return v, nil }
}

func TestMethodSetMixinAndInvoke(t *testing.T) {
	m := NewMethodSet()
	require.NoError(t, m.Mixin("calc", map[string]Operation{
		"add": func(_ context.Context, args ...any) (any, error) {
			return args[0].(int) + args[1].(int), nil
		},
		"zero": constant(0),
	}))

	assert.True(t, m.RespondsTo("add"))
	assert.False(t, m.RespondsTo("sub"))

	got, err := m.Invoke(context.Background(), "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	owner, ok := m.Owner("zero")
	assert.True(t, ok)
	assert.Equal(t, "calc", owner)

	assert.Equal(t, []Method{{Name: "add", Owner: "calc"}, {Name: "zero", Owner: "calc"}}, m.Methods())
}

func TestMethodSetUnknownOperation(t *testing.T) {
	_, err := NewMethodSet().Invoke(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestMethodSetMixinIsAllOrNothing(t *testing.T) {
	m := NewMethodSet()
	require.NoError(t, m.Define("server", "health", constant("ok")))

	err := m.Mixin("addon", map[string]Operation{
		"fresh":  constant(1),
		"health": constant("shadowed"),
	})
	if !errors.Is(err, ErrOperationConflict) {
		t.Fatalf("expected ErrOperationConflict, got %v", err)
	}
	assert.Contains(t, err.Error(), "server")
	assert.False(t, m.RespondsTo("fresh"), "no operation of a rejected mixin may be added")

	got, err := m.Invoke(context.Background(), "health")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestMethodSetRejectsInvalidOperations(t *testing.T) {
	m := NewMethodSet()
	assert.Error(t, m.Mixin("x", map[string]Operation{"": constant(1)}))
	assert.Error(t, m.Mixin("x", map[string]Operation{"nil": nil}))
	assert.Empty(t, m.Methods())
}

type closingBundle struct {
	Funcs
	closed int
}

func (c *closingBundle) Close() error {
	c.closed++
	return nil
}

func TestCloseAllReverseOrder(t *testing.T) {
	first := &closingBundle{Funcs: Funcs{"a": constant(1)}}
	second := &closingBundle{Funcs: Funcs{"b": constant(2)}}
	loaded := []Loaded{
		{Entry: Entry{Name: "first"}, bundle: first},
		{Entry: Entry{Name: "second"}, bundle: second},
		{Entry: Entry{Name: "plain"}, bundle: Funcs{}},
	}
	require.NoError(t, CloseAll(loaded))
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, second.closed)
}

func TestMethodSetRemove(t *testing.T) {
	m := NewMethodSet()
	require.NoError(t, m.Define("server", "health", constant("ok")))
	require.NoError(t, m.Mixin("fees", map[string]Operation{"fee": constant(1), "quote": constant(2)}))

	assert.Equal(t, 2, m.Remove("fees"))
	assert.False(t, m.RespondsTo("fee"))
	assert.False(t, m.RespondsTo("quote"))
	assert.True(t, m.RespondsTo("health"))
	assert.Equal(t, 0, m.Remove("fees"))

	require.NoError(t, m.Define("fees", "fee", constant(3)), "removed names can be defined again")
}
