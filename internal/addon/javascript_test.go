package addon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestJavaScriptBundle(t *testing.T) {
	path := writeScript(t, t.TempDir(), "fees.js", `
var Payments = {
  Fees: {
    rate: 0.03,
    fee: function(amount) { return amount * this.rate; },
    describe: function(order) { return { id: order.id, tags: ["a", "b"] }; },
    nothing: function() {},
    boom: function() { throw new Error("declined"); }
  }
};
`)
	log, _ := test.NewNullLogger()
	b, err := openJavaScript(context.Background(), path, "Payments.Fees", log)
	require.NoError(t, err)
	defer b.Close()

	ops := b.Operations()
	assert.ElementsMatch(t, []string{"fee", "describe", "nothing", "boom"}, sortedNames(ops))

	got, err := ops["fee"](context.Background(), 200)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, got, 1e-9)

	got, err = ops["describe"](context.Background(), map[string]any{"id": "ord-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "ord-1", "tags": []any{"a", "b"}}, got)

	got, err = ops["nothing"](context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ops["boom"](context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declined")
}

func TestJavaScriptLexicalModule(t *testing.T) {
	path := writeScript(t, t.TempDir(), "lexical.js", `const Greeter = { hello: (who) => "hello " + who };`)
	log, _ := test.NewNullLogger()
	b, err := openJavaScript(context.Background(), path, "Greeter", log)
	require.NoError(t, err)

	got, err := b.Operations()["hello"](context.Background(), "straight")
	require.NoError(t, err)
	assert.Equal(t, "hello straight", got)
}

func TestJavaScriptModuleNotFound(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "m.js", `var Present = { inner: 42 };`)
	log, _ := test.NewNullLogger()

	for _, module := range []string{"Absent", "Present.missing", "Present.inner"} {
		_, err := openJavaScript(context.Background(), path, module, log)
		if !errors.Is(err, ErrModuleNotFound) {
			t.Fatalf("%s: expected ErrModuleNotFound, got %v", module, err)
		}
	}
}

func TestJavaScriptSyntaxError(t *testing.T) {
	path := writeScript(t, t.TempDir(), "bad.js", `var X = {;`)
	log, _ := test.NewNullLogger()
	_, err := openJavaScript(context.Background(), path, "X", log)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrModuleNotFound))
}

func TestJavaScriptInterruptedByContext(t *testing.T) {
	path := writeScript(t, t.TempDir(), "spin.js", `var Spin = { forever: function() { for (;;) {} } };`)
	log, _ := test.NewNullLogger()
	b, err := openJavaScript(context.Background(), path, "Spin", log)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Operations()["forever"](ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestJavaScriptConsoleLogsAtDebug(t *testing.T) {
	path := writeScript(t, t.TempDir(), "noisy.js", `console.log("loading", 1); var Noisy = { f: function() {} };`)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	_, err := openJavaScript(context.Background(), path, "Noisy", log)
	require.NoError(t, err)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Equal(t, "loading 1", hook.LastEntry().Message)
}

func TestJavaScriptClassModule(t *testing.T) {
	path := writeScript(t, t.TempDir(), "test_addon.js", `
class TestAddon {
  static test_addon_method() { return 1; }
  static scaled(n) { return n * this.factor(); }
  static factor() { return 10; }
}`)
	log, _ := test.NewNullLogger()
	b, err := openJavaScript(context.Background(), path, "TestAddon", log)
	require.NoError(t, err)
	defer b.Close()

	ops := b.Operations()
	assert.Equal(t, []string{"factor", "scaled", "test_addon_method"}, sortedNames(ops))

	got, err := ops["test_addon_method"](context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, got)

	got, err = ops["scaled"](context.Background(), 4)
	require.NoError(t, err)
	assert.EqualValues(t, 40, got)
}

func TestJavaScriptInheritedOperations(t *testing.T) {
	path := writeScript(t, t.TempDir(), "inherit.js", `
class Base {
  greet(who) { return this.prefix + who; }
  shared() { return "base"; }
}
class Child extends Base {
  constructor() { super(); this.prefix = "hi "; }
  shared() { return "child"; }
  own() { return true; }
}
var Greeter = new Child();
`)
	log, _ := test.NewNullLogger()
	b, err := openJavaScript(context.Background(), path, "Greeter", log)
	require.NoError(t, err)
	defer b.Close()

	ops := b.Operations()
	assert.Equal(t, []string{"greet", "own", "shared"}, sortedNames(ops), "constructor and Object.prototype methods are not operations")

	got, err := ops["greet"](context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", got)

	got, err = ops["shared"](context.Background())
	require.NoError(t, err)
	assert.Equal(t, "child", got)
}

func TestJavaScriptUsableAfterInterrupt(t *testing.T) {
	path := writeScript(t, t.TempDir(), "spin.js", `var Spin = {
  forever: function() { for (;;) {} },
  ping: function() { return "pong"; }
};`)
	log, _ := test.NewNullLogger()
	b, err := openJavaScript(context.Background(), path, "Spin", log)
	require.NoError(t, err)
	defer b.Close()
	ops := b.Operations()

	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_, err := ops["forever"](ctx)
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)

		got, err := ops["ping"](context.Background())
		require.NoError(t, err, "a cancelled call must not leave the runtime interrupted")
		assert.Equal(t, "pong", got)
	}
}
