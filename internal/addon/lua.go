package addon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// luaBundle exposes the functions of a Lua table as operations.
type luaBundle struct {
	mu     sync.Mutex
	state  *lua.LState
	module *lua.LTable
	names  []string
}

var luaLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

func newLuaState(path string, log logrus.FieldLogger) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range luaLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open lua %s library: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.WithField("artifact", path).Debug(strings.Join(parts, "\t"))
		return 0
	}))
	return L, nil
}

func openLua(ctx context.Context, path, module string, log logrus.FieldLogger) (*luaBundle, error) {
	L, err := newLuaState(path, log)
	if err != nil {
		return nil, err
	}

	L.SetContext(ctx)
	err = L.DoFile(path)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("evaluate %s: %w", path, err)
	}

	tbl, err := resolveLuaModule(L, module)
	if err != nil {
		L.Close()
		return nil, err
	}

	return &luaBundle{state: L, module: tbl, names: luaOperationNames(L, tbl)}, nil
}

// luaOperationNames lists the functions reachable from tbl, following metatable
// __index tables the way a field lookup would.
func luaOperationNames(L *lua.LState, tbl *lua.LTable) []string {
	seen := make(map[string]bool)
	visited := make(map[*lua.LTable]bool)
	var names []string
	for t := tbl; t != nil && !visited[t]; {
		visited[t] = true
		t.ForEach(func(key, _ lua.LValue) {
			name, ok := key.(lua.LString)
			if !ok || seen[string(name)] {
				return
			}
			seen[string(name)] = true
			if _, ok := L.GetField(tbl, string(name)).(*lua.LFunction); ok {
				names = append(names, string(name))
			}
		})

		mt, ok := L.GetMetatable(t).(*lua.LTable)
		if !ok {
			break
		}
		t, _ = mt.RawGetString("__index").(*lua.LTable)
	}
	sort.Strings(names)
	return names
}

func resolveLuaModule(L *lua.LState, module string) (*lua.LTable, error) {
	parts := strings.Split(module, ".")
	value := L.GetGlobal(parts[0])
	for i, part := range parts {
		if i > 0 {
			value = L.GetField(value, part)
		}
		if value == lua.LNil {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, strings.Join(parts[:i+1], "."))
		}
		if _, ok := value.(*lua.LTable); !ok {
			return nil, fmt.Errorf("%w: %s is a %s, not a table", ErrModuleNotFound, strings.Join(parts[:i+1], "."), value.Type())
		}
	}
	return value.(*lua.LTable), nil
}

// Operations implements Bundle.
func (b *luaBundle) Operations() map[string]Operation {
	ops := make(map[string]Operation, len(b.names))
	for _, name := range b.names {
		name := name
		ops[name] = func(ctx context.Context, args ...any) (any, error) {
			return b.call(ctx, name, args)
		}
	}
	return ops
}

func (b *luaBundle) call(ctx context.Context, name string, args []any) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil, fmt.Errorf("%s: bundle closed", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	L := b.state
	fn, ok := L.GetField(b.module, name).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	values := make([]lua.LValue, len(args))
	for i, arg := range args {
		values[i] = toLua(L, arg)
	}

	L.SetContext(ctx)
	defer L.RemoveContext()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, values...); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

// Close shuts the Lua state down.
func (b *luaBundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != nil {
		b.state.Close()
		b.state = nil
	}
	return nil
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && isLuaSequence(val, n) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(key, item lua.LValue) {
			out[key.String()] = fromLua(item)
		})
		return out
	default:
		return val.String()
	}
}

// isLuaSequence reports whether every key of tbl is an integer in 1..n.
func isLuaSequence(tbl *lua.LTable, n int) bool {
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })
	return count == n
}
