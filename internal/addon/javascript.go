package addon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// jsBundle exposes the functions of a JavaScript object as operations.
type jsBundle struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	module *goja.Object
	names  []string
}

func openJavaScript(ctx context.Context, path, module string, log logrus.FieldLogger) (*jsBundle, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	vm := goja.New()
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		log.WithField("artifact", path).Debug(strings.Join(parts, " "))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	if _, err := runInterruptible(ctx, vm, func() (goja.Value, error) {
		return vm.RunScript(path, string(src))
	}); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", path, err)
	}

	obj, err := resolveJSModule(vm, module)
	if err != nil {
		return nil, err
	}

	names, err := jsOperationNames(vm, obj)
	if err != nil {
		return nil, fmt.Errorf("list operations of %s: %w", module, err)
	}
	return &jsBundle{vm: vm, module: obj, names: names}, nil
}

// jsOperationNames lists the callable properties of obj, including non-enumerable
// class methods and those inherited through its prototype chain. The built-in
// Object and Function prototypes are not walked.
func jsOperationNames(vm *goja.Runtime, obj *goja.Object) ([]string, error) {
	object := vm.Get("Object").ToObject(vm)
	ownNames, ok := goja.AssertFunction(object.Get("getOwnPropertyNames"))
	if !ok {
		return nil, errors.New("Object.getOwnPropertyNames is unavailable")
	}
	objectProto := object.Get("prototype").ToObject(vm)
	functionProto := vm.Get("Function").ToObject(vm).Get("prototype").ToObject(vm)
	builtin := map[*goja.Object]bool{objectProto: true, functionProto: true}

	seen := make(map[string]bool)
	var names []string
	for o := obj; o != nil && !builtin[o]; o = o.Prototype() {
		keys, err := ownNames(goja.Undefined(), o)
		if err != nil {
			return nil, err
		}
		var own []string
		if err := vm.ExportTo(keys, &own); err != nil {
			return nil, err
		}
		for _, key := range own {
			if key == "constructor" || seen[key] {
				continue
			}
			seen[key] = true
			if _, ok := goja.AssertFunction(obj.Get(key)); ok {
				names = append(names, key)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// resolveJSModule walks a dotted path starting at the global scope.
func resolveJSModule(vm *goja.Runtime, module string) (*goja.Object, error) {
	parts := strings.Split(module, ".")
	value := vm.GlobalObject().Get(parts[0])
	if isAbsent(value) && identifierPattern.MatchString(parts[0]) {
		// Top-level let/const bindings are not properties of the global object.
		if v, err := vm.RunString(parts[0]); err == nil {
			value = v
		}
	}

	for i, part := range parts {
		if i > 0 {
			value = value.(*goja.Object).Get(part)
		}
		if isAbsent(value) {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, strings.Join(parts[:i+1], "."))
		}
		if _, ok := value.(*goja.Object); !ok {
			return nil, fmt.Errorf("%w: %s is not an object", ErrModuleNotFound, strings.Join(parts[:i+1], "."))
		}
	}
	return value.(*goja.Object), nil
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// Operations implements Bundle.
func (b *jsBundle) Operations() map[string]Operation {
	ops := make(map[string]Operation, len(b.names))
	for _, name := range b.names {
		name := name
		ops[name] = func(ctx context.Context, args ...any) (any, error) {
			return b.call(ctx, name, args)
		}
	}
	return ops
}

func (b *jsBundle) call(ctx context.Context, name string, args []any) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vm == nil {
		return nil, fmt.Errorf("%s: bundle closed", name)
	}

	fn, ok := goja.AssertFunction(b.module.Get(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = b.vm.ToValue(arg)
	}

	result, err := runInterruptible(ctx, b.vm, func() (goja.Value, error) {
		return fn(b.module, values...)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if isAbsent(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// Close drops the runtime.
func (b *jsBundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vm = nil
	b.module = nil
	return nil
}

// runInterruptible runs fn and interrupts the runtime when ctx is done.
func runInterruptible(ctx context.Context, vm *goja.Runtime, fn func() (goja.Value, error)) (goja.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer func() {
		// A callback already in flight must land before the flag is cleared,
		// otherwise the next call on this runtime starts out interrupted.
		if !stop() {
			<-interrupted
		}
		vm.ClearInterrupt()
	}()

	value, err := fn()
	var ierr *goja.InterruptedError
	if errors.As(err, &ierr) {
		if cause, ok := ierr.Value().(error); ok {
			return nil, cause
		}
	}
	return value, err
}
