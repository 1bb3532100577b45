package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// ErrNotFunction is returned by Call when the name is not a script function.
var ErrNotFunction = errors.New("not a function")

type GojaEngine struct {
	mu sync.Mutex
	vm *goja.Runtime
}

func NewEngine() *GojaEngine {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return &GojaEngine{vm: vm}
}

// run executes fn with interrupt support for ctx. The runtime is not safe
// for concurrent use, so calls are serialized.
func (e *GojaEngine) run(ctx context.Context, fn func() (goja.Value, error)) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	defer e.vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			e.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := fn()
	if err != nil {
		var interruptedErr *goja.InterruptedError
		if errors.As(err, &interruptedErr) {
			if cause := interruptedErr.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	return val.Export(), nil
}

func (e *GojaEngine) Execute(ctx context.Context, script string) (interface{}, error) {
	return e.run(ctx, func() (goja.Value, error) { return e.vm.RunString(script) })
}

func (e *GojaEngine) Call(ctx context.Context, fn string, args ...interface{}) (interface{}, error) {
	return e.run(ctx, func() (goja.Value, error) {
		callable, ok := goja.AssertFunction(e.vm.Get(fn))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFunction, fn)
		}
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = e.vm.ToValue(a)
		}
		return callable(goja.Undefined(), vals...)
	})
}

func (e *GojaEngine) RegisterHost(host Host) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	hostObj := e.vm.NewObject()
	err := hostObj.Set("log", func(call goja.FunctionCall) goja.Value {
		msg := ""
		if len(call.Arguments) > 0 {
			msg = call.Arguments[0].String()
		}
		host.Log(msg)
		return goja.Undefined()
	})
	if err != nil {
		return err
	}
	err = hostObj.Set("env", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return goja.Undefined()
		}
		return e.vm.ToValue(host.Env(call.Arguments[0].String()))
	})
	if err != nil {
		return err
	}
	return e.vm.Set("host", hostObj)
}
