package scripting

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrEmptyExpression is returned when there is nothing to evaluate.
var ErrEmptyExpression = errors.New("empty expression")

type GojaEngine struct {
	vm *goja.Runtime
}

func NewEngine() *GojaEngine {
	vm := goja.New()
	return &GojaEngine{vm: vm}
}

func (e *GojaEngine) Execute(ctx context.Context, script string) (interface{}, error) {
	val, err := e.run(ctx, script)
	if err != nil {
		return nil, err
	}
	return val.Export(), nil
}

func (e *GojaEngine) run(ctx context.Context, script string) (goja.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

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

	val, err := e.vm.RunString(script)
	if err != nil {
		if interruptedErr, ok := err.(*goja.InterruptedError); ok {
			if cause := interruptedErr.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, err
	}
	return val, nil
}

func (e *GojaEngine) Bind(vars Vars) error {
	for name, v := range vars.globals() {
		if err := e.vm.Set(name, v); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

// Label binds vars and evaluates expr. Null and undefined results yield an
// empty label; anything else is converted with JavaScript's String().
func (e *GojaEngine) Label(ctx context.Context, expr string, vars Vars) (string, error) {
	if expr == "" {
		return "", ErrEmptyExpression
	}
	if err := e.Bind(vars); err != nil {
		return "", err
	}
	val, err := e.run(ctx, expr)
	if err != nil {
		return "", fmt.Errorf("evaluate expression: %w", err)
	}
	if goja.IsUndefined(val) || goja.IsNull(val) {
		return "", nil
	}
	return val.String(), nil
}

// Compile checks expr for syntax errors without running it.
func Compile(expr string) error {
	if expr == "" {
		return ErrEmptyExpression
	}
	_, err := goja.Compile("label", expr, false)
	return err
}
