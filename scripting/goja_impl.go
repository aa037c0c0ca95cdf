package scripting

import (
	"context"
	"fmt"
	"os"

	"github.com/dop251/goja"
)

type GojaEngine struct {
	vm *goja.Runtime
}

func NewEngine() *GojaEngine {
	vm := goja.New()
	return &GojaEngine{vm: vm}
}

func (e *GojaEngine) Execute(ctx context.Context, script string) (interface{}, error) {
	var val goja.Value
	err := e.guard(ctx, func() error {
		var err error
		val, err = e.vm.RunString(script)
		return err
	})
	if err != nil {
		return nil, err
	}
	return val.Export(), nil
}

// guard runs fn with the VM interrupted when ctx ends.
func (e *GojaEngine) guard(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
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

	err := fn()
	if err != nil {
		if interruptedErr, ok := err.(*goja.InterruptedError); ok {
			if cause := interruptedErr.Unwrap(); cause != nil {
				return cause
			}
			return context.Canceled
		}
		return err
	}
	return nil
}

// Policy is a compiled annotation policy. It is not safe for concurrent use.
type Policy struct {
	engine *GojaEngine
	decide goja.Callable
	name   string
}

// NewPolicy evaluates script and looks up its decide function. name is used
// in error messages.
func NewPolicy(ctx context.Context, name, script string) (*Policy, error) {
	e := NewEngine()
	if _, err := e.Execute(ctx, script); err != nil {
		return nil, fmt.Errorf("policy %s: %w", name, err)
	}
	fn, ok := goja.AssertFunction(e.vm.Get("decide"))
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", name, ErrNoDecide)
	}
	return &Policy{engine: e, decide: fn, name: name}, nil
}

// LoadPolicy reads and compiles a policy file.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewPolicy(ctx, path, string(src))
}

// Decide calls decide(annot) and validates its answer.
func (p *Policy) Decide(ctx context.Context, a Annotation) (Decision, error) {
	vm := p.engine.vm
	obj := vm.NewObject()
	for k, v := range map[string]interface{}{
		"kind":     a.Kind,
		"width":    a.Width,
		"height":   a.Height,
		"page":     a.Page,
		"contents": a.Contents,
	} {
		if err := obj.Set(k, v); err != nil {
			return "", err
		}
	}

	var res goja.Value
	err := p.engine.guard(ctx, func() error {
		var err error
		res, err = p.decide(goja.Undefined(), obj)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("policy %s: %w", p.name, err)
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return "", fmt.Errorf("policy %s: %w: no value", p.name, ErrInvalidDecision)
	}
	d, err := ParseDecision(res.String())
	if err != nil {
		return "", fmt.Errorf("policy %s: %w", p.name, err)
	}
	return d, nil
}
