// File: internal/resolver/engine.go
// Brief: Per-run resolver dispatch with at-most-once evaluation per key.

package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Key identifies one resolver binding within a run.
type Key struct {
	Stack     string
	Parameter string
	// Index is the position within a list-valued parameter.
	Index int
}

func (k Key) String() string {
	if k.Index == 0 {
		return k.Stack + "." + k.Parameter
	}
	return fmt.Sprintf("%s.%s[%d]", k.Stack, k.Parameter, k.Index)
}

// Failure is a resolver evaluation error attributed to one stack parameter.
type Failure struct {
	Stack     string
	Parameter string
	Tag       string
	Arg       string
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("stack %s: parameter %s (!%s %s): %v", f.Stack, f.Parameter, f.Tag, f.Arg, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

type cell struct {
	once  sync.Once
	value string
	err   error
}

// Engine evaluates resolvers for one plan execution. Each key is evaluated at
// most once; concurrent callers for the same key wait for the first evaluation
// and share its result, including a failure. A failure stays cached for the
// rest of the run even when it came from a cancelled context, so later callers
// get that same *Failure; call Forget to evaluate the key again. Safe for
// concurrent use.
type Engine struct {
	mode PlaceholderType

	mu    sync.Mutex
	cells map[Key]*cell
}

// NewEngine returns an engine whose ResolveOrPlaceholder substitutes using mode.
func NewEngine(mode PlaceholderType) *Engine {
	return &Engine{mode: mode, cells: map[Key]*cell{}}
}

// Mode returns the engine's placeholder mode.
func (e *Engine) Mode() PlaceholderType { return e.mode }

// Resolve evaluates r strictly. Errors are returned as *Failure.
func (e *Engine) Resolve(ctx context.Context, key Key, r Resolver, rc Context) (string, error) {
	if s, ok := r.(Static); ok {
		return s.Value, nil
	}
	c := e.cell(key)
	c.once.Do(func() {
		logr.FromContextOrDiscard(ctx).V(1).Info("resolving parameter", "stack", key.Stack, "parameter", key.Parameter, "resolver", r.Tag())
		c.value, c.err = r.Resolve(ctx, rc)
	})
	if c.err != nil {
		return "", &Failure{Stack: key.Stack, Parameter: key.Parameter, Tag: r.Tag(), Arg: r.Arg(), Err: c.err}
	}
	return c.value, nil
}

// ResolveOrPlaceholder evaluates r unless it is unsafe to evaluate for rc, and
// substitutes a placeholder when evaluation is skipped or fails. With
// PlaceholderNone it behaves like Resolve.
func (e *Engine) ResolveOrPlaceholder(ctx context.Context, key Key, r Resolver, rc Context) (string, error) {
	if e.mode == PlaceholderNone {
		return e.Resolve(ctx, key, r, rc)
	}
	if d, ok := r.(deployOnly); ok && d.DeployOnly(rc) {
		return Placeholder(r, e.mode), nil
	}
	val, err := e.Resolve(ctx, key, r, rc)
	if err != nil {
		logr.FromContextOrDiscard(ctx).V(1).Info("using placeholder", "stack", key.Stack, "parameter", key.Parameter, "error", err.Error())
		return Placeholder(r, e.mode), nil
	}
	return val, nil
}

// Forget drops the cached result for key so the next call evaluates again.
func (e *Engine) Forget(key Key) {
	e.mu.Lock()
	delete(e.cells, key)
	e.mu.Unlock()
}

func (e *Engine) cell(key Key) *cell {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cells[key]
	if !ok {
		c = &cell{}
		e.cells[key] = c
	}
	return c
}
