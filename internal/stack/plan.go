// File: internal/stack/plan.go
// Brief: Plan construction and the per-action entry points.

package stack

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/example/strata/internal/resolver"
)

// Action names understood by the CLI.
const (
	ActionValidate     = "validate"
	ActionGenerate     = "generate"
	ActionEstimateCost = "estimate-cost"
	ActionDiff         = "diff"
	ActionLaunch       = "launch"
	ActionDelete       = "delete"
)

// Executor performs one action on one stack. params holds the stack's
// materialized parameters.
type Executor interface {
	Apply(ctx context.Context, s *Stack, params map[string]string) (any, error)
}

type ExecutorFunc func(ctx context.Context, s *Stack, params map[string]string) (any, error)

func (f ExecutorFunc) Apply(ctx context.Context, s *Stack, params map[string]string) (any, error) {
	return f(ctx, s, params)
}

// Action binds an executor to its planning rules.
type Action struct {
	Name string
	// Reverse runs dependents before their dependencies and expands the scope
	// with dependents.
	Reverse bool
	// Mutating actions change deployed state. They never accept placeholders
	// and protected stacks refuse them.
	Mutating bool
	// Placeholder is the mode used when the caller allows placeholders.
	Placeholder resolver.PlaceholderType
	// SkipParameters passes no parameters to the executor.
	SkipParameters bool
	Executor       Executor
}

// HistoryRecorder persists finished runs.
type HistoryRecorder interface {
	RecordRun(ctx context.Context, r *Result) error
}

// PlanOptions wires a Plan's collaborators.
type PlanOptions struct {
	Actions map[string]Action
	// Project skips loading from disk when set.
	Project   *Project
	Outputs   resolver.OutputSource
	Secrets   resolver.SecretSource
	Observers []EventObserver
	History   HistoryRecorder
	LookupEnv func(string) (string, bool)
}

// Plan is one request against a loaded project. A plan executes once.
type Plan struct {
	Context RequestContext
	Project *Project

	opts PlanOptions

	mu       sync.Mutex
	executed bool
}

// NewPlan normalizes rc and loads the project unless opts.Project is set.
func NewPlan(rc RequestContext, opts PlanOptions) (*Plan, error) {
	rc = NewRequestContext(rc)
	project := opts.Project
	if project == nil {
		var err error
		project, err = LoadProject(rc)
		if err != nil {
			return nil, err
		}
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	return &Plan{Context: rc, Project: project, opts: opts}, nil
}

// Action returns the registered action by name.
func (p *Plan) Action(name string) (Action, error) {
	a, ok := p.opts.Actions[name]
	if !ok || a.Executor == nil {
		return Action{}, fmt.Errorf("%w %q", ErrUnknownAction, name)
	}
	if a.Name == "" {
		a.Name = name
	}
	return a, nil
}

// Prepare scopes and orders the plan for action without running anything.
func (p *Plan) Prepare(action Action) (Selection, *Graph, error) {
	sel, err := Select(p.Project, p.Context.CommandPath, action.Reverse, p.Context.IgnoreDependencies)
	if err != nil {
		return Selection{}, nil, err
	}
	// A reverse scope holds a stack and its dependents, so edges to the
	// stack's own dependencies leave the scope.
	g, err := BuildGraph(sel.Stacks, GraphOptions{IgnoreMissing: p.Context.IgnoreDependencies || action.Reverse})
	if err != nil {
		return Selection{}, nil, err
	}
	if action.Reverse {
		g = g.Reverse()
	}
	return sel, g, nil
}

// Execute runs the named action over the plan's scope using the given
// placeholder mode. Structural problems are returned as errors and nothing
// runs; per-stack failures are reported in the Result.
func (p *Plan) Execute(ctx context.Context, name string, mode resolver.PlaceholderType) (*Result, error) {
	action, err := p.Action(name)
	if err != nil {
		return nil, err
	}
	if action.Mutating && mode != resolver.PlaceholderNone {
		return nil, fmt.Errorf("%s: %w", action.Name, ErrPlaceholdersNotAllowed)
	}
	p.mu.Lock()
	if p.executed {
		p.mu.Unlock()
		return nil, ErrPlanExecuted
	}
	p.executed = true
	p.mu.Unlock()

	sel, g, err := p.Prepare(action)
	if err != nil {
		return nil, err
	}
	r := newRun(p, action, sel, g, resolver.NewEngine(mode))
	return r.execute(ctx), nil
}

// modeFor picks the placeholder mode of action honoring the caller's choice.
func (p *Plan) modeFor(name string, usePlaceholders bool) resolver.PlaceholderType {
	if !usePlaceholders {
		return resolver.PlaceholderNone
	}
	a, ok := p.opts.Actions[name]
	if !ok || a.Mutating {
		return resolver.PlaceholderNone
	}
	return a.Placeholder
}

func (p *Plan) Validate(ctx context.Context, usePlaceholders bool) (*Result, error) {
	return p.Execute(ctx, ActionValidate, p.modeFor(ActionValidate, usePlaceholders))
}

func (p *Plan) Generate(ctx context.Context, usePlaceholders bool) (*Result, error) {
	return p.Execute(ctx, ActionGenerate, p.modeFor(ActionGenerate, usePlaceholders))
}

func (p *Plan) EstimateCost(ctx context.Context, usePlaceholders bool) (*Result, error) {
	return p.Execute(ctx, ActionEstimateCost, p.modeFor(ActionEstimateCost, usePlaceholders))
}

func (p *Plan) Diff(ctx context.Context, usePlaceholders bool) (*Result, error) {
	return p.Execute(ctx, ActionDiff, p.modeFor(ActionDiff, usePlaceholders))
}

func (p *Plan) Launch(ctx context.Context) (*Result, error) {
	return p.Execute(ctx, ActionLaunch, resolver.PlaceholderNone)
}

func (p *Plan) Delete(ctx context.Context) (*Result, error) {
	return p.Execute(ctx, ActionDelete, resolver.PlaceholderNone)
}
