// File: internal/actions/actions.go
// Brief: Stack action executors backed by the template renderer and provider.

// Package actions implements the executors a Plan runs for each stack.
package actions

import (
	"context"
	"fmt"

	"github.com/example/strata/internal/cloud"
	"github.com/example/strata/internal/resolver"
	"github.com/example/strata/internal/stack"
	"github.com/example/strata/internal/template"
	"github.com/go-logr/logr"
)

// Clients hands out provider clients per target.
type Clients interface {
	Client(ctx context.Context, t cloud.Target) (*cloud.Client, error)
}

// OutputCache is invalidated after a stack changes.
type OutputCache interface {
	ForgetOutputs(t cloud.Target)
}

// Deps are the collaborators shared by every executor.
type Deps struct {
	Clients  Clients
	Renderer *template.Renderer
	// Outputs is optional; when set, launched or deleted stacks are dropped from it.
	Outputs OutputCache
}

// New returns every action keyed by name.
func New(d Deps) map[string]stack.Action {
	e := &executors{deps: d}
	return map[string]stack.Action{
		stack.ActionGenerate: {
			Name:        stack.ActionGenerate,
			Placeholder: resolver.PlaceholderExplicit,
			Executor:    stack.ExecutorFunc(e.generate),
		},
		stack.ActionValidate: {
			Name:        stack.ActionValidate,
			Placeholder: resolver.PlaceholderAlphanum,
			Executor:    stack.ExecutorFunc(e.validate),
		},
		stack.ActionEstimateCost: {
			Name:        stack.ActionEstimateCost,
			Placeholder: resolver.PlaceholderAlphanum,
			Executor:    stack.ExecutorFunc(e.estimateCost),
		},
		stack.ActionDiff: {
			Name:        stack.ActionDiff,
			Placeholder: resolver.PlaceholderExplicit,
			Executor:    stack.ExecutorFunc(e.diff),
		},
		stack.ActionLaunch: {
			Name:     stack.ActionLaunch,
			Mutating: true,
			Executor: stack.ExecutorFunc(e.launch),
		},
		stack.ActionDelete: {
			Name:           stack.ActionDelete,
			Mutating:       true,
			Reverse:        true,
			SkipParameters: true,
			Executor:       stack.ExecutorFunc(e.delete),
		},
	}
}

type executors struct {
	deps Deps
}

func (e *executors) render(s *stack.Stack, params map[string]string) (string, error) {
	if e.deps.Renderer == nil {
		return "", fmt.Errorf("no template renderer configured")
	}
	return e.deps.Renderer.Render(template.Input{
		Path:       s.TemplatePath,
		StackName:  s.Name,
		Parameters: params,
		UserData:   s.UserData,
	})
}

func (e *executors) client(ctx context.Context, s *stack.Stack) (*cloud.Client, error) {
	if e.deps.Clients == nil {
		return nil, fmt.Errorf("no provider configured")
	}
	return e.deps.Clients.Client(ctx, s.Target)
}

func templateFor(s *stack.Stack, body string) cloud.Template {
	return cloud.Template{
		StackName: s.ExternalName,
		Body:      body,
		Bucket:    s.TemplateBucket,
		KeyPrefix: s.TemplateKeyPrefix,
	}
}

func (e *executors) generate(_ context.Context, s *stack.Stack, params map[string]string) (any, error) {
	return e.render(s, params)
}

func (e *executors) validate(ctx context.Context, s *stack.Stack, params map[string]string) (any, error) {
	body, err := e.render(s, params)
	if err != nil {
		return nil, err
	}
	c, err := e.client(ctx, s)
	if err != nil {
		return nil, err
	}
	return c.Validate(ctx, templateFor(s, body))
}

func (e *executors) estimateCost(ctx context.Context, s *stack.Stack, params map[string]string) (any, error) {
	body, err := e.render(s, params)
	if err != nil {
		return nil, err
	}
	c, err := e.client(ctx, s)
	if err != nil {
		return nil, err
	}
	return c.EstimateCost(ctx, templateFor(s, body), params)
}

func (e *executors) launch(ctx context.Context, s *stack.Stack, params map[string]string) (any, error) {
	body, err := e.render(s, params)
	if err != nil {
		return nil, err
	}
	c, err := e.client(ctx, s)
	if err != nil {
		return nil, err
	}
	logr.FromContextOrDiscard(ctx).Info("launching stack", "externalName", s.ExternalName)
	res, err := c.Launch(ctx, cloud.LaunchInput{
		Template:   templateFor(s, body),
		Parameters: params,
		Tags:       s.Tags,
		Timeout:    s.Timeout,
	})
	if e.deps.Outputs != nil {
		e.deps.Outputs.ForgetOutputs(s.Target)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *executors) delete(ctx context.Context, s *stack.Stack, _ map[string]string) (any, error) {
	c, err := e.client(ctx, s)
	if err != nil {
		return nil, err
	}
	logr.FromContextOrDiscard(ctx).Info("deleting stack", "externalName", s.ExternalName)
	res, err := c.Delete(ctx, s.ExternalName, s.Timeout)
	if e.deps.Outputs != nil {
		e.deps.Outputs.ForgetOutputs(s.Target)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
