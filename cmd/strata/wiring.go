// File: cmd/strata/wiring.go
// Brief: Builds the provider pool, secret store, renderer and actions for a plan.

package main

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/example/strata/internal/actions"
	"github.com/example/strata/internal/cloud"
	"github.com/example/strata/internal/config"
	"github.com/example/strata/internal/logging"
	"github.com/example/strata/internal/secretstore"
	"github.com/example/strata/internal/stack"
	"github.com/example/strata/internal/template"
	"github.com/go-logr/logr"
)

type actionDeps struct {
	pool    *cloud.Pool
	secrets *secretstore.Store
	actions map[string]stack.Action
}

func newLogger(level string, w io.Writer) (logr.Logger, error) {
	return logging.NewWithOptions(logging.Options{Level: level, Writer: w})
}

func newActionDeps(rc stack.RequestContext, project *stack.Project, opts *config.Options, logger logr.Logger) (*actionDeps, error) {
	burst := int(opts.QPS)
	if burst < 1 {
		burst = 1
	}
	pool := cloud.NewPool(cloud.PoolOptions{QPS: opts.QPS, Burst: burst, Logger: logger.WithName("provider")})
	secrets, err := secretstore.New(project.Secrets, secretstore.Options{BaseDir: project.Root})
	if err != nil {
		return nil, err
	}
	renderer := template.NewRenderer(filepath.Join(project.Root, "templates"), rc.UserVariables)
	return &actionDeps{
		pool:    pool,
		secrets: secrets,
		actions: actions.New(actions.Deps{Clients: pool, Renderer: renderer, Outputs: pool}),
	}, nil
}

// logObserver reports plan progress through the logger.
func logObserver(logger logr.Logger) stack.EventObserver {
	return stack.EventObserverFunc(func(ev stack.Event) {
		kv := []any{"run", ev.RunID, "action", ev.Action}
		if ev.Stack != "" {
			kv = append(kv, "stack", ev.Stack)
		}
		switch ev.Type {
		case stack.StackFailed:
			logger.Info("stack failed", append(kv, "error", ev.Error)...)
		case stack.StackSkipped:
			logger.Info("stack skipped", append(kv, "reason", ev.Error)...)
		case stack.StackCancelled:
			logger.Info("stack cancelled", kv...)
		case stack.StackSucceeded:
			logger.Info("stack succeeded", kv...)
		case stack.BatchStarted:
			logger.V(1).Info("batch started", append(kv, "batch", ev.Batch, "stacks", ev.Message)...)
		default:
			logger.V(1).Info(strings.ToLower(string(ev.Type)), append(kv, "detail", ev.Message)...)
		}
	})
}
