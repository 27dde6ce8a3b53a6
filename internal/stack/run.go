// File: internal/stack/run.go
// Brief: Batch scheduler with a bounded worker pool per batch.

package stack

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/strata/internal/cloud"
	"github.com/example/strata/internal/resolver"
	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
)

type run struct {
	plan   *Plan
	action Action
	sel    Selection
	graph  *Graph
	engine *resolver.Engine
	id     string

	mu       sync.Mutex
	outcomes map[string]Outcome

	// emitMu serializes observer calls so observers need no locking.
	emitMu sync.Mutex
}

func newRun(p *Plan, action Action, sel Selection, g *Graph, engine *resolver.Engine) *run {
	return &run{
		plan:     p,
		action:   action,
		sel:      sel,
		graph:    g,
		engine:   engine,
		id:       newRunID(),
		outcomes: map[string]Outcome{},
	}
}

func newRunID() string {
	return time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z")
}

func (r *run) execute(ctx context.Context) *Result {
	log := logr.FromContextOrDiscard(ctx).WithValues("run", r.id, "action", r.action.Name)
	ctx = logr.NewContext(ctx, log)

	batches := r.graph.Order()
	res := &Result{
		RunID:       r.id,
		Action:      r.action.Name,
		CommandPath: r.plan.Context.CommandPath,
		Batches:     batches,
		StartedAt:   time.Now().UTC(),
	}
	r.emit(Event{Type: RunStarted, Message: fmt.Sprintf("%d stacks in %d batches", len(r.sel.Stacks), len(batches))})
	log.V(1).Info("plan started", "stacks", len(r.sel.Stacks), "batches", len(batches), "placeholders", r.engine.Mode().String())

	limit := r.plan.Context.Options.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			for _, name := range batch {
				r.cancel(i, name, err)
			}
			continue
		}
		r.emit(Event{Type: BatchStarted, Batch: i, Message: strings.Join(batch, ",")})
		sem := semaphore.NewWeighted(int64(limit))
		var wg sync.WaitGroup
		for _, name := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				r.cancel(i, name, err)
				continue
			}
			wg.Add(1)
			go func(idx int, name string) {
				defer wg.Done()
				defer sem.Release(1)
				r.runStack(ctx, idx, name)
			}(i, name)
		}
		wg.Wait()
	}

	r.mu.Lock()
	res.Outcomes = make(map[string]Outcome, len(r.outcomes))
	for name, o := range r.outcomes {
		res.Outcomes[name] = o
	}
	r.mu.Unlock()
	res.FinishedAt = time.Now().UTC()

	counts := res.Counts()
	r.emit(Event{Type: RunCompleted, Message: summarizeCounts(counts)})
	log.V(1).Info("plan completed", "ok", res.OK(), "duration", res.FinishedAt.Sub(res.StartedAt).String())

	if h := r.plan.opts.History; h != nil {
		if err := h.RecordRun(context.WithoutCancel(ctx), res); err != nil {
			log.Error(err, "recording run history")
		}
	}
	return res
}

func (r *run) runStack(ctx context.Context, batch int, name string) {
	s := r.plan.Project.Stacks[name]
	log := logr.FromContextOrDiscard(ctx).WithValues("stack", name)
	ctx = logr.NewContext(ctx, log)

	for _, dep := range r.graph.Direct(name) {
		if o, ok := r.outcome(dep); !ok || o.Status != StatusSucceeded {
			err := &DependencyFailedError{Stack: name, Dependency: dep}
			r.record(batch, name, Outcome{Status: StatusDependencyFailed, Err: err}, StackSkipped)
			return
		}
	}
	if err := ctx.Err(); err != nil {
		r.cancel(batch, name, err)
		return
	}
	if !s.Supports(r.action) {
		err := &ExecutorError{
			Stack:  name,
			Action: r.action.Name,
			Class:  ClassProtected,
			Err:    fmt.Errorf("stack is protected against %s", r.action.Name),
		}
		r.record(batch, name, Outcome{Status: StatusFailed, Err: err}, StackFailed)
		return
	}

	r.emit(Event{Type: StackRunning, Stack: name, Batch: batch})
	start := time.Now()
	params := map[string]string{}
	if !r.action.SkipParameters {
		var err error
		params, err = r.materialize(ctx, s)
		if err != nil {
			r.record(batch, name, Outcome{Status: StatusFailed, Err: err, Duration: time.Since(start)}, StackFailed)
			return
		}
	}
	value, err := r.apply(ctx, s, params)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			r.cancel(batch, name, err)
			return
		}
		var execErr *ExecutorError
		if !errors.As(err, &execErr) {
			execErr = &ExecutorError{Stack: name, Action: r.action.Name, Class: cloud.Classify(err), Err: err}
		}
		log.V(1).Info("stack failed", "class", execErr.Class, "error", err.Error())
		r.record(batch, name, Outcome{Status: StatusFailed, Err: execErr, Duration: elapsed}, StackFailed)
		return
	}
	r.record(batch, name, Outcome{Status: StatusSucceeded, Value: value, Duration: elapsed}, StackSucceeded)
}

func (r *run) apply(ctx context.Context, s *Stack, params map[string]string) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logr.FromContextOrDiscard(ctx).V(1).Info("executor panic", "stack", s.Name, "stacktrace", string(debug.Stack()))
			value = nil
			err = &ExecutorError{
				Stack:  s.Name,
				Action: r.action.Name,
				Class:  cloud.ClassOther,
				Err:    fmt.Errorf("panic: %v", rec),
			}
		}
	}()
	return r.action.Executor.Apply(ctx, s, params)
}

// materialize evaluates every parameter of s. List values are joined with
// commas.
func (r *run) materialize(ctx context.Context, s *Stack) (map[string]string, error) {
	rc := resolver.Context{
		Stack:  s.Name,
		Dir:    r.plan.Project.Root,
		Target: s.Target,
		Lookup: func(name string) (cloud.Target, bool) {
			other, ok := r.plan.Project.Stack(name)
			if !ok {
				return cloud.Target{}, false
			}
			return other.Target, true
		},
		InScope:   r.sel.Contains,
		Outputs:   r.plan.opts.Outputs,
		Secrets:   r.plan.opts.Secrets,
		LookupEnv: r.plan.opts.LookupEnv,
	}
	out := make(map[string]string, len(s.Parameters))
	for _, param := range s.ParameterNames() {
		rs := s.Parameters[param]
		values := make([]string, 0, len(rs))
		for i, res := range rs {
			v, err := r.engine.ResolveOrPlaceholder(ctx, resolver.Key{Stack: s.Name, Parameter: param, Index: i}, res, rc)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		out[param] = strings.Join(values, ",")
	}
	return out, nil
}

func (r *run) outcome(name string) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[name]
	return o, ok
}

func (r *run) cancel(batch int, name string, cause error) {
	r.record(batch, name, Outcome{Status: StatusCancelled, Err: &CancelledError{Stack: name, Err: cause}}, StackCancelled)
}

func (r *run) record(batch int, name string, o Outcome, typ EventType) {
	if o.Err != nil {
		o.Error = o.Err.Error()
	}
	r.mu.Lock()
	r.outcomes[name] = o
	r.mu.Unlock()
	r.emit(Event{Type: typ, Stack: name, Batch: batch, Error: o.Error})
}

func (r *run) emit(ev Event) {
	ev.RunID = r.id
	ev.Action = r.action.Name
	ev.Timestamp = time.Now().UTC()
	observers := append([]EventObserver(nil), r.plan.opts.Observers...)

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	for _, obs := range observers {
		if obs == nil {
			continue
		}
		obs.ObserveEvent(ev)
	}
}

func summarizeCounts(counts map[Status]int) string {
	keys := make([]string, 0, len(counts))
	for status := range counts {
		keys = append(keys, string(status))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[Status(k)]))
	}
	return strings.Join(parts, " ")
}
