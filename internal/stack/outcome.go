// File: internal/stack/outcome.go
// Brief: Per-stack outcomes and the aggregated Result.

package stack

import (
	"sort"
	"time"
)

// Status is the terminal state of one stack in a run.
type Status string

const (
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusDependencyFailed Status = "dependency-failed"
	StatusCancelled        Status = "cancelled"
)

// Outcome is what happened to one stack.
type Outcome struct {
	Status Status `json:"status"`
	// Value is the executor's return value on success.
	Value any   `json:"value,omitempty"`
	Err   error `json:"-"`
	// Error is Err rendered for serialization.
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Result covers every stack in the plan's scope.
type Result struct {
	RunID       string             `json:"runId"`
	Action      string             `json:"action"`
	CommandPath string             `json:"commandPath,omitempty"`
	Batches     [][]string         `json:"batches"`
	Outcomes    map[string]Outcome `json:"outcomes"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
}

// OK reports whether every stack succeeded.
func (r *Result) OK() bool {
	if r == nil {
		return false
	}
	for _, o := range r.Outcomes {
		if o.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Names returns the stacks in the result, sorted.
func (r *Result) Names() []string {
	out := make([]string, 0, len(r.Outcomes))
	for name := range r.Outcomes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Values returns the successful executor values keyed by stack name.
func (r *Result) Values() map[string]any {
	out := map[string]any{}
	for name, o := range r.Outcomes {
		if o.Status == StatusSucceeded {
			out[name] = o.Value
		}
	}
	return out
}

// Failed returns the errors of every stack that did not succeed.
func (r *Result) Failed() map[string]error {
	out := map[string]error{}
	for name, o := range r.Outcomes {
		if o.Status != StatusSucceeded {
			out[name] = o.Err
		}
	}
	return out
}

// Counts returns the number of stacks per status.
func (r *Result) Counts() map[Status]int {
	out := map[Status]int{}
	for _, o := range r.Outcomes {
		out[o.Status]++
	}
	return out
}
