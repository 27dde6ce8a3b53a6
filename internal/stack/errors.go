// File: internal/stack/errors.go
// Brief: Structural and per-stack error types.

package stack

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPlanExecuted is returned when Execute is called twice on one Plan.
	ErrPlanExecuted = errors.New("plan already executed")
	// ErrPlaceholdersNotAllowed is returned when a mutating action is asked to
	// run with placeholder values.
	ErrPlaceholdersNotAllowed = errors.New("placeholders are not allowed for mutating actions")
	// ErrUnknownAction is returned for an action the plan has no executor for.
	ErrUnknownAction = errors.New("unknown action")
)

// ConfigError reports one or more malformed stack definitions. Err is usually a
// *multierror.Error listing every problem found.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid project configuration: " + strings.TrimSpace(e.Err.Error())
}

func (e *ConfigError) Unwrap() error { return e.Err }

// MissingDependencyError is returned when a dependency edge points outside the
// stack set being planned.
type MissingDependencyError struct {
	Stack      string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("stack %s depends on %q which is not part of the plan", e.Stack, e.Dependency)
}

// CyclicDependencyError reports one cycle found while ordering.
type CyclicDependencyError struct {
	// Cycle lists the stacks on the cycle; the first element is repeated at
	// the end when printed.
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "dependency cycle detected: " + cycleString(e.Cycle)
}

// DependencyFailedError marks a stack that was skipped because a dependency
// did not succeed.
type DependencyFailedError struct {
	Stack      string
	Dependency string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("skipped %s: dependency %s did not succeed", e.Stack, e.Dependency)
}

// ExecutorError wraps an error raised while running an action on one stack.
type ExecutorError struct {
	Stack  string
	Action string
	// Class is a coarse cause such as RATE_LIMIT or VALIDATION.
	Class string
	Err   error
}

func (e *ExecutorError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Action, e.Stack, e.Class, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Action, e.Stack, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// CancelledError marks a stack that did not run (or was interrupted) because
// the execution context was cancelled.
type CancelledError struct {
	Stack string
	Err   error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Stack, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// Error class used when an action is refused by the stack itself.
const ClassProtected = "PROTECTED"
