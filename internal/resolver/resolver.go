// File: internal/resolver/resolver.go
// Brief: Parameter resolvers bound from stack config tags.

// Package resolver evaluates dynamic stack parameter values.
//
// A resolver is bound when a stack config is loaded (for example
// `VpcId: !stack_output dev/vpc::VpcId`) and evaluated lazily by an Engine when
// an action needs the stack's effective parameters.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/strata/internal/cloud"
	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"
)

// Resolver tags accepted in stack config.
const (
	TagStatic              = "static"
	TagStackOutput         = "stack_output"
	TagStackOutputExternal = "stack_output_external"
	TagEnvironmentVariable = "environment_variable"
	TagFileContents        = "file_contents"
	TagSecret              = "secret"
)

// OutputSource returns the published outputs of a deployed stack.
type OutputSource interface {
	StackOutputs(ctx context.Context, t cloud.Target) (map[string]string, error)
}

// SecretSource looks up secret references.
type SecretSource interface {
	Secret(ctx context.Context, ref string) (string, error)
}

// Context is what a resolver may consult while evaluating.
type Context struct {
	// Stack is the name of the stack owning the parameter.
	Stack string
	// Dir is the project root used for relative file paths.
	Dir string
	// Target is the owning stack's connection.
	Target cloud.Target
	// Lookup maps a project stack name to its deployed target.
	Lookup func(name string) (cloud.Target, bool)
	// InScope reports whether a project stack is part of the current plan.
	InScope   func(name string) bool
	Outputs   OutputSource
	Secrets   SecretSource
	LookupEnv func(key string) (string, bool)
}

// Resolver produces one parameter value.
type Resolver interface {
	Tag() string
	Arg() string
	Resolve(ctx context.Context, rc Context) (string, error)
}

// Dependent is implemented by resolvers that imply a dependency on another
// stack in the same project.
type Dependent interface {
	Dependency() string
}

// deployOnly is implemented by resolvers that should not be evaluated outside a
// full deploy context.
type deployOnly interface {
	DeployOnly(rc Context) bool
}

// Static passes a literal through.
type Static struct {
	Value string
}

func (s Static) Tag() string { return TagStatic }
func (s Static) Arg() string { return s.Value }

func (s Static) Resolve(context.Context, Context) (string, error) {
	return s.Value, nil
}

// StackOutput reads an output of another stack in the project. Arg form:
// "<stack>::<OutputKey>".
type StackOutput struct {
	StackName string
	Output    string
}

func (s StackOutput) Tag() string        { return TagStackOutput }
func (s StackOutput) Arg() string        { return s.StackName + "::" + s.Output }
func (s StackOutput) Dependency() string { return s.StackName }

// DeployOnly reports true when the referenced stack is outside the plan, so its
// outputs may not exist yet.
func (s StackOutput) DeployOnly(rc Context) bool {
	return rc.InScope != nil && !rc.InScope(s.StackName)
}

func (s StackOutput) Resolve(ctx context.Context, rc Context) (string, error) {
	if rc.Lookup == nil {
		return "", fmt.Errorf("stack %s is not known", s.StackName)
	}
	target, ok := rc.Lookup(s.StackName)
	if !ok {
		return "", fmt.Errorf("stack %s is not part of the project", s.StackName)
	}
	return outputValue(ctx, rc, target, s.Output)
}

// StackOutputExternal reads an output of a stack not managed by this project.
// Arg form: "<external-name>::<OutputKey> [profile]".
type StackOutputExternal struct {
	StackName string
	Output    string
	Profile   string
}

func (s StackOutputExternal) Tag() string { return TagStackOutputExternal }

func (s StackOutputExternal) Arg() string {
	out := s.StackName + "::" + s.Output
	if s.Profile != "" {
		out += " " + s.Profile
	}
	return out
}

func (s StackOutputExternal) Resolve(ctx context.Context, rc Context) (string, error) {
	target := rc.Target
	target.StackName = s.StackName
	if s.Profile != "" {
		target.Profile = s.Profile
		target.IAMRole = ""
	}
	return outputValue(ctx, rc, target, s.Output)
}

func outputValue(ctx context.Context, rc Context, target cloud.Target, key string) (string, error) {
	if rc.Outputs == nil {
		return "", fmt.Errorf("no provider available to read outputs of %s", target.StackName)
	}
	outputs, err := rc.Outputs.StackOutputs(ctx, target)
	if err != nil {
		return "", err
	}
	val, ok := outputs[key]
	if !ok {
		return "", fmt.Errorf("stack %s has no output %q", target.StackName, key)
	}
	return val, nil
}

// EnvironmentVariable reads a process environment variable.
type EnvironmentVariable struct {
	Name string
}

func (e EnvironmentVariable) Tag() string { return TagEnvironmentVariable }
func (e EnvironmentVariable) Arg() string { return e.Name }

func (e EnvironmentVariable) Resolve(_ context.Context, rc Context) (string, error) {
	lookup := rc.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	val, ok := lookup(e.Name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", e.Name)
	}
	return val, nil
}

// FileContents reads a file relative to the project root, optionally selecting
// a value from a YAML/JSON document with a jq query. Arg form: "<path>[::<query>]".
type FileContents struct {
	Path  string
	Query string
	code  *gojq.Code
}

func (f FileContents) Tag() string { return TagFileContents }

func (f FileContents) Arg() string {
	if f.Query == "" {
		return f.Path
	}
	return f.Path + "::" + f.Query
}

func (f FileContents) Resolve(ctx context.Context, rc Context) (string, error) {
	path := f.Path
	if !filepath.IsAbs(path) && rc.Dir != "" {
		path = filepath.Join(rc.Dir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if f.code == nil {
		return string(raw), nil
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("parse %s: %w", f.Path, err)
	}
	iter := f.code.RunWithContext(ctx, doc)
	v, ok := iter.Next()
	if !ok {
		return "", fmt.Errorf("query %q on %s produced no result", f.Query, f.Path)
	}
	if err, isErr := v.(error); isErr {
		return "", fmt.Errorf("query %q on %s: %w", f.Query, f.Path, err)
	}
	switch typed := v.(type) {
	case nil:
		return "", fmt.Errorf("query %q on %s produced null", f.Query, f.Path)
	case string:
		return typed, nil
	default:
		out, err := json.Marshal(typed)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// Secret reads a value from the configured secret store. Arg form:
// "[backend:]path[#key]".
type Secret struct {
	Ref string
}

func (s Secret) Tag() string { return TagSecret }
func (s Secret) Arg() string { return s.Ref }

func (s Secret) Resolve(ctx context.Context, rc Context) (string, error) {
	if rc.Secrets == nil {
		return "", fmt.Errorf("no secret backends are configured")
	}
	return rc.Secrets.Secret(ctx, s.Ref)
}

// CanonicalName normalizes a stack reference: "dev/vpc.yaml" and "/dev/vpc" both
// name "dev/vpc".
func CanonicalName(raw string) string {
	name := filepath.ToSlash(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, "./")
	name = strings.Trim(name, "/")
	for _, ext := range []string{".yaml", ".yml"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// Dependencies returns the project stacks the given resolvers refer to.
func Dependencies(rs []Resolver) []string {
	var out []string
	for _, r := range rs {
		if d, ok := r.(Dependent); ok {
			out = append(out, d.Dependency())
		}
	}
	return out
}
