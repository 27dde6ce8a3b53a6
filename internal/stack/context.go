package stack

import (
	"maps"
	"path/filepath"
	"strings"
)

// DefaultConcurrency bounds per-batch parallelism when no limit is configured.
const DefaultConcurrency = 4

// RunOptions are per-invocation overrides.
type RunOptions struct {
	Profile     string `json:"profile,omitempty"`
	Region      string `json:"region,omitempty"`
	IAMRole     string `json:"iamRole,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

// RequestContext carries everything the CLI decided for one invocation. Build
// it with NewRequestContext and treat it as a value.
type RequestContext struct {
	// CommandPath selects the stacks: a stack ("dev/vpc"), a directory ("dev")
	// or the whole project ("" or ".").
	CommandPath        string         `json:"commandPath"`
	ProjectPath        string         `json:"projectPath"`
	UserVariables      map[string]any `json:"userVariables,omitempty"`
	Options            RunOptions     `json:"options"`
	OutputFormat       string         `json:"outputFormat,omitempty"`
	IgnoreDependencies bool           `json:"ignoreDependencies,omitempty"`
}

// NewRequestContext returns a normalized copy of rc that shares no mutable
// state with the caller.
func NewRequestContext(rc RequestContext) RequestContext {
	out := rc
	out.CommandPath = normalizeCommandPath(rc.CommandPath)
	if strings.TrimSpace(out.ProjectPath) == "" {
		out.ProjectPath = "."
	}
	if abs, err := filepath.Abs(out.ProjectPath); err == nil {
		out.ProjectPath = abs
	}
	out.UserVariables = cloneVars(rc.UserVariables)
	if out.Options.Concurrency <= 0 {
		out.Options.Concurrency = DefaultConcurrency
	}
	if strings.TrimSpace(out.OutputFormat) == "" {
		out.OutputFormat = "yaml"
	}
	return out
}

func normalizeCommandPath(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, configDirName+"/")
	p = strings.Trim(p, "/")
	if p == "." || p == configDirName {
		return ""
	}
	return p
}

func cloneVars(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneVars(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = cloneValue(typed[i])
		}
		return out
	case map[string]string:
		return maps.Clone(typed)
	default:
		return v
	}
}
