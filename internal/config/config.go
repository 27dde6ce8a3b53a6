// File: internal/config/config.go
// Brief: Global CLI options and user variable parsing.

// Package config defines the flag plumbing shared by every strata command,
// translating Cobra/Viper flag values into a strongly typed struct and then into
// the stack.RequestContext a Plan consumes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/strata/internal/stack"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"
)

// Output formats accepted by --output.
const (
	OutputYAML = "yaml"
	OutputJSON = "json"
	OutputText = "text"
)

// Options holds the global CLI configuration.
type Options struct {
	ProjectPath        string
	Vars               []string
	VarFiles           []string
	Output             string
	IgnoreDependencies bool
	NoPlaceholders     bool
	Concurrency        int
	Profile            string
	Region             string
	IAMRole            string
	QPS                float64
	LogLevel           string
	NoColor            bool
	History            bool
	Yes                bool

	// Variables is the merged result of VarFiles and Vars, set by Validate.
	Variables map[string]any
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		ProjectPath: ".",
		Output:      OutputYAML,
		Concurrency: stack.DefaultConcurrency,
		QPS:         5,
		LogLevel:    "info",
	}
}

// AddFlags binds configuration flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.PersistentFlags())
}

// BindFlags attaches the global flags to fs and returns their names.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVar(&o.ProjectPath, "project-path", o.ProjectPath, "Project directory containing config/ and templates/")
	names = append(names, "project-path")
	fs.StringArrayVar(&o.Vars, "var", nil, "User variable as key=value (dotted keys nest); repeat for multiple")
	names = append(names, "var")
	fs.StringArrayVar(&o.VarFiles, "var-file", nil, "YAML file of user variables; repeat to merge in order")
	names = append(names, "var-file")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output format: yaml, json or text")
	names = append(names, "output")
	fs.BoolVar(&o.IgnoreDependencies, "ignore-dependencies", false, "Run only the selected stacks, without their dependencies or dependents")
	names = append(names, "ignore-dependencies")
	fs.BoolVar(&o.NoPlaceholders, "no-placeholders", false, "Fail instead of substituting placeholders for unresolved parameters")
	names = append(names, "no-placeholders")
	fs.IntVar(&o.Concurrency, "concurrency", o.Concurrency, "Maximum stacks processed in parallel within a batch")
	names = append(names, "concurrency")
	fs.StringVar(&o.Profile, "profile", "", "AWS shared config profile overriding stack config")
	names = append(names, "profile")
	fs.StringVar(&o.Region, "region", "", "AWS region overriding stack config")
	names = append(names, "region")
	fs.StringVar(&o.IAMRole, "iam-role", "", "IAM role ARN to assume overriding stack config")
	names = append(names, "iam-role")
	fs.Float64Var(&o.QPS, "qps", o.QPS, "Provider requests per second per connection (0 disables throttling)")
	names = append(names, "qps")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn or error")
	names = append(names, "log-level")
	fs.BoolVar(&o.NoColor, "no-color", false, "Disable colored output")
	names = append(names, "no-color")
	fs.BoolVar(&o.History, "history", false, "Record the run in .strata/history.sqlite")
	names = append(names, "history")
	fs.BoolVarP(&o.Yes, "yes", "y", false, "Skip confirmation prompts for launch and delete")
	names = append(names, "yes")
	return names
}

// Validate normalizes paths and loads user variables.
func (o *Options) Validate() error {
	path, err := expandPath(o.ProjectPath)
	if err != nil {
		return fmt.Errorf("invalid --project-path %q: %w", o.ProjectPath, err)
	}
	o.ProjectPath = path

	switch strings.ToLower(strings.TrimSpace(o.Output)) {
	case OutputYAML, "yml":
		o.Output = OutputYAML
	case OutputJSON:
		o.Output = OutputJSON
	case OutputText, "table":
		o.Output = OutputText
	default:
		return fmt.Errorf("invalid --output %q (expected yaml, json or text)", o.Output)
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("--concurrency cannot be negative")
	}
	if o.QPS < 0 {
		return fmt.Errorf("--qps cannot be negative")
	}

	vars := map[string]any{}
	for _, file := range o.VarFiles {
		loaded, err := loadVarFile(file)
		if err != nil {
			return err
		}
		mergeVars(vars, loaded)
	}
	for _, raw := range o.Vars {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("invalid --var %q (expected key=value)", raw)
		}
		setVar(vars, strings.Split(key, "."), value)
	}
	o.Variables = vars
	return nil
}

// RequestContext converts validated options into the request for commandPath.
func (o *Options) RequestContext(commandPath string) stack.RequestContext {
	return stack.NewRequestContext(stack.RequestContext{
		CommandPath:   commandPath,
		ProjectPath:   o.ProjectPath,
		UserVariables: o.Variables,
		Options: stack.RunOptions{
			Profile:     o.Profile,
			Region:      o.Region,
			IAMRole:     o.IAMRole,
			Concurrency: o.Concurrency,
		},
		OutputFormat:       o.Output,
		IgnoreDependencies: o.IgnoreDependencies,
	})
}

func expandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "."
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

func loadVarFile(path string) (map[string]any, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid --var-file %q: %w", path, err)
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read --var-file: %w", err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse --var-file %s: %w", path, err)
	}
	return out, nil
}

// mergeVars deep-merges src into dst; later values win.
func mergeVars(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeVars(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

func setVar(vars map[string]any, path []string, value string) {
	cur := vars
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}
