// File: internal/stack/compile.go
// Brief: Load config/ into a validated Project.

package stack

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/example/strata/internal/cloud"
	"github.com/example/strata/internal/resolver"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var externalNamePattern = regexp.MustCompile(`^[a-zA-Z][-a-zA-Z0-9]*$`)

const maxExternalNameLen = 128

// LoadProject discovers and compiles every stack under rc.ProjectPath/config.
// Problems are collected across all files and returned as a single
// *ConfigError.
func LoadProject(rc RequestContext) (*Project, error) {
	d, err := discover(rc.ProjectPath)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	data := renderData(rc.UserVariables)

	var problems *multierror.Error
	configs := map[string]*fileConfig{}
	dirs := make([]string, 0, len(d.Configs))
	for dir := range d.Configs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		path := d.Configs[dir]
		cfg, err := readConfigFile(path, data)
		if err != nil {
			problems = multierror.Append(problems, err)
			continue
		}
		if err := checkGroupConfig(dir, path, cfg); err != nil {
			problems = multierror.Append(problems, err)
			continue
		}
		configs[dir] = cfg
	}

	project := &Project{Root: d.Root, Stacks: map[string]*Stack{}}
	if root := configs[""]; root != nil {
		project.Code = root.ProjectCode
		if root.Secrets != nil {
			project.Secrets = *root.Secrets
		}
	}

	for _, ds := range d.Stacks {
		merged := &fileConfig{}
		for _, dir := range configChain(ds.Dir) {
			mergeInherited(merged, configs[dir])
		}
		own, err := readConfigFile(ds.Path, data)
		if err != nil {
			problems = multierror.Append(problems, err)
			continue
		}
		if own.Secrets != nil {
			problems = multierror.Append(problems, fmt.Errorf("%s: secrets may only be set in %s/%s", ds.Name, configDirName, configFileName))
		}
		mergeStackFile(merged, own)
		s, err := compileStack(d.Root, ds, merged)
		if err != nil {
			problems = multierror.Append(problems, err)
			continue
		}
		applyOverrides(s, rc.Options)
		project.Stacks[s.Name] = s
	}
	if err := problems.ErrorOrNil(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	if err := validateProject(project); err != nil {
		return nil, err
	}
	return project, nil
}

// NewProject assembles a project from already compiled stacks and validates
// their dependencies.
func NewProject(root string, stacks ...*Stack) (*Project, error) {
	p := &Project{Root: root, Stacks: map[string]*Stack{}}
	for _, s := range stacks {
		if s == nil {
			continue
		}
		name := resolver.CanonicalName(s.Name)
		if _, dup := p.Stacks[name]; dup {
			return nil, &ConfigError{Err: fmt.Errorf("duplicate stack %s", name)}
		}
		s.Name = name
		if s.ExternalName == "" {
			s.ExternalName = strings.ReplaceAll(name, "/", "-")
		}
		if s.Target.StackName == "" {
			s.Target.StackName = s.ExternalName
		}
		s.Dependencies = stackDependencies(s.Dependencies, s.Parameters)
		p.Stacks[name] = s
	}
	if err := validateProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

func validateProject(p *Project) error {
	var problems *multierror.Error
	for _, name := range p.Names() {
		s := p.Stacks[name]
		for _, dep := range s.Dependencies {
			if dep == s.Name {
				problems = multierror.Append(problems, fmt.Errorf("%s: stack depends on itself", s.Name))
				continue
			}
			if _, ok := p.Stacks[dep]; !ok {
				problems = multierror.Append(problems, fmt.Errorf("%s: unknown dependency %q", s.Name, dep))
			}
		}
	}
	if err := problems.ErrorOrNil(); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

func checkGroupConfig(dir, path string, cfg *fileConfig) error {
	var stackOnly []string
	if cfg.TemplatePath != "" {
		stackOnly = append(stackOnly, "template_path")
	}
	if cfg.StackName != "" {
		stackOnly = append(stackOnly, "stack_name")
	}
	if len(cfg.Parameters) > 0 {
		stackOnly = append(stackOnly, "parameters")
	}
	if cfg.Protected != nil {
		stackOnly = append(stackOnly, "protected")
	}
	if cfg.Timeout != "" {
		stackOnly = append(stackOnly, "timeout")
	}
	if len(stackOnly) > 0 {
		return fmt.Errorf("%s: %s are only valid in stack files", path, strings.Join(stackOnly, ", "))
	}
	if dir != "" && cfg.Secrets != nil {
		return fmt.Errorf("%s: secrets may only be set in %s/%s", path, configDirName, configFileName)
	}
	return nil
}

func compileStack(root string, ds discoveredStack, cfg *fileConfig) (*Stack, error) {
	var problems *multierror.Error
	fail := func(format string, args ...any) {
		problems = multierror.Append(problems, fmt.Errorf("%s: %s", ds.Name, fmt.Sprintf(format, args...)))
	}

	s := &Stack{
		Name:              ds.Name,
		TemplateBucket:    cfg.TemplateBucketName,
		TemplateKeyPrefix: cfg.ProjectCode,
		UserData:          cfg.UserData,
		Tags:              cfg.StackTags,
		SourcePath:        ds.Path,
	}
	if cfg.Protected != nil {
		s.Protected = *cfg.Protected
	}

	if strings.TrimSpace(cfg.TemplatePath) == "" {
		fail("template_path is required")
	} else {
		s.TemplatePath = templatePath(root, cfg.TemplatePath)
	}

	s.ExternalName = cfg.StackName
	if s.ExternalName == "" {
		s.ExternalName = externalName(cfg.ProjectCode, ds.Name)
	}
	if !externalNamePattern.MatchString(s.ExternalName) || len(s.ExternalName) > maxExternalNameLen {
		fail("stack name %q is not a valid CloudFormation stack name", s.ExternalName)
	}

	timeout, err := parseTimeout(cfg.Timeout)
	if err != nil {
		fail("%v", err)
	}
	s.Timeout = timeout

	s.Parameters = map[string][]resolver.Resolver{}
	names := make([]string, 0, len(cfg.Parameters))
	for name := range cfg.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node := cfg.Parameters[name]
		rs, err := parseParameter(&node)
		if err != nil {
			problems = multierror.Append(problems, fmt.Errorf("%s: parameter %s: %w", ds.Name, name, err))
			continue
		}
		s.Parameters[name] = rs
	}

	declared := make([]string, 0, len(cfg.Dependencies))
	for _, dep := range cfg.Dependencies {
		dep = resolver.CanonicalName(dep)
		if dep == "" {
			fail("empty dependency")
			continue
		}
		declared = append(declared, dep)
	}
	s.Dependencies = stackDependencies(declared, s.Parameters)

	s.Target = cloud.Target{
		StackName: s.ExternalName,
		Region:    cfg.Region,
		Profile:   cfg.Profile,
		IAMRole:   cfg.IAMRole,
	}
	if err := problems.ErrorOrNil(); err != nil {
		return nil, err
	}
	return s, nil
}

func stackDependencies(declared []string, params map[string][]resolver.Resolver) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(name string) {
		name = resolver.CanonicalName(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, dep := range declared {
		add(dep)
	}
	for _, rs := range params {
		for _, dep := range resolver.Dependencies(rs) {
			add(dep)
		}
	}
	sort.Strings(out)
	return out
}

func parseParameter(node *yaml.Node) ([]resolver.Resolver, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		r, err := parseScalar(node)
		if err != nil {
			return nil, err
		}
		return []resolver.Resolver{r}, nil
	case yaml.SequenceNode:
		out := make([]resolver.Resolver, 0, len(node.Content))
		for i, item := range node.Content {
			r, err := parseScalar(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, r)
		}
		return out, nil
	case yaml.AliasNode:
		if node.Alias != nil {
			return parseParameter(node.Alias)
		}
	}
	return nil, fmt.Errorf("line %d: expected a scalar or a list of scalars", node.Line)
}

func parseScalar(node *yaml.Node) (resolver.Resolver, error) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: nested values are not supported", node.Line)
	}
	tag := node.ShortTag()
	switch {
	case strings.HasPrefix(tag, "!!"):
		if tag == "!!null" {
			return resolver.Static{}, nil
		}
		return resolver.Static{Value: node.Value}, nil
	case strings.HasPrefix(tag, "!"):
		r, err := resolver.Parse(tag, node.Value)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return r, nil
	default:
		return resolver.Static{Value: node.Value}, nil
	}
}

// parseTimeout accepts a Go duration ("45m") or a bare number of minutes.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if minutes, err := strconv.Atoi(raw); err == nil {
		if minutes < 0 {
			return 0, fmt.Errorf("timeout %q must not be negative", raw)
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout %q must not be negative", raw)
	}
	return d, nil
}

func externalName(projectCode, name string) string {
	base := strings.ReplaceAll(name, "/", "-")
	base = strings.ReplaceAll(base, "_", "-")
	if projectCode == "" {
		return base
	}
	return projectCode + "-" + base
}

func templatePath(root, raw string) string {
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Join(root, templatesDirName, filepath.FromSlash(raw))
}

func renderData(vars map[string]any) map[string]any {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return map[string]any{
		"var":                  vars,
		"environment_variable": env,
	}
}

// readConfigFile renders path as a text/template and decodes the YAML result.
func readConfigFile(path string, data map[string]any) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tpl, err := template.New(filepath.Base(path)).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg := &fileConfig{}
	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(&buf)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
