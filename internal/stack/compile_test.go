package stack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/strata/internal/resolver"
	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func resolverArgs(rs []resolver.Resolver) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Tag()+" "+r.Arg())
	}
	return out
}

func writeDemoProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "config.yaml"), `
project_code: proj
region: eu-west-1
stack_tags:
  owner: platform
`)
	writeFile(t, filepath.Join(root, "config", "dev", "config.yaml"), `
region: us-east-1
stack_tags:
  env: {{ .var.env }}
`)
	writeFile(t, filepath.Join(root, "config", "dev", "vpc.yaml"), `
template_path: vpc.yaml
parameters:
  Cidr: 10.0.0.0/16
timeout: 30
`)
	writeFile(t, filepath.Join(root, "config", "dev", "app.yaml"), `
template_path: app.yaml.tmpl
dependencies: [dev/vpc.yaml]
parameters:
  VpcId: !stack_output dev/vpc.yaml::VpcId
  Subnets:
    - subnet-a
    - !environment_variable SUBNET_B
protected: true
`)
	return root
}

func TestLoadProject_MergesInheritedConfig(t *testing.T) {
	root := writeDemoProject(t)
	rc := NewRequestContext(RequestContext{ProjectPath: root, UserVariables: map[string]any{"env": "staging"}})

	p, err := LoadProject(rc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"dev/app", "dev/vpc"}, p.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	if p.Code != "proj" {
		t.Fatalf("code=%q", p.Code)
	}

	app, _ := p.Stack("dev/app.yaml")
	if app == nil {
		t.Fatalf("dev/app not found")
	}
	if app.ExternalName != "proj-dev-app" || app.Target.StackName != "proj-dev-app" {
		t.Fatalf("externalName=%q target=%q", app.ExternalName, app.Target.StackName)
	}
	if app.Target.Region != "us-east-1" {
		t.Fatalf("region=%q", app.Target.Region)
	}
	if diff := cmp.Diff(map[string]string{"owner": "platform", "env": "staging"}, app.Tags); diff != "" {
		t.Fatalf("tags (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"dev/vpc"}, app.Dependencies); diff != "" {
		t.Fatalf("deps (-want +got):\n%s", diff)
	}
	if !app.Protected {
		t.Fatalf("expected dev/app to be protected")
	}
	if want := filepath.Join(root, "templates", "app.yaml.tmpl"); app.TemplatePath != want {
		t.Fatalf("templatePath=%q want=%q", app.TemplatePath, want)
	}
	if diff := cmp.Diff([]string{"stack_output dev/vpc::VpcId"}, resolverArgs(app.Parameters["VpcId"])); diff != "" {
		t.Fatalf("VpcId (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"static subnet-a", "environment_variable SUBNET_B"}, resolverArgs(app.Parameters["Subnets"])); diff != "" {
		t.Fatalf("Subnets (-want +got):\n%s", diff)
	}

	vpc, _ := p.Stack("dev/vpc")
	if vpc.Timeout != 30*time.Minute {
		t.Fatalf("timeout=%s", vpc.Timeout)
	}
	if vpc.Protected {
		t.Fatalf("dev/vpc should not be protected")
	}
}

func TestLoadProject_RunOptionsOverrideTarget(t *testing.T) {
	root := writeDemoProject(t)
	rc := NewRequestContext(RequestContext{
		ProjectPath:   root,
		UserVariables: map[string]any{"env": "prod"},
		Options:       RunOptions{Region: "ap-southeast-2", Profile: "ops"},
	})
	p, err := LoadProject(rc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, name := range p.Names() {
		s := p.Stacks[name]
		if s.Target.Region != "ap-southeast-2" || s.Target.Profile != "ops" {
			t.Fatalf("%s target=%+v", name, s.Target)
		}
	}
}

func TestLoadProject_MissingVariableFails(t *testing.T) {
	root := writeDemoProject(t)
	_, err := LoadProject(NewRequestContext(RequestContext{ProjectPath: root}))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadProject_AggregatesProblems(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "a.yaml"), `
parameters:
  Name: x
`)
	writeFile(t, filepath.Join(root, "config", "b.yaml"), `
template_path: b.yaml
parameters:
  Bad: !bogus value
`)
	_, err := LoadProject(NewRequestContext(RequestContext{ProjectPath: root}))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Fatalf("expected 2 problems, got %v", err)
	}
	if !errors.Is(err, resolver.ErrUnknownTag) {
		t.Fatalf("expected unknown tag error in %v", err)
	}
}

func TestLoadProject_RejectsStackKeysInGroupConfig(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "dev", "config.yaml"), `
template_path: nope.yaml
`)
	writeFile(t, filepath.Join(root, "config", "dev", "a.yaml"), `
template_path: a.yaml
`)
	_, err := LoadProject(NewRequestContext(RequestContext{ProjectPath: root}))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadProject_UnknownAndSelfDependency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "a.yaml"), `
template_path: a.yaml
dependencies: [a]
`)
	writeFile(t, filepath.Join(root, "config", "b.yaml"), `
template_path: b.yaml
dependencies: [missing]
`)
	_, err := LoadProject(NewRequestContext(RequestContext{ProjectPath: root}))
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Fatalf("expected 2 problems, got %v", err)
	}
}

func TestParseTimeout(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "15", want: 15 * time.Minute},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "-3", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseTimeout(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got=%s err=%v want=%s", tc.in, got, err, tc.want)
		}
	}
}

func TestNewRequestContext_Normalizes(t *testing.T) {
	vars := map[string]any{"nested": map[string]any{"k": "v"}}
	rc := NewRequestContext(RequestContext{CommandPath: "./config/dev/", UserVariables: vars})
	if rc.CommandPath != "dev" {
		t.Fatalf("commandPath=%q", rc.CommandPath)
	}
	if rc.Options.Concurrency != DefaultConcurrency || rc.OutputFormat != "yaml" {
		t.Fatalf("defaults not applied: %+v", rc)
	}
	vars["nested"].(map[string]any)["k"] = "changed"
	if rc.UserVariables["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("user variables share state with the caller")
	}
	if !filepath.IsAbs(rc.ProjectPath) {
		t.Fatalf("projectPath=%q", rc.ProjectPath)
	}
}
