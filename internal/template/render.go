// File: internal/template/render.go
// Brief: Renders stack templates into provider documents.

// Package template turns a stack's template reference into the document sent
// to the provider. Files ending in .tmpl or .gotmpl are executed with
// text/template and the sprig function set; anything else is passed through.
package template

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

// Input describes one render.
type Input struct {
	// Path is absolute or relative to the renderer's template directory.
	Path       string
	StackName  string
	Parameters map[string]string
	UserData   map[string]any
}

// Data is the value templates execute against.
type Data struct {
	StackName  string
	Parameters map[string]string
	UserData   map[string]any
	Var        map[string]any
}

// Renderer renders templates from one project.
type Renderer struct {
	dir  string
	vars map[string]any
}

// NewRenderer returns a renderer resolving relative paths under dir and
// exposing vars as .Var.
func NewRenderer(dir string, vars map[string]any) *Renderer {
	return &Renderer{dir: dir, vars: vars}
}

// Render produces the document for in. The result must parse as YAML or JSON.
func (r *Renderer) Render(in Input) (string, error) {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return "", fmt.Errorf("stack %s has no template_path", in.StackName)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	out := string(raw)
	if isTemplated(path) {
		out, err = r.execute(filepath.Base(path), string(raw), Data{
			StackName:  in.StackName,
			Parameters: nonNil(in.Parameters),
			UserData:   in.UserData,
			Var:        r.vars,
		})
		if err != nil {
			return "", err
		}
	}
	var doc any
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		return "", fmt.Errorf("template %s does not produce valid YAML/JSON: %w", in.Path, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return "", fmt.Errorf("template %s must produce a mapping document", in.Path)
	}
	return out, nil
}

func (r *Renderer) execute(name, body string, data Data) (string, error) {
	funcs := sprig.TxtFuncMap()
	funcs["toYaml"] = toYAML
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func toYAML(v any) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}

func isTemplated(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".tmpl" || ext == ".gotmpl"
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
