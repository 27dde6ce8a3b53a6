// File: internal/actions/diff.go
// Brief: Compare a rendered stack with what is deployed.

package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/example/strata/internal/stack"
	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"
)

// noEchoValue is what the provider returns for NoEcho parameters.
const noEchoValue = "****"

// DiffResult is the payload of the diff action.
type DiffResult struct {
	StackName string `json:"stackName"`
	Deployed  bool   `json:"deployed"`
	Changed   bool   `json:"changed"`
	// Template is a unified diff of the deployed and generated templates.
	Template string `json:"template,omitempty"`
	// Parameters is a unified diff of the deployed and generated parameters.
	Parameters string `json:"parameters,omitempty"`
}

func (e *executors) diff(ctx context.Context, s *stack.Stack, params map[string]string) (any, error) {
	body, err := e.render(s, params)
	if err != nil {
		return nil, err
	}
	c, err := e.client(ctx, s)
	if err != nil {
		return nil, err
	}
	state, err := c.Describe(ctx, s.ExternalName)
	if err != nil {
		return nil, err
	}
	out := DiffResult{StackName: s.ExternalName}
	var deployedBody string
	deployedParams := map[string]string{}
	if state != nil {
		out.Deployed = true
		deployedBody, err = c.DeployedTemplate(ctx, s.ExternalName)
		if err != nil {
			return nil, err
		}
		for k, v := range state.Parameters {
			deployedParams[k] = v
		}
	}

	from := "deployed"
	if !out.Deployed {
		from = "/dev/null"
	}
	out.Template, err = unifiedDiff(normalizeDocument(deployedBody), normalizeDocument(body), from, "generated")
	if err != nil {
		return nil, fmt.Errorf("template diff: %w", err)
	}
	out.Parameters, err = unifiedDiff(parameterLines(deployedParams, nil), parameterLines(params, deployedParams), from, "generated")
	if err != nil {
		return nil, fmt.Errorf("parameter diff: %w", err)
	}
	out.Changed = out.Template != "" || out.Parameters != ""
	return out, nil
}

func unifiedDiff(previous, next, fromFile, toFile string) (string, error) {
	if previous == next {
		return "", nil
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(next),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(ud)
}

// normalizeDocument re-serializes a YAML or JSON template with sorted keys so
// that formatting differences between the deployed and local copy vanish.
// Documents using short-form intrinsic tags are compared verbatim.
func normalizeDocument(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(body), &node); err != nil || hasCustomTags(&node) {
		return body
	}
	out, err := sigsyaml.YAMLToJSON([]byte(body))
	if err != nil {
		return body
	}
	normalized, err := sigsyaml.JSONToYAML(out)
	if err != nil {
		return body
	}
	return string(normalized)
}

func hasCustomTags(n *yaml.Node) bool {
	if n == nil {
		return false
	}
	if tag := n.Tag; strings.HasPrefix(tag, "!") && !strings.HasPrefix(tag, "!!") {
		return true
	}
	for _, c := range n.Content {
		if hasCustomTags(c) {
			return true
		}
	}
	return false
}

// parameterLines renders params as sorted key=value lines. Keys whose value in
// masked is the NoEcho mask are masked too, so they never show as changes.
func parameterLines(params map[string]string, masked map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v := params[k]
		if masked != nil && masked[k] == noEchoValue {
			v = noEchoValue
		}
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	return b.String()
}
