package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// ErrUnknownTag is returned by Parse for a tag outside the supported set.
var ErrUnknownTag = errors.New("unknown resolver")

// Parse binds a resolver from its config tag (with or without the leading "!")
// and argument. Malformed arguments are rejected here rather than at evaluation.
func Parse(tag string, arg string) (Resolver, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "!")
	arg = strings.TrimSpace(arg)
	switch tag {
	case TagStatic:
		return Static{Value: arg}, nil
	case TagStackOutput:
		name, output, err := splitOutputArg(arg)
		if err != nil {
			return nil, fmt.Errorf("!%s %q: %w", tag, arg, err)
		}
		return StackOutput{StackName: CanonicalName(name), Output: output}, nil
	case TagStackOutputExternal:
		fields := strings.Fields(arg)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, fmt.Errorf("!%s %q: expected \"<stack>::<output> [profile]\"", tag, arg)
		}
		name, output, err := splitOutputArg(fields[0])
		if err != nil {
			return nil, fmt.Errorf("!%s %q: %w", tag, arg, err)
		}
		out := StackOutputExternal{StackName: name, Output: output}
		if len(fields) == 2 {
			out.Profile = fields[1]
		}
		return out, nil
	case TagEnvironmentVariable:
		if arg == "" || strings.ContainsAny(arg, " =") {
			return nil, fmt.Errorf("!%s %q: expected a variable name", tag, arg)
		}
		return EnvironmentVariable{Name: arg}, nil
	case TagFileContents:
		path, query, _ := strings.Cut(arg, "::")
		path = strings.TrimSpace(path)
		query = strings.TrimSpace(query)
		if path == "" {
			return nil, fmt.Errorf("!%s %q: path is required", tag, arg)
		}
		out := FileContents{Path: path, Query: query}
		if query != "" {
			parsed, err := gojq.Parse(query)
			if err != nil {
				return nil, fmt.Errorf("!%s %q: invalid query: %w", tag, arg, err)
			}
			code, err := gojq.Compile(parsed)
			if err != nil {
				return nil, fmt.Errorf("!%s %q: invalid query: %w", tag, arg, err)
			}
			out.code = code
		}
		return out, nil
	case TagSecret:
		if arg == "" {
			return nil, fmt.Errorf("!%s: reference is required", tag)
		}
		return Secret{Ref: arg}, nil
	default:
		return nil, fmt.Errorf("%w !%s", ErrUnknownTag, tag)
	}
}

func splitOutputArg(arg string) (string, string, error) {
	name, output, ok := strings.Cut(arg, "::")
	name = strings.TrimSpace(name)
	output = strings.TrimSpace(output)
	if !ok || name == "" || output == "" {
		return "", "", fmt.Errorf("expected \"<stack>::<output>\"")
	}
	return name, output, nil
}
