package resolver

import (
	"fmt"
	"strings"
	"unicode"
)

// PlaceholderType selects what a resolver that cannot or should not be
// evaluated is replaced with.
type PlaceholderType int

const (
	// PlaceholderNone disables substitution: every failure is reported.
	PlaceholderNone PlaceholderType = iota
	// PlaceholderAlphanum substitutes a plain alphanumeric token, safe for any
	// parameter type the provider validates.
	PlaceholderAlphanum
	// PlaceholderExplicit substitutes a token naming the resolver and argument.
	PlaceholderExplicit
)

func (p PlaceholderType) String() string {
	switch p {
	case PlaceholderAlphanum:
		return "alphanum"
	case PlaceholderExplicit:
		return "explicit"
	default:
		return "none"
	}
}

// ParsePlaceholderType parses "none", "alphanum" or "explicit".
func ParsePlaceholderType(raw string) (PlaceholderType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "strict":
		return PlaceholderNone, nil
	case "alphanum", "alphanumeric":
		return PlaceholderAlphanum, nil
	case "explicit":
		return PlaceholderExplicit, nil
	default:
		return PlaceholderNone, fmt.Errorf("unknown placeholder type %q (want none, alphanum or explicit)", raw)
	}
}

// Placeholder renders the deterministic stand-in for r.
func Placeholder(r Resolver, mode PlaceholderType) string {
	switch mode {
	case PlaceholderAlphanum:
		return alphanumOnly(camel(r.Tag()) + r.Arg())
	case PlaceholderExplicit:
		return fmt.Sprintf("{ !%s(%s) }", r.Tag(), r.Arg())
	default:
		return ""
	}
}

func camel(tag string) string {
	var b strings.Builder
	for _, part := range strings.Split(tag, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func alphanumOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, s)
}
