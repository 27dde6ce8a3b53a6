// File: internal/stack/select.go
// Brief: Command path selection and scope expansion.

package stack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/strata/internal/resolver"
)

// ErrNoStacks is returned when a command path matches no stack.
var ErrNoStacks = errors.New("no stacks match")

// Selection is the set of stacks a plan operates on.
type Selection struct {
	Stacks []*Stack
	// Reasons records why each stack was selected, e.g. "explicit:path:dev" or
	// "expand:dep-of:dev/app".
	Reasons map[string][]string
}

// Names returns the selected stack names in sorted order.
func (s Selection) Names() []string {
	out := make([]string, 0, len(s.Stacks))
	for _, st := range s.Stacks {
		out = append(out, st.Name)
	}
	return out
}

// Contains reports whether name was selected.
func (s Selection) Contains(name string) bool {
	_, ok := s.Reasons[name]
	return ok
}

// Select resolves a command path against the project. A stack path
// ("dev/vpc" or "dev/vpc.yaml") selects that stack; a directory selects every
// stack beneath it; "" selects the whole project. Unless ignoreDeps is set, the
// selection is expanded with transitive dependencies, or with transitive
// dependents when reverse is set.
func Select(p *Project, commandPath string, reverse, ignoreDeps bool) (Selection, error) {
	sel := Selection{Reasons: map[string][]string{}}
	path := normalizeCommandPath(commandPath)

	if path == "" {
		for _, name := range p.Names() {
			sel.Reasons[name] = append(sel.Reasons[name], "default:all")
		}
	} else if s, ok := p.Stack(path); ok {
		sel.Reasons[s.Name] = append(sel.Reasons[s.Name], "explicit:stack:"+s.Name)
	} else {
		prefix := strings.TrimSuffix(resolver.CanonicalName(path), "/") + "/"
		for _, name := range p.Names() {
			if strings.HasPrefix(name, prefix) {
				sel.Reasons[name] = append(sel.Reasons[name], "explicit:path:"+strings.TrimSuffix(prefix, "/"))
			}
		}
	}
	if len(sel.Reasons) == 0 {
		return Selection{}, fmt.Errorf("%w %q", ErrNoStacks, commandPath)
	}

	if !ignoreDeps {
		all := make([]*Stack, 0, len(p.Stacks))
		for _, name := range p.Names() {
			all = append(all, p.Stacks[name])
		}
		g := newGraph(all)
		explicit := make([]string, 0, len(sel.Reasons))
		for _, name := range p.Names() {
			if _, ok := sel.Reasons[name]; ok {
				explicit = append(explicit, name)
			}
		}
		for _, name := range explicit {
			related, reason := g.DepsOf(name), "expand:dep-of:"
			if reverse {
				related, reason = g.DependentsOf(name), "expand:dependent-of:"
			}
			for _, dep := range related {
				if _, ok := sel.Reasons[dep]; ok && !strings.HasPrefix(sel.Reasons[dep][0], "expand:") {
					continue
				}
				sel.Reasons[dep] = append(sel.Reasons[dep], reason+name)
			}
		}
	}

	for _, name := range p.Names() {
		if _, ok := sel.Reasons[name]; ok {
			sel.Stacks = append(sel.Stacks, p.Stacks[name])
		}
	}
	return sel, nil
}
