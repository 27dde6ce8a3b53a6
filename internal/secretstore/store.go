// File: internal/secretstore/store.go
// Brief: Secret backends behind the !secret parameter resolver.

// Package secretstore looks up secret values referenced by stack parameters.
package secretstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Backend looks up a secret by backend-relative path.
type Backend interface {
	Lookup(ctx context.Context, path string) (string, error)
}

// Options customize store construction.
type Options struct {
	// BaseDir anchors relative file backend paths (normally the project root).
	BaseDir string
}

// Store dispatches secret references to named backends and caches values for
// the lifetime of the store. Safe for concurrent use.
type Store struct {
	backends       map[string]Backend
	defaultBackend string

	mu    sync.Mutex
	cache map[string]string
}

// New builds a store from config.
func New(cfg Config, opts Options) (*Store, error) {
	backends := make(map[string]Backend, len(cfg.Backends))
	for name, bcfg := range cfg.Backends {
		backendName := strings.TrimSpace(name)
		if backendName == "" {
			return nil, fmt.Errorf("secret backend name cannot be empty")
		}
		backendType := strings.ToLower(strings.TrimSpace(bcfg.Type))
		switch backendType {
		case "file":
			backend, err := newFileBackend(bcfg.Path, opts.BaseDir)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", backendName, err)
			}
			backends[backendName] = backend
		case "vault":
			backend, err := newVaultBackend(bcfg)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", backendName, err)
			}
			backends[backendName] = backend
		case "":
			return nil, fmt.Errorf("backend %q missing type", backendName)
		default:
			return nil, fmt.Errorf("backend %q has unsupported type %q", backendName, backendType)
		}
	}
	def := strings.TrimSpace(cfg.Default)
	if def == "" && len(backends) == 1 {
		for name := range backends {
			def = name
		}
	}
	if def != "" {
		if _, ok := backends[def]; !ok {
			return nil, fmt.Errorf("default secret backend %q is not configured", def)
		}
	}
	return &Store{backends: backends, defaultBackend: def, cache: map[string]string{}}, nil
}

// Secret resolves a reference of the form "[backend:]path[#key]".
func (s *Store) Secret(ctx context.Context, raw string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("no secret backends are configured")
	}
	ref, err := ParseRef(raw, s.defaultBackend)
	if err != nil {
		return "", err
	}
	key := ref.String()
	s.mu.Lock()
	cached, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}
	backend := s.backends[ref.Backend]
	if backend == nil {
		return "", fmt.Errorf("secret backend %q is not configured (have: %s)", ref.Backend, strings.Join(s.BackendNames(), ", "))
	}
	path := ref.Path
	if ref.Key != "" {
		path += "#" + ref.Key
	}
	val, err := backend.Lookup(ctx, path)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", key, err)
	}
	s.mu.Lock()
	s.cache[key] = val
	s.mu.Unlock()
	return val, nil
}

// BackendNames lists configured backend names.
func (s *Store) BackendNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ref is a parsed secret reference.
type Ref struct {
	Backend string
	Path    string
	Key     string
}

func (r Ref) String() string {
	out := r.Backend + ":" + r.Path
	if r.Key != "" {
		out += "#" + r.Key
	}
	return out
}

// ParseRef parses "[backend:]path[#key]". The default backend is used when the
// reference does not name one.
func ParseRef(raw string, defaultBackend string) (Ref, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Ref{}, fmt.Errorf("secret reference is empty")
	}
	var ref Ref
	if idx := strings.Index(value, ":"); idx >= 0 {
		ref.Backend = strings.TrimSpace(value[:idx])
		value = value[idx+1:]
	}
	if ref.Backend == "" {
		ref.Backend = strings.TrimSpace(defaultBackend)
	}
	if ref.Backend == "" {
		return Ref{}, fmt.Errorf("secret reference %q is missing a backend and no default is configured", raw)
	}
	path, key, _ := strings.Cut(value, "#")
	ref.Path = strings.Trim(strings.TrimSpace(path), "/")
	ref.Key = strings.TrimSpace(key)
	if ref.Path == "" {
		return Ref{}, fmt.Errorf("secret reference %q is missing a path", raw)
	}
	return ref, nil
}
