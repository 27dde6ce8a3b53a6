package secretstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// fileBackend serves secrets from a YAML document; paths walk nested maps.
type fileBackend struct {
	path string
	data map[string]interface{}
}

func newFileBackend(path string, baseDir string) (*fileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file backend path is required")
	}
	if baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	path = filepath.Clean(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file %q: %w", path, err)
	}
	data := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse secrets file %q: %w", path, err)
	}
	return &fileBackend{path: path, data: data}, nil
}

func (b *fileBackend) Lookup(_ context.Context, secretPath string) (string, error) {
	path, key := splitSecretPath(secretPath)
	if path == "" {
		return "", fmt.Errorf("secret path is required")
	}
	var current interface{} = b.data
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("secret path %q does not resolve to a value in %s", path, b.path)
		}
		val, ok := m[part]
		if !ok {
			return "", fmt.Errorf("secret path %q not found in %s", path, b.path)
		}
		current = val
	}
	if m, ok := current.(map[string]interface{}); ok {
		return selectSecretValue(m, key, "value")
	}
	if key != "" {
		return "", fmt.Errorf("secret path %q is a value, not a map with key %q", path, key)
	}
	if current == nil {
		return "", fmt.Errorf("secret path %q resolves to empty value in %s", path, b.path)
	}
	return coerceStringValue(current)
}

func splitSecretPath(raw string) (string, string) {
	path, key, _ := strings.Cut(strings.TrimSpace(raw), "#")
	return strings.Trim(strings.TrimSpace(path), "/"), strings.TrimSpace(key)
}

func selectSecretValue(data map[string]interface{}, key string, fallback string) (string, error) {
	if data == nil {
		return "", fmt.Errorf("secret data is empty")
	}
	for _, candidate := range []string{key, fallback} {
		if candidate == "" {
			continue
		}
		if val, ok := data[candidate]; ok {
			return coerceStringValue(val)
		}
	}
	if len(data) == 1 {
		for _, val := range data {
			return coerceStringValue(val)
		}
	}
	if key == "" {
		return "", fmt.Errorf("secret value is ambiguous; specify a key")
	}
	return "", fmt.Errorf("secret key %q not found", key)
}

func coerceStringValue(val interface{}) (string, error) {
	switch typed := val.(type) {
	case string:
		return typed, nil
	case []byte:
		return string(typed), nil
	case bool, float64, int, int64:
		return fmt.Sprint(typed), nil
	default:
		return "", fmt.Errorf("secret value must be a string")
	}
}
