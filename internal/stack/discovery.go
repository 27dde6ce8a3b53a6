// File: internal/stack/discovery.go
// Brief: Filesystem discovery of config.yaml and stack files.

package stack

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	configDirName    = "config"
	templatesDirName = "templates"
	configFileName   = "config.yaml"
)

type discoveredStack struct {
	Name string
	Path string
	// Dir is the slash-separated directory relative to config/ ("" for the root).
	Dir string
}

type discovery struct {
	Root      string
	ConfigDir string
	// Configs maps a relative directory to its config.yaml path.
	Configs map[string]string
	Stacks  []discoveredStack
}

func discover(root string) (*discovery, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	configDir := filepath.Join(absRoot, configDirName)
	info, err := os.Stat(configDir)
	if err != nil {
		return nil, fmt.Errorf("no %s directory in project %s: %w", configDirName, absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", configDir)
	}
	d := &discovery{
		Root:      absRoot,
		ConfigDir: configDir,
		Configs:   map[string]string{},
	}
	err = filepath.WalkDir(configDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			if path != configDir && strings.HasPrefix(entry.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		rel, err := filepath.Rel(configDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		dir := filepath.ToSlash(filepath.Dir(rel))
		if dir == "." {
			dir = ""
		}
		if entry.Name() == configFileName {
			d.Configs[dir] = path
			return nil
		}
		d.Stacks = append(d.Stacks, discoveredStack{
			Name: strings.TrimSuffix(rel, ext),
			Path: path,
			Dir:  dir,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(d.Stacks, func(i, j int) bool { return d.Stacks[i].Name < d.Stacks[j].Name })
	return d, nil
}

// configChain returns the relative directories from the root down to dir.
func configChain(dir string) []string {
	chain := []string{""}
	if dir == "" {
		return chain
	}
	parts := strings.Split(dir, "/")
	for i := range parts {
		chain = append(chain, strings.Join(parts[:i+1], "/"))
	}
	return chain
}
