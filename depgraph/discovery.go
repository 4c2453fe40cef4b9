// Package depgraph discovers workspace packages, builds the dependency
// graph between them, and computes the three-phase publish cascade over
// explicit targets: initial scope, dependent expansion, and closure under
// dependencies.
package depgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Tool names a workspace-aware package manager.
type Tool string

const (
	ToolNPM  Tool = "npm"
	ToolPnpm Tool = "pnpm"
	ToolYarn Tool = "yarn"
	ToolBun  Tool = "bun"
)

// Package is one workspace member.
type Package struct {
	Name    string
	Dir     string
	Private bool
	// Deps is the union of dependencies, peerDependencies, and
	// optionalDependencies as declared in package.json, spec to raw string.
	Deps map[string]string
	Raw  map[string]interface{}
}

// Workspace is the result of discovery: the tool managing it, its root, and
// every member package found under its workspace globs.
type Workspace struct {
	Root     string
	Tool     Tool
	Packages []*Package
}

// Discover reads root's package.json and, if present, pnpm-workspace.yaml,
// to determine the workspace tool and glob patterns, then expands those
// globs and loads each matching package.json.
func Discover(root string) (*Workspace, error) {
	rootPkg, err := readPackageJSON(filepath.Join(root, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("depgraph: read root package.json: %w", err)
	}

	tool := ToolNPM
	var patterns []string

	if pnpmPatterns, ok, err := readPnpmWorkspace(root); err != nil {
		return nil, err
	} else if ok {
		tool = ToolPnpm
		patterns = pnpmPatterns
	} else if ws, ok := rootPkg["workspaces"]; ok {
		tool = ToolNPM
		patterns = workspacesField(ws)
	}

	if len(patterns) == 0 {
		return &Workspace{Root: root, Tool: tool}, nil
	}

	dirs, err := expandGlobs(root, patterns)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{Root: root, Tool: tool}
	for _, dir := range dirs {
		pkgPath := filepath.Join(dir, "package.json")
		doc, err := readPackageJSON(pkgPath)
		if err != nil {
			continue
		}
		name, _ := doc["name"].(string)
		if name == "" {
			continue
		}
		ws.Packages = append(ws.Packages, &Package{
			Name:    name,
			Dir:     dir,
			Private: isPrivate(doc),
			Deps:    collectDeps(doc),
			Raw:     doc,
		})
	}
	sort.Slice(ws.Packages, func(i, j int) bool { return ws.Packages[i].Name < ws.Packages[j].Name })
	return ws, nil
}

func readPackageJSON(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func readPnpmWorkspace(root string) ([]string, bool, error) {
	path := filepath.Join(root, "pnpm-workspace.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var doc struct {
		Packages []string `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("depgraph: parse pnpm-workspace.yaml: %w", err)
	}
	return doc.Packages, true, nil
}

func workspacesField(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, p := range val {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]interface{}:
		return workspacesField(val["packages"])
	default:
		return nil
	}
}

// expandGlobs resolves workspace glob patterns (e.g. "packages/*") against
// root into a deduplicated, sorted list of directories that contain a
// package.json. Negated patterns (prefixed with "!") exclude matches.
func expandGlobs(root string, patterns []string) ([]string, error) {
	included := map[string]bool{}
	excluded := map[string]bool{}

	for _, pattern := range patterns {
		negate := false
		p := pattern
		if len(p) > 0 && p[0] == '!' {
			negate = true
			p = p[1:]
		}

		matches, err := doublestar.Glob(os.DirFS(root), filepath.ToSlash(p))
		if err != nil {
			return nil, fmt.Errorf("depgraph: glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			abs := filepath.Join(root, filepath.FromSlash(m))
			info, err := os.Stat(abs)
			if err != nil || !info.IsDir() {
				continue
			}
			if negate {
				excluded[abs] = true
			} else {
				included[abs] = true
			}
		}
	}

	out := make([]string, 0, len(included))
	for dir := range included {
		if excluded[dir] {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
			out = append(out, dir)
		}
	}
	sort.Strings(out)
	return out, nil
}

func isPrivate(doc map[string]interface{}) bool {
	b, _ := doc["private"].(bool)
	return b
}

func collectDeps(doc map[string]interface{}) map[string]string {
	out := map[string]string{}
	for _, field := range []string{"dependencies", "peerDependencies", "optionalDependencies"} {
		m, ok := doc[field].(map[string]interface{})
		if !ok {
			continue
		}
		for name, spec := range m {
			if s, ok := spec.(string); ok {
				out[name] = s
			}
		}
	}
	return out
}
