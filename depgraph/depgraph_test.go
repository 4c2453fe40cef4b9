package depgraph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePackageJSON(t *testing.T, dir string, doc map[string]interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644))
}

func buildFixtureWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	writePackageJSON(t, root, map[string]interface{}{
		"name":       "root",
		"workspaces": []interface{}{"packages/*"},
	})
	writePackageJSON(t, filepath.Join(root, "packages", "a"), map[string]interface{}{
		"name": "a", "version": "1.0.0",
	})
	writePackageJSON(t, filepath.Join(root, "packages", "b"), map[string]interface{}{
		"name": "b", "version": "1.0.0",
		"dependencies": map[string]interface{}{"a": "workspace:*"},
	})
	writePackageJSON(t, filepath.Join(root, "packages", "c"), map[string]interface{}{
		"name": "c", "version": "1.0.0",
		"dependencies": map[string]interface{}{"b": "workspace:*"},
	})
	ws, err := Discover(root)
	require.NoError(t, err)
	return ws
}

func TestDiscoverFindsNPMWorkspaceMembers(t *testing.T) {
	ws := buildFixtureWorkspace(t)
	require.Equal(t, ToolNPM, ws.Tool)
	names := make([]string, 0, len(ws.Packages))
	for _, p := range ws.Packages {
		names = append(names, p.Name)
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, names)
}

func TestDiscoverPnpmWorkspace(t *testing.T) {
	root := t.TempDir()
	writePackageJSON(t, root, map[string]interface{}{"name": "root"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "pnpm-workspace.yaml"), []byte("packages:\n  - packages/*\n"), 0o644))
	writePackageJSON(t, filepath.Join(root, "packages", "x"), map[string]interface{}{"name": "x"})

	ws, err := Discover(root)
	require.NoError(t, err)
	require.Equal(t, ToolPnpm, ws.Tool)
	require.Len(t, ws.Packages, 1)
	require.Equal(t, "x", ws.Packages[0].Name)
}

func TestGraphTransitiveDepsAndDependents(t *testing.T) {
	g := Build(buildFixtureWorkspace(t))

	require.ElementsMatch(t, []string{"a"}, g.TransitiveDeps("b"))
	require.ElementsMatch(t, []string{"a", "b"}, g.TransitiveDeps("c"))
	require.Empty(t, g.TransitiveDeps("a"))

	require.ElementsMatch(t, []string{"b", "c"}, g.TransitiveDependents("a"))
	require.ElementsMatch(t, []string{"c"}, g.TransitiveDependents("b"))
	require.Empty(t, g.TransitiveDependents("c"))
}

func TestTopoSortOrdersDepsBeforeDependents(t *testing.T) {
	g := Build(buildFixtureWorkspace(t))
	order, err := g.TopoSort([]string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	root := t.TempDir()
	writePackageJSON(t, root, map[string]interface{}{"name": "root", "workspaces": []interface{}{"packages/*"}})
	writePackageJSON(t, filepath.Join(root, "packages", "x"), map[string]interface{}{
		"name": "x", "dependencies": map[string]interface{}{"y": "workspace:*"},
	})
	writePackageJSON(t, filepath.Join(root, "packages", "y"), map[string]interface{}{
		"name": "y", "dependencies": map[string]interface{}{"x": "workspace:*"},
	})
	ws, err := Discover(root)
	require.NoError(t, err)
	g := Build(ws)

	_, err = g.TopoSort([]string{"x", "y"})
	require.Error(t, err)
	var cycleErr *ErrCycleDetected
	require.ErrorAs(t, err, &cycleErr)
}

func TestPlanInitialScopeIncludesTransitiveDeps(t *testing.T) {
	g := Build(buildFixtureWorkspace(t))
	cascade := g.Plan([]string{"c"}, map[string]bool{}, nil)
	require.ElementsMatch(t, []string{"a", "b", "c"}, cascade.Scope)
}

func TestPlanExpandsDependentsOfChangedTargets(t *testing.T) {
	g := Build(buildFixtureWorkspace(t))
	cascade := g.Plan([]string{"a"}, map[string]bool{"a": true}, nil)
	require.ElementsMatch(t, []string{"a", "b", "c"}, cascade.Scope)
}

func TestPlanFiltersDependentsByConsumerSet(t *testing.T) {
	g := Build(buildFixtureWorkspace(t))
	cascade := g.Plan([]string{"a"}, map[string]bool{"a": true}, map[string]bool{"b": true})
	require.ElementsMatch(t, []string{"a", "b"}, cascade.Scope)
	require.Len(t, cascade.SkippedDependents, 1)
	require.Equal(t, "c", cascade.SkippedDependents[0].Name)
}
