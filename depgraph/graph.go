package depgraph

import "sort"

// Graph is the dependency graph over a workspace's packages, with edges
// restricted to targets that are themselves workspace members.
type Graph struct {
	packages map[string]*Package
	// edges[name] holds the direct workspace dependency names of name.
	edges map[string][]string

	transitiveDeps       map[string]map[string]bool
	transitiveDependents map[string]map[string]bool
}

// Build constructs a Graph over ws's packages and precomputes transitive
// dependency/dependent sets once.
func Build(ws *Workspace) *Graph {
	g := &Graph{
		packages: map[string]*Package{},
		edges:    map[string][]string{},
	}
	for _, p := range ws.Packages {
		g.packages[p.Name] = p
	}
	for _, p := range ws.Packages {
		var deps []string
		for dep := range p.Deps {
			if _, ok := g.packages[dep]; ok {
				deps = append(deps, dep)
			}
		}
		sort.Strings(deps)
		g.edges[p.Name] = deps
	}

	g.precompute()
	return g
}

// Has reports whether name is a workspace member.
func (g *Graph) Has(name string) bool {
	_, ok := g.packages[name]
	return ok
}

// Package returns the package named name, if any.
func (g *Graph) Package(name string) (*Package, bool) {
	p, ok := g.packages[name]
	return p, ok
}

// DirectDeps returns the direct workspace dependencies of name.
func (g *Graph) DirectDeps(name string) []string {
	out := append([]string(nil), g.edges[name]...)
	return out
}

// TransitiveDeps returns every workspace package name reachable from name by
// following dependency edges (name excluded).
func (g *Graph) TransitiveDeps(name string) []string {
	return setToSortedSlice(g.transitiveDeps[name])
}

// TransitiveDependents returns every workspace package name that depends on
// name, directly or indirectly (name excluded).
func (g *Graph) TransitiveDependents(name string) []string {
	return setToSortedSlice(g.transitiveDependents[name])
}

func setToSortedSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// precompute fills transitiveDeps via one fresh DFS per package, with no
// memoization shared between packages (cycle-safe: a node
// already on the current DFS stack is skipped rather than recursed into,
// so a dependency cycle yields a finite, if mutually-overlapping, closure
// instead of infinite recursion) and derives transitiveDependents as the
// inverse relation.
func (g *Graph) precompute() {
	g.transitiveDeps = map[string]map[string]bool{}
	g.transitiveDependents = map[string]map[string]bool{}

	names := make([]string, 0, len(g.packages))
	for name := range g.packages {
		names = append(names, name)
		g.transitiveDependents[name] = map[string]bool{}
	}
	sort.Strings(names)

	for _, name := range names {
		g.transitiveDeps[name] = g.depsOf(name, map[string]bool{})
	}
	for name, deps := range g.transitiveDeps {
		for dep := range deps {
			g.transitiveDependents[dep][name] = true
		}
	}
}

func (g *Graph) depsOf(name string, onStack map[string]bool) map[string]bool {
	onStack[name] = true
	defer delete(onStack, name)

	out := map[string]bool{}
	for _, dep := range g.edges[name] {
		if onStack[dep] {
			continue
		}
		out[dep] = true
		for d := range g.depsOf(dep, onStack) {
			out[d] = true
		}
	}
	return out
}
