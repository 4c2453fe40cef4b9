// Package publisher executes a publish plan against a local registry:
// rewriting workspace dependency ranges to the plan's shared version,
// packing each package into a tarball, uploading them with bounded
// concurrency, and rolling back already-published entries if any upload
// fails.
package publisher

import (
	"sort"

	"github.com/pkglab/pkglab/depgraph"
)

var rewrittenDepFields = []string{"dependencies", "peerDependencies", "optionalDependencies"}

// Entry is one package's slice of a Plan: its workspace location, the
// version every publish in the plan shares, and the dependency ranges
// rewritten to point at that version.
type Entry struct {
	Name          string
	Dir           string
	Version       string
	RewrittenDeps map[string]string
}

// Plan is an ordered, version-pinned set of packages ready to pack and
// upload. Every entry shares Timestamp as part of its synthesized version.
type Plan struct {
	Timestamp int64
	Version   string
	Entries   []Entry
}

// Build constructs a Plan for scope (already topologically ordered by the
// caller via depgraph.TopoSort) against g, assigning every entry the same
// version. For every workspace dependency name appearing in a scoped
// package's dependencies/peerDependencies/optionalDependencies, the
// declared range is rewritten to the exact shared version — this includes
// every "workspace:*"-family spec, since all of them resolve to "whatever
// the workspace sibling currently is" and that is now `version`. External
// dependency ranges are left untouched.
func Build(g *depgraph.Graph, order []string, version string, timestamp int64) Plan {
	inScope := make(map[string]bool, len(order))
	for _, n := range order {
		inScope[n] = true
	}

	entries := make([]Entry, 0, len(order))
	for _, name := range order {
		pkg, ok := g.Package(name)
		if !ok {
			continue
		}
		rewritten := map[string]string{}
		for dep := range pkg.Deps {
			if inScope[dep] || g.Has(dep) {
				rewritten[dep] = version
			}
		}
		entries = append(entries, Entry{
			Name:          name,
			Dir:           pkg.Dir,
			Version:       version,
			RewrittenDeps: rewritten,
		})
	}

	return Plan{Timestamp: timestamp, Version: version, Entries: entries}
}

// SortedDepNames returns an entry's rewritten dependency names in
// deterministic order, for logging and test assertions.
func (e Entry) SortedDepNames() []string {
	out := make([]string, 0, len(e.RewrittenDeps))
	for name := range e.RewrittenDeps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
