package depgraph

import "sort"

// SkippedDependent records a transitive dependent that was pruned out of
// the cascade by the consumer filter, for the user-facing log.
type SkippedDependent struct {
	Name string
	Via  string // the changed target whose dependent expansion reached it
}

// Cascade is the result of the three-phase scope computation.
type Cascade struct {
	Scope             []string
	SkippedDependents []SkippedDependent
}

// Plan computes the publish cascade: start from targets and their
// transitive workspace deps, expand to changed targets' transitive
// dependents (filtered by consumerDeps if non-empty), then close the whole
// scope under workspace dependencies until it stops growing.
//
// changed identifies which of targets actually have a new fingerprint (or
// were force-published); only those expand to dependents. consumerDeps is
// the union of dependencies declared across all active consumer repos; when
// non-empty, a dependent is kept only if it is itself a consumer dependency
// or already in scope, and everything else dropped is recorded in
// SkippedDependents.
func (g *Graph) Plan(targets []string, changed map[string]bool, consumerDeps map[string]bool) Cascade {
	scope := map[string]bool{}

	// Phase 1: initial scope.
	for _, t := range targets {
		scope[t] = true
		for _, dep := range g.TransitiveDeps(t) {
			scope[dep] = true
		}
	}

	// Phase 2: expand dependents of changed targets.
	var skipped []SkippedDependent
	filterActive := len(consumerDeps) > 0
	for _, t := range sortedKeys(targets) {
		if !changed[t] {
			continue
		}
		for _, dependent := range g.TransitiveDependents(t) {
			if scope[dependent] {
				continue
			}
			if filterActive && !consumerDeps[dependent] {
				skipped = append(skipped, SkippedDependent{Name: dependent, Via: t})
				continue
			}
			scope[dependent] = true
		}
	}

	// Phase 3: close under dependencies. Non-private packages in scope must
	// have all their workspace deps in scope too; repeat to a fixed point.
	for {
		added := false
		for name := range snapshotKeys(scope) {
			pkg, ok := g.packages[name]
			if !ok || pkg.Private {
				continue
			}
			for _, dep := range g.edges[name] {
				if !scope[dep] {
					scope[dep] = true
					added = true
				}
			}
		}
		if !added {
			break
		}
	}

	sort.Slice(skipped, func(i, j int) bool {
		if skipped[i].Name != skipped[j].Name {
			return skipped[i].Name < skipped[j].Name
		}
		return skipped[i].Via < skipped[j].Via
	})

	return Cascade{Scope: setToSortedSlice(scope), SkippedDependents: skipped}
}

func sortedKeys(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func snapshotKeys(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
