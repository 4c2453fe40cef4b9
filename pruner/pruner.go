// Package pruner implements per-package, per-tag version retention: for
// every marker-tagged version group, the newest prune_keep versions are
// kept and everything older is unpublished, except a version still
// referenced by some active consumer repo's current pin, which survives
// regardless of age.
package pruner

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkglab/pkglab/internal/dcontext"
	"github.com/pkglab/pkglab/pkgstore"
	"github.com/pkglab/pkglab/pkgversion"
	"github.com/pkglab/pkglab/repostate"
)

// Pruner prunes marker versions from store directly through the same
// read-check-mutate-write path the registry's unpublish-of-version HTTP
// handler uses (pkgstore.Store.UnpublishVersions), rather than looping back
// through HTTP: a prune run is local maintenance on the same storage root
// the daemon already owns exclusively (spec.md 3, "the registry process
// exclusively owns everything under the storage root").
type Pruner struct {
	Store *pkgstore.Store
	Repos *repostate.Store
	Keep  int
}

// New returns a Pruner retaining keep versions per (package, tag) group.
func New(store *pkgstore.Store, repos *repostate.Store, keep int) *Pruner {
	return &Pruner{Store: store, Repos: repos, Keep: keep}
}

// PackageResult is the outcome of pruning one package.
type PackageResult struct {
	Name    string
	Pruned  []string
	Skipped []string // candidates that would have pruned but are still referenced
}

// versionInfo is one marker version's group key and recency ordinal, used
// to sort a tag group newest-first.
type versionInfo struct {
	version   string
	tag       string
	timestamp int64
}

// Plan computes which of doc's marker versions are prunable: for each tag
// group, every version past the newest keep, except those in referenced
// (the set of versions some active consumer repo currently pins).
func Plan(doc pkgstore.Packument, keep int, referenced map[string]bool) (prune, skip []string) {
	groups := map[string][]versionInfo{}
	for v := range doc.Versions() {
		if !pkgversion.IsMarker(v) {
			continue
		}
		ts, _ := pkgversion.ExtractTimestamp(v)
		tag := pkgversion.ExtractTag(v)
		groups[tag] = append(groups[tag], versionInfo{version: v, tag: tag, timestamp: ts})
	}

	tags := make([]string, 0, len(groups))
	for tag := range groups {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		group := groups[tag]
		sort.Slice(group, func(i, j int) bool {
			if group[i].timestamp != group[j].timestamp {
				return group[i].timestamp > group[j].timestamp
			}
			return group[i].version < group[j].version
		})

		for i, info := range group {
			if i < keep {
				continue
			}
			if referenced[info.version] {
				skip = append(skip, info.version)
				continue
			}
			prune = append(prune, info.version)
		}
	}

	sort.Strings(prune)
	sort.Strings(skip)
	return prune, skip
}

// referencedVersions returns the set of versions of name pinned as
// Current by some active consumer repo.
func (p *Pruner) referencedVersions(name string) (map[string]bool, error) {
	active, err := p.Repos.Active()
	if err != nil {
		return nil, fmt.Errorf("pruner: load active repos: %w", err)
	}
	out := map[string]bool{}
	for _, st := range active {
		if link, ok := st.Packages[name]; ok && link.Current != "" {
			out[link.Current] = true
		}
	}
	return out, nil
}

// PrunePackage prunes a single package's marker versions in place.
func (p *Pruner) PrunePackage(ctx context.Context, name string) (PackageResult, error) {
	doc, ok := p.Store.Get(name)
	if !ok {
		return PackageResult{}, fmt.Errorf("pruner: package %s not found", name)
	}

	referenced, err := p.referencedVersions(name)
	if err != nil {
		return PackageResult{}, err
	}

	prune, skip := Plan(doc, p.Keep, referenced)
	result := PackageResult{Name: name, Skipped: skip}
	if len(prune) == 0 {
		return result, nil
	}

	err = p.Store.WithLock(name, func() error {
		cur, ok := p.Store.Get(name)
		if !ok {
			return fmt.Errorf("pruner: package %s disappeared mid-prune", name)
		}
		next := cur.Clone()
		for _, v := range prune {
			next.DeleteVersion(v)
			for tag, dv := range next.DistTags() {
				if dv == v {
					next.DeleteDistTag(tag)
				}
			}
		}

		if err := p.Store.UnpublishVersionsLocked(name, cur.Rev(), next); err != nil {
			return err
		}
		result.Pruned = prune
		dcontext.GetLoggerWithFields(ctx, map[interface{}]interface{}{
			"package": name,
			"count":   len(prune),
		}).Info("pruner: pruned versions")
		return nil
	})
	if err != nil {
		return PackageResult{}, err
	}
	return result, nil
}

// PruneAll prunes every locally-known package, skipping (and logging) any
// individual failure rather than aborting the whole run.
func (p *Pruner) PruneAll(ctx context.Context) []PackageResult {
	names := p.Store.Names()
	results := make([]PackageResult, 0, len(names))
	for _, name := range names {
		res, err := p.PrunePackage(ctx, name)
		if err != nil {
			dcontext.GetLoggerWithField(ctx, "package", name).WithError(err).Warn("pruner: skipping package")
			continue
		}
		results = append(results, res)
	}
	return results
}
