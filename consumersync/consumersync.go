// Package consumersync propagates newly-published workspace versions into
// active consumer repositories: rewriting manifests and catalogs, patching
// lockfiles where a package-manager-specific fast path exists, invoking the
// right package manager to install, and rolling back every write in a repo
// if the final install fails. Each repo is synced independently and a
// failure in one never aborts the fan-out across the rest, unlike
// publisher.Publisher.Execute, which cancels and rolls back the whole plan
// on its first failure.
package consumersync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pkglab/pkglab/internal/dcontext"
	"github.com/pkglab/pkglab/publisher"
	"github.com/pkglab/pkglab/repostate"
)

// defaultConcurrency bounds how many repos are synced simultaneously.
const defaultConcurrency = 8

// Tool names the package manager a consumer repo uses.
type Tool string

const (
	ToolNPM  Tool = "npm"
	ToolPnpm Tool = "pnpm"
	ToolYarn Tool = "yarn"
	ToolBun  Tool = "bun"
)

// WorkItem is one package this repo needs updated to a new version.
type WorkItem struct {
	Name       string
	NewVersion string
}

// RepoResult is the outcome of syncing one repo.
type RepoResult struct {
	Path      string
	Synced    []string
	Err       error
	RolledBack bool
	// InstallOutput carries the tail of the failing installer's stderr, for
	// the caller's "preserve stderr head of the failing tool" user-visible
	// failure behavior.
	InstallOutput string
}

// Result is the outcome of a full fan-out across every active consumer.
type Result struct {
	Repos []RepoResult
}

// Syncer fans a publisher.Plan out to every active consumer repo that
// references one of its packages.
type Syncer struct {
	Repos       *repostate.Store
	Concurrency int
}

// New returns a Syncer backed by repos.
func New(repos *repostate.Store) *Syncer {
	return &Syncer{Repos: repos, Concurrency: defaultConcurrency}
}

// SyncPlan fans plan out to every active repo that consumes at least one of
// its packages. Repos are synced concurrently, bounded by s.Concurrency; one
// repo's failure never blocks or cancels another's sync.
func (s *Syncer) SyncPlan(ctx context.Context, plan publisher.Plan) (Result, error) {
	states, err := s.Repos.Active()
	if err != nil {
		return Result{}, fmt.Errorf("consumersync: load active repos: %w", err)
	}

	planVersions := make(map[string]string, len(plan.Entries))
	for _, e := range plan.Entries {
		planVersions[e.Name] = e.Version
	}

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	results := make([]RepoResult, len(states))
	var wg sync.WaitGroup

	for i, st := range states {
		i, st := i, st

		items := workItemsFor(st, planVersions)
		if len(items) == 0 {
			results[i] = RepoResult{Path: st.Path}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = RepoResult{Path: st.Path, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.syncOne(ctx, st, items)
		}()
	}
	wg.Wait()

	return Result{Repos: results}, nil
}

// workItemsFor intersects plan's newly-published packages with the set this
// repo already links, per spec.md 4.7's "select packages that appear in
// both" derivation.
func workItemsFor(st *repostate.State, planVersions map[string]string) []WorkItem {
	var out []WorkItem
	names := make([]string, 0, len(st.Packages))
	for name := range st.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, ok := planVersions[name]
		if !ok {
			continue
		}
		out = append(out, WorkItem{Name: name, NewVersion: v})
	}
	return out
}

// syncOne performs the full write-then-install-then-commit-or-rollback
// sequence for a single repo.
func (s *Syncer) syncOne(ctx context.Context, st *repostate.State, items []WorkItem) RepoResult {
	logger := dcontext.GetLoggerWithField(ctx, "repo", st.Path)

	writes, err := applyWrites(st.Path, st, items)
	if err != nil {
		logger.WithError(err).Error("consumersync: manifest/catalog write failed")
		rollbackWrites(writes)
		return RepoResult{Path: st.Path, Err: err}
	}

	tool := DetectTool(st.Path)
	installErr, output := runInstall(ctx, tool, st.Path, items, st)
	if installErr != nil {
		logger.WithError(installErr).Warn("consumersync: install failed, rolling back")
		rollbackWrites(writes)
		return RepoResult{Path: st.Path, Err: installErr, RolledBack: true, InstallOutput: output}
	}

	for _, item := range items {
		link := st.Packages[item.Name]
		link.Current = item.NewVersion
		st.Packages[item.Name] = link
	}
	if err := s.Repos.SaveByPath(st); err != nil {
		logger.WithError(err).Error("consumersync: save repo state after successful sync")
	}

	synced := make([]string, 0, len(items))
	for _, item := range items {
		synced = append(synced, item.Name+"@"+item.NewVersion)
	}
	return RepoResult{Path: st.Path, Synced: synced}
}
