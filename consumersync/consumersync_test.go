package consumersync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pkglab/pkglab/publisher"
	"github.com/pkglab/pkglab/repostate"
)

func TestWorkItemsForIntersectsPlanAndRepoPackages(t *testing.T) {
	st := &repostate.State{
		Packages: map[string]repostate.Link{
			"@acme/widget": {Current: "1.0.0"},
			"@acme/other":  {Current: "1.0.0"},
		},
	}
	planVersions := map[string]string{"@acme/widget": "1.1.0", "@acme/unrelated": "9.9.9"}

	items := workItemsFor(st, planVersions)
	require.Len(t, items, 1)
	require.Equal(t, "@acme/widget", items[0].Name)
	require.Equal(t, "1.1.0", items[0].NewVersion)
}

func TestSyncPlanSkipsReposThatDontConsumeAnyPublishedPackage(t *testing.T) {
	reposDir := t.TempDir()
	repos := repostate.New(reposDir)

	repoPath := filepath.Join(t.TempDir(), "consumer")
	st := &repostate.State{
		Path:     repoPath,
		Active:   true,
		Packages: map[string]repostate.Link{"@acme/unrelated": {Current: "1.0.0"}},
	}
	require.NoError(t, repos.SaveByPath(st))

	syncer := New(repos)
	result, err := syncer.SyncPlan(context.Background(), publisher.Plan{
		Entries: []publisher.Entry{{Name: "@acme/widget", Version: "1.1.0"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Repos, 1)
	require.NoError(t, result.Repos[0].Err)
	require.Empty(t, result.Repos[0].Synced)
}

func TestSyncPlanWithNoActiveReposReturnsEmptyResult(t *testing.T) {
	repos := repostate.New(t.TempDir())
	syncer := New(repos)

	result, err := syncer.SyncPlan(context.Background(), publisher.Plan{
		Entries: []publisher.Entry{{Name: "@acme/widget", Version: "1.1.0"}},
	})
	require.NoError(t, err)
	require.Empty(t, result.Repos)
}
