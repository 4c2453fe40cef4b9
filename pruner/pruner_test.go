package pruner

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkglab/pkglab/pkgstore"
	"github.com/pkglab/pkglab/pkgversion"
	"github.com/pkglab/pkglab/repostate"
)

func publishMarkerVersion(t *testing.T, store *pkgstore.Store, name string, codec *pkgversion.Codec, at time.Time, tag string) string {
	t.Helper()
	version, err := codec.Synthesize(at, tag)
	require.NoError(t, err)

	req := pkgstore.PublishRequest{
		Name:    name,
		Version: version,
		VersionDoc: map[string]interface{}{
			"name":    name,
			"version": version,
		},
		Attachments: map[string]pkgstore.Attachment{
			name + "-" + version + ".tgz": {
				ContentType: "application/octet-stream",
				DataBase64:  base64.StdEncoding.EncodeToString([]byte("fake-tarball")),
			},
		},
	}
	if tag != "" {
		req.DistTags = map[string]string{tag: version}
	}
	require.NoError(t, store.Publish(req))
	return version
}

func TestPlanKeepsNewestAndPrunesOlderUnreferenced(t *testing.T) {
	codec := pkgversion.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store := pkgstore.New(t.TempDir())
	var versions []string
	for i := 0; i < 5; i++ {
		versions = append(versions, publishMarkerVersion(t, store, "@acme/widget", codec, base.Add(time.Duration(i)*time.Second), ""))
	}

	doc, ok := store.Get("@acme/widget")
	require.True(t, ok)

	prune, skip := Plan(doc, 2, map[string]bool{})
	require.Empty(t, skip)
	require.ElementsMatch(t, versions[:3], prune)
}

func TestPlanSkipsReferencedVersionsRegardlessOfAge(t *testing.T) {
	codec := pkgversion.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store := pkgstore.New(t.TempDir())
	var versions []string
	for i := 0; i < 4; i++ {
		versions = append(versions, publishMarkerVersion(t, store, "@acme/widget", codec, base.Add(time.Duration(i)*time.Second), ""))
	}
	doc, ok := store.Get("@acme/widget")
	require.True(t, ok)

	referenced := map[string]bool{versions[0]: true}
	prune, skip := Plan(doc, 1, referenced)
	require.Contains(t, skip, versions[0])
	require.NotContains(t, prune, versions[0])
}

func TestPlanGroupsByTagIndependently(t *testing.T) {
	codec := pkgversion.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store := pkgstore.New(t.TempDir())
	var devVersions, betaVersions []string
	for i := 0; i < 3; i++ {
		devVersions = append(devVersions, publishMarkerVersion(t, store, "@acme/widget", codec, base.Add(time.Duration(i)*time.Second), "dev"))
	}
	for i := 0; i < 3; i++ {
		betaVersions = append(betaVersions, publishMarkerVersion(t, store, "@acme/widget", codec, base.Add(time.Duration(10+i)*time.Second), "beta"))
	}

	doc, ok := store.Get("@acme/widget")
	require.True(t, ok)

	prune, _ := Plan(doc, 1, map[string]bool{})
	require.Len(t, prune, 4)
	require.NotContains(t, prune, devVersions[2])
	require.NotContains(t, prune, betaVersions[2])
}

func TestPrunePackageDeletesVersionsAndDistTags(t *testing.T) {
	codec := pkgversion.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store := pkgstore.New(t.TempDir())
	var versions []string
	for i := 0; i < 4; i++ {
		versions = append(versions, publishMarkerVersion(t, store, "@acme/widget", codec, base.Add(time.Duration(i)*time.Second), "dev"))
	}
	require.NoError(t, store.SetDistTag("@acme/widget", "stale", versions[0]))

	repos := repostate.New(t.TempDir())
	p := New(store, repos, 2)

	result, err := p.PrunePackage(context.Background(), "@acme/widget")
	require.NoError(t, err)
	require.Len(t, result.Pruned, 2)
	require.Contains(t, result.Pruned, versions[0])

	doc, ok := store.Get("@acme/widget")
	require.True(t, ok)
	for _, v := range result.Pruned {
		require.False(t, doc.HasVersion(v))
	}
	require.True(t, doc.HasVersion(versions[len(versions)-1]))
	_, hasStaleTag := doc.DistTags()["stale"]
	require.False(t, hasStaleTag)
}

func TestPruneAllOnEmptyStoreReturnsNoResults(t *testing.T) {
	store := pkgstore.New(t.TempDir())
	repos := repostate.New(t.TempDir())
	p := New(store, repos, 1)

	results := p.PruneAll(context.Background())
	require.Empty(t, results)
}
