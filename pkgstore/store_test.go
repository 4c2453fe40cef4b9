package pkgstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	require.NoError(t, s.LoadAll(context.Background()))
	return s
}

func publishOne(t *testing.T, s *Store, name, version string) {
	t.Helper()
	err := s.Publish(PublishRequest{
		Name:       name,
		Version:    version,
		VersionDoc: map[string]interface{}{"name": name, "version": version, "dist": map[string]interface{}{}},
		DistTags:   map[string]string{"latest": version},
		Attachments: map[string]Attachment{
			name + "-" + version + ".tgz": {
				ContentType: "application/octet-stream",
				DataBase64:  base64.StdEncoding.EncodeToString([]byte("tarball-bytes")),
			},
		},
	})
	require.NoError(t, err)
}

func TestPublishCreatesPackumentAndTarball(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "widget", "0.0.0-pkglab.1000")

	doc, ok := s.Get("widget")
	require.True(t, ok)
	require.True(t, doc.HasVersion("0.0.0-pkglab.1000"))
	require.Equal(t, "2", doc.Rev())
	require.Empty(t, doc.Attachments())

	require.FileExists(t, s.TarballPath("widget", "widget-0.0.0-pkglab.1000.tgz"))
}

func TestPublishRejectsDuplicateVersion(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "widget", "1.0.0")

	err := s.Publish(PublishRequest{
		Name:        "widget",
		Version:     "1.0.0",
		VersionDoc:  map[string]interface{}{},
		Attachments: map[string]Attachment{},
	})
	require.Error(t, err)
	var exists *ErrVersionExists
	require.ErrorAs(t, err, &exists)
}

func TestPublishScopedPackage(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "@acme/widget", "0.0.0-pkglab.1")

	doc, ok := s.Get("@acme/widget")
	require.True(t, ok)
	require.True(t, doc.HasVersion("0.0.0-pkglab.1"))
}

func TestLoadAllSkipsStaleTempAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	goodDir := filepath.Join(dir, "good")
	require.NoError(t, os.MkdirAll(goodDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(goodDir, "package.json"), []byte(`{"name":"good","_rev":"1","dist-tags":{},"versions":{},"time":{}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(goodDir, "package.json.tmp"), []byte("stale"), 0o644))

	badDir := filepath.Join(dir, "bad")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "package.json"), []byte("not json"), 0o644))

	s := New(dir)
	require.NoError(t, s.LoadAll(context.Background()))

	_, ok := s.Get("good")
	require.True(t, ok)
	_, ok = s.Get("bad")
	require.False(t, ok)

	_, err := os.Stat(filepath.Join(goodDir, "package.json.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestSetDistTagValidatesVersionExists(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "widget", "1.0.0")

	require.NoError(t, s.SetDistTag("widget", "beta", "1.0.0"))
	doc, _ := s.Get("widget")
	require.Equal(t, "1.0.0", doc.DistTags()["beta"])

	err := s.SetDistTag("widget", "beta", "9.9.9")
	require.Error(t, err)
}

func TestUnpublishVersionRequiresMatchingRev(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "widget", "1.0.0")
	publishOne(t, s, "widget", "2.0.0")

	doc, _ := s.Get("widget")
	newDoc := doc.Clone()
	newDoc.DeleteVersion("1.0.0")

	err := s.UnpublishVersions("widget", "wrong-rev", newDoc)
	require.Error(t, err)
	var mismatch *ErrRevMismatch
	require.ErrorAs(t, err, &mismatch)

	require.NoError(t, s.UnpublishVersions("widget", doc.Rev(), newDoc))
	after, _ := s.Get("widget")
	require.False(t, after.HasVersion("1.0.0"))
	require.True(t, after.HasVersion("2.0.0"))

	_, err = os.Stat(s.TarballPath("widget", "widget-1.0.0.tgz"))
	require.True(t, os.IsNotExist(err))
}

func TestDeletePackageRemovesDirAndScope(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "@acme/widget", "1.0.0")

	doc, _ := s.Get("@acme/widget")
	require.NoError(t, s.DeletePackage("@acme/widget", doc.Rev()))

	_, ok := s.Get("@acme/widget")
	require.False(t, ok)

	_, err := os.Stat(filepath.Join(s.root, "@acme"))
	require.True(t, os.IsNotExist(err))
}

func TestIndexElidesPackagesWithNoMarkerVersions(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "plain", "1.0.0")
	publishOne(t, s, "local", "0.0.0-pkglab.1")

	var doc indexDoc
	require.NoError(t, json.Unmarshal(s.Index(), &doc))

	_, hasPlain := doc.Packages["plain"]
	require.False(t, hasPlain)

	entry, hasLocal := doc.Packages["local"]
	require.True(t, hasLocal)
	require.Equal(t, []string{"0.0.0-pkglab.1"}, entry.Versions)
}

func TestIndexCacheInvalidatesOnWrite(t *testing.T) {
	s := newTestStore(t)
	first := s.Index()

	publishOne(t, s, "local", "0.0.0-pkglab.1")
	second := s.Index()
	require.NotEqual(t, string(first), string(second))
}

func TestMergedCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.MergedCached("foo")
	require.False(t, ok)

	doc := NewPackument("foo")
	s.CacheMerged("foo", doc)

	cached, ok := s.MergedCached("foo")
	require.True(t, ok)
	require.Equal(t, "foo", cached.Name())
}

func TestMergedCacheInvalidatedByPublish(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "widget", "1.0.0")
	s.CacheMerged("widget", NewPackument("widget"))

	publishOne(t, s, "widget", "2.0.0")
	_, ok := s.MergedCached("widget")
	require.False(t, ok)
}
