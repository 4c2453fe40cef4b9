package consumersync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectCatalogRootFindsPackageJSONCatalog(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{
  "name": "root",
  "catalog": {"@acme/widget": "1.0.0"}
}`)

	format, ok := DetectCatalogRoot(root)
	require.True(t, ok)
	require.Equal(t, CatalogFormatPackageJSON, format)
}

func TestDetectCatalogRootFindsPnpmWorkspaceCatalog(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pnpm-workspace.yaml"), "packages:\n  - packages/*\ncatalog:\n  '@acme/widget': 1.0.0\n")
	writeFile(t, filepath.Join(root, "package.json"), `{"name": "root"}`)

	format, ok := DetectCatalogRoot(root)
	require.True(t, ok)
	require.Equal(t, CatalogFormatPnpmYAML, format)
}

func TestDetectCatalogRootReportsNoneWhenAbsent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{"name": "root"}`)

	_, ok := DetectCatalogRoot(root)
	require.False(t, ok)
}

func TestRewritePackageJSONCatalogUpdatesAndRollsBack(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{
  "name": "root",
  "catalog": {"@acme/widget": "1.0.0"}
}`)

	op, err := rewriteCatalogEntry(root, CatalogFormatPackageJSON, "default", "@acme/widget", "1.1.0")
	require.NoError(t, err)
	require.True(t, op.existed)
	require.Equal(t, "1.0.0", op.original)

	doc, _, err := readManifest(filepath.Join(root, "package.json"))
	require.NoError(t, err)
	require.Equal(t, "1.1.0", doc["catalog"].(map[string]interface{})["@acme/widget"])

	rollbackWrites([]writeOp{op})

	doc2, _, err := readManifest(filepath.Join(root, "package.json"))
	require.NoError(t, err)
	require.Equal(t, "1.0.0", doc2["catalog"].(map[string]interface{})["@acme/widget"])
}

func TestRewritePackageJSONCatalogAddedEntryRollsBackToDeleted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{
  "name": "root",
  "catalog": {}
}`)

	op, err := rewriteCatalogEntry(root, CatalogFormatPackageJSON, "default", "@acme/new", "1.0.0")
	require.NoError(t, err)
	require.False(t, op.existed)

	rollbackWrites([]writeOp{op})

	doc, _, err := readManifest(filepath.Join(root, "package.json"))
	require.NoError(t, err)
	_, present := doc["catalog"].(map[string]interface{})["@acme/new"]
	require.False(t, present)
}

func TestRewritePnpmWorkspaceCatalogUpdatesAndRollsBack(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "pnpm-workspace.yaml")
	writeFile(t, path, "packages:\n  - packages/*\ncatalog:\n  '@acme/widget': 1.0.0\n")

	op, err := rewriteCatalogEntry(root, CatalogFormatPnpmYAML, "default", "@acme/widget", "1.1.0")
	require.NoError(t, err)
	require.True(t, op.existed)
	require.Equal(t, "1.0.0", op.original)
	require.Equal(t, CatalogFormatPnpmYAML, op.format)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "1.1.0")

	rollbackWrites([]writeOp{op})

	data2, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data2), "1.0.0")
	require.NotContains(t, string(data2), "1.1.0")
}

func TestRewritePnpmWorkspaceNamedCatalogTargetsCorrectSection(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "pnpm-workspace.yaml")
	writeFile(t, path, "packages:\n  - packages/*\ncatalogs:\n  react17:\n    '@acme/widget': 1.0.0\n  react18:\n    '@acme/widget': 2.0.0\n")

	op, err := rewriteCatalogEntry(root, CatalogFormatPnpmYAML, "react17", "@acme/widget", "1.1.0")
	require.NoError(t, err)
	require.Equal(t, "react17", op.catalogName)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "1.1.0")
	require.Contains(t, string(data), "2.0.0")
}
