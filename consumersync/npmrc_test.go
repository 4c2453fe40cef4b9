package consumersync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureNpmrcIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, EnsureNpmrc(ctx, dir, 4873))
	first, err := os.ReadFile(filepath.Join(dir, ".npmrc"))
	require.NoError(t, err)

	require.NoError(t, EnsureNpmrc(ctx, dir, 4873))
	second, err := os.ReadFile(filepath.Join(dir, ".npmrc"))
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
}

func TestEnsureNpmrcRejectsConflictingNonLoopbackRegistry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".npmrc"), "registry=https://registry.example.com\n")

	err := EnsureNpmrc(context.Background(), dir, 4873)
	require.Error(t, err)
	var conflict *ErrNpmrcConflict
	require.ErrorAs(t, err, &conflict)
}

func TestEnsureNpmrcPreservesUnrelatedLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".npmrc"), "save-exact=true\n")

	require.NoError(t, EnsureNpmrc(context.Background(), dir, 4873))

	data, err := os.ReadFile(filepath.Join(dir, ".npmrc"))
	require.NoError(t, err)
	require.Contains(t, string(data), "save-exact=true")
	require.Contains(t, string(data), "registry=http://127.0.0.1:4873")
}

func TestRemoveNpmrcStripsOnlyMarkedBlock(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writeFile(t, filepath.Join(dir, ".npmrc"), "save-exact=true\n")
	require.NoError(t, EnsureNpmrc(ctx, dir, 4873))

	require.NoError(t, RemoveNpmrc(ctx, dir))

	data, err := os.ReadFile(filepath.Join(dir, ".npmrc"))
	require.NoError(t, err)
	require.Equal(t, "save-exact=true\n", string(data))
}

func TestRemoveNpmrcDeletesFileWhenOnlyMarkerRemains(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, EnsureNpmrc(ctx, dir, 4873))

	require.NoError(t, RemoveNpmrc(ctx, dir))

	require.NoFileExists(t, filepath.Join(dir, ".npmrc"))
}

func TestIsLoopbackRecognizesLocalhostAndLoopbackIP(t *testing.T) {
	require.True(t, isLoopback("http://127.0.0.1:4873/"))
	require.True(t, isLoopback("http://localhost:4873/"))
	require.False(t, isLoopback("https://registry.npmjs.org/"))
}
