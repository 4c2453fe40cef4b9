package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewPaths(dir)
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	cfg, err := Load(context.Background(), paths)
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, defaultPruneKeep, cfg.PruneKeep)
	require.Equal(t, currentVersion, cfg.Version)

	require.FileExists(t, paths.Config)
}

func TestLoadRejectsLegacyYAML(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewPaths(dir)
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	require.NoError(t, os.WriteFile(paths.Config, []byte("port: 4873\nprune_keep: 5\n"), 0o644))

	_, err = Load(context.Background(), paths)
	require.Error(t, err)
	var incompatible *ErrConfigIncompatible
	require.ErrorAs(t, err, &incompatible)
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewPaths(dir)
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	require.NoError(t, os.WriteFile(paths.Config, []byte(`{"version":2,"port":4873,"prune_keep":5}`), 0o644))

	_, err = Load(context.Background(), paths)
	require.Error(t, err)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewPaths(dir)
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())

	cfg := &Config{Version: currentVersion, Port: 9999, PruneKeep: 3}
	require.NoError(t, Save(paths, cfg))

	_, err = os.Stat(paths.Config + ".tmp")
	require.True(t, os.IsNotExist(err))

	loaded, err := Load(context.Background(), paths)
	require.NoError(t, err)
	require.Equal(t, 9999, loaded.Port)

	entries, err := os.ReadDir(filepath.Dir(paths.Config))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}
