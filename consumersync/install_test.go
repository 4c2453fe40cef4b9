package consumersync

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectToolPrefersPnpmThenBunThenYarnThenNPM(t *testing.T) {
	pnpmDir := t.TempDir()
	writeFile(t, filepath.Join(pnpmDir, "pnpm-lock.yaml"), "lockfileVersion: '6.0'\n")
	require.Equal(t, ToolPnpm, DetectTool(pnpmDir))

	bunDir := t.TempDir()
	writeFile(t, filepath.Join(bunDir, "bun.lock"), "{}")
	require.Equal(t, ToolBun, DetectTool(bunDir))

	yarnDir := t.TempDir()
	writeFile(t, filepath.Join(yarnDir, "yarn.lock"), "")
	require.Equal(t, ToolYarn, DetectTool(yarnDir))

	npmDir := t.TempDir()
	require.Equal(t, ToolNPM, DetectTool(npmDir))
}

func TestScrubBunLockRemovesLoopbackResolvedURLs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bun.lock")
	writeFile(t, path, `"@acme/widget": ["@acme/widget@1.1.0", "http://127.0.0.1:4873/@acme/widget/-/widget-1.1.0.tgz", {}],`+"\n")

	scrubBunLock(path)

	data, ok := readIfExists(path)
	require.True(t, ok)
	require.NotContains(t, data, "127.0.0.1")
}

func TestTailTruncatesLongOutput(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'a'
	}
	out := tail(string(long))
	require.Len(t, out, 2000)
}
