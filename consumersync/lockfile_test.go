package consumersync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatchPnpmLockfileRewritesVersionRefs(t *testing.T) {
	content := "" +
		"packages:\n" +
		"  /@acme/widget@1.0.0:\n" +
		"    resolution: {integrity: sha512-old==}\n" +
		"  /consumer@1.0.0:\n" +
		"    dependencies:\n" +
		"      '@acme/widget': 1.0.0\n"

	patched := PatchPnpmLockfile(content, "@acme/widget", "1.0.0", "1.1.0", "sha512-new==")
	require.Contains(t, patched, "/@acme/widget@1.1.0:")
	require.Contains(t, patched, "sha512-new==")
	require.NotContains(t, patched, "sha512-old==")
}

func TestPatchPnpmLockfileNoopsWithoutIntegrity(t *testing.T) {
	content := "/@acme/widget@1.0.0:\n  resolution: {integrity: sha512-keep==}\n"
	patched := PatchPnpmLockfile(content, "@acme/widget", "1.0.0", "1.1.0", "")
	require.Contains(t, patched, "/@acme/widget@1.1.0:")
	require.Contains(t, patched, "sha512-keep==")
}

func TestRewriteIntegrityLinePreservesSurroundingFlowMapping(t *testing.T) {
	line := "    resolution: {integrity: sha512-old==, tarball: https://x}"
	out := rewriteIntegrityLine(line, "sha512-new==")
	require.Equal(t, "    resolution: {integrity: sha512-new==, tarball: https://x}", out)
}
