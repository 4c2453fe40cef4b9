package consumersync

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkglab/pkglab/procutil"
	"github.com/pkglab/pkglab/repostate"
)

const bunCacheBypass = "\n[install.cache]\ndisableManifest = true\n"

// DetectTool infers the package manager a repo uses from its lockfile,
// falling back to npm when none of the recognized lockfiles are present.
func DetectTool(repoRoot string) Tool {
	switch {
	case fileExists(filepath.Join(repoRoot, "pnpm-lock.yaml")):
		return ToolPnpm
	case fileExists(filepath.Join(repoRoot, "bun.lock")), fileExists(filepath.Join(repoRoot, "bun.lockb")):
		return ToolBun
	case fileExists(filepath.Join(repoRoot, "yarn.lock")):
		return ToolYarn
	default:
		return ToolNPM
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// runInstall performs the tool-specific fast path and returns the final
// install error (nil on success) plus the tail of its stderr for
// diagnostics.
func runInstall(ctx context.Context, tool Tool, repoRoot string, items []WorkItem, st *repostate.State) (error, string) {
	switch tool {
	case ToolPnpm:
		return runPnpmInstall(ctx, repoRoot, items, st)
	case ToolBun:
		return runBunInstall(ctx, repoRoot)
	default:
		return runWithIgnoreScriptsFallback(ctx, repoRoot, string(tool), "install", "--ignore-scripts")
	}
}

// runWithIgnoreScriptsFallback runs name with args, and if the invocation
// exits non-zero, retries once with any "--ignore-scripts" flag stripped,
// per spec.md 4.7's general install fallback rule.
func runWithIgnoreScriptsFallback(ctx context.Context, dir, name string, args ...string) (error, string) {
	result, err := procutil.Run(ctx, dir, name, args...)
	if err == nil {
		return nil, ""
	}

	var retryArgs []string
	for _, a := range args {
		if a != "--ignore-scripts" {
			retryArgs = append(retryArgs, a)
		}
	}
	if len(retryArgs) == len(args) {
		return err, tail(result.Stderr)
	}

	result2, err2 := procutil.Run(ctx, dir, name, retryArgs...)
	if err2 == nil {
		return nil, ""
	}
	return err2, tail(result2.Stderr)
}

// runPnpmInstall patches pnpm-lock.yaml in place for every item (mapping
// the repo's currently-recorded version to the new one), attempts a frozen,
// script-free, offline-preferring install, and restores the original
// lockfile bytes before falling back to a non-frozen install if the frozen
// attempt fails.
func runPnpmInstall(ctx context.Context, repoRoot string, items []WorkItem, st *repostate.State) (error, string) {
	lockPath := filepath.Join(repoRoot, "pnpm-lock.yaml")
	original, readErr := os.ReadFile(lockPath)

	if readErr == nil {
		patched := string(original)
		for _, item := range items {
			link := st.Packages[item.Name]
			if link.Current == "" {
				continue
			}
			patched = PatchPnpmLockfile(patched, item.Name, link.Current, item.NewVersion, "")
		}
		if patched != string(original) {
			if err := os.WriteFile(lockPath, []byte(patched), 0o644); err != nil {
				return err, ""
			}
		}

		result, err := procutil.Run(ctx, repoRoot, "pnpm", "install", "--frozen-lockfile", "--ignore-scripts", "--prefer-offline")
		if err == nil {
			return nil, ""
		}

		// Frozen install failed against the patched lockfile; restore the
		// original bytes exactly before falling back, so a failed patch
		// attempt never leaves a half-consistent lockfile on disk.
		_ = os.WriteFile(lockPath, original, 0o644)
		_ = result
	}

	return runWithIgnoreScriptsFallback(ctx, repoRoot, "pnpm", "install", "--ignore-scripts", "--prefer-offline")
}

// runBunInstall bypasses bun's manifest cache for the duration of one
// install (bun otherwise trusts a cached view of the registry that
// wouldn't know about a version published seconds ago), restores
// bunfig.toml afterward regardless of outcome, and scrubs any residual
// loopback registry URLs bun.lock records verbatim.
func runBunInstall(ctx context.Context, repoRoot string) (error, string) {
	bunfigPath := filepath.Join(repoRoot, "bunfig.toml")
	original, hadBunfig := readIfExists(bunfigPath)

	appended := original + bunCacheBypass
	if err := os.WriteFile(bunfigPath, []byte(appended), 0o644); err != nil {
		return err, ""
	}
	defer func() {
		if hadBunfig {
			_ = os.WriteFile(bunfigPath, []byte(original), 0o644)
		} else {
			_ = os.Remove(bunfigPath)
		}
	}()

	err, out := runWithIgnoreScriptsFallback(ctx, repoRoot, "bun", "install", "--ignore-scripts", "--prefer-offline")
	if err != nil {
		return err, out
	}

	scrubBunLock(filepath.Join(repoRoot, "bun.lock"))
	return nil, ""
}

func readIfExists(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// scrubBunLock removes any "http://127.0.0.1:..." or "http://localhost:..."
// resolved URL bun.lock recorded for a package pulled from the loopback
// registry, so the lockfile stays portable to machines without pkglab
// running. Scrubbing is best-effort: an unreadable or absent lockfile is
// not an error, since the install already succeeded.
func scrubBunLock(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.Contains(line, `"http://127.0.0.1:`) || strings.Contains(line, `"http://localhost:`) {
			if idx := strings.Index(line, `"http://`); idx >= 0 {
				if end := strings.Index(line[idx+1:], `"`); end >= 0 {
					lines[i] = line[:idx] + line[idx+1+end+1:]
				}
			}
		}
	}
	_ = os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func tail(s string) string {
	const maxLen = 2000
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
