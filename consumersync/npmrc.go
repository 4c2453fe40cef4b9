package consumersync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkglab/pkglab/procutil"
)

const npmrcMarker = "pkglab"

func npmrcBlock(port int) string {
	return fmt.Sprintf("# %s-start\nregistry=http://127.0.0.1:%d\n# %s-end\n", npmrcMarker, port, npmrcMarker)
}

// ErrNpmrcConflict is returned when a repo's .npmrc already pins a
// non-loopback registry outside pkglab's marker block.
type ErrNpmrcConflict struct {
	Path string
}

func (e *ErrNpmrcConflict) Error() string {
	return fmt.Sprintf("%s already sets a non-loopback registry; remove it before running pkglab add", e.Path)
}

// EnsureNpmrc appends pkglab's marked registry block to repoRoot/.npmrc,
// refusing if an unrelated, non-loopback "registry=" line is already
// present outside the block. It is idempotent: calling it again when the
// block already exists with the same port is a no-op.
func EnsureNpmrc(ctx context.Context, repoRoot string, port int) error {
	path := filepath.Join(repoRoot, ".npmrc")
	existing, _ := os.ReadFile(path)
	content := string(existing)

	body, _ := extractMarkedBlock(content, npmrcMarker)
	if strings.TrimSpace(body) == strings.TrimSpace(npmrcBlock(port)) {
		return nil
	}

	outside := removeMarkedBlock(content, npmrcMarker)
	for _, line := range strings.Split(outside, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "registry=") {
			continue
		}
		value := strings.TrimPrefix(trimmed, "registry=")
		if !isLoopback(value) {
			return &ErrNpmrcConflict{Path: path}
		}
	}

	updated := removeMarkedBlock(content, npmrcMarker)
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	updated += npmrcBlock(port)

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("consumersync: write %s: %w", path, err)
	}

	markSkipWorktreeIfTracked(ctx, repoRoot, ".npmrc")
	return nil
}

// RemoveNpmrc reverses EnsureNpmrc: strips the marker block, leaving
// everything else byte-identical, and un-skips the worktree flag.
func RemoveNpmrc(ctx context.Context, repoRoot string) error {
	path := filepath.Join(repoRoot, ".npmrc")
	existing, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	updated := removeMarkedBlock(string(existing), npmrcMarker)
	if strings.TrimSpace(updated) == "" {
		if err := os.Remove(path); err != nil {
			return err
		}
	} else if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return err
	}

	unmarkSkipWorktreeIfTracked(ctx, repoRoot, ".npmrc")
	return nil
}

func isLoopback(registry string) bool {
	registry = strings.TrimSpace(registry)
	return strings.Contains(registry, "://127.0.0.1") || strings.Contains(registry, "://localhost")
}

func extractMarkedBlock(content, marker string) (string, bool) {
	start := strings.Index(content, "# "+marker+"-start")
	end := strings.Index(content, "# "+marker+"-end")
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	end += len("# " + marker + "-end")
	return content[start:end], true
}

func removeMarkedBlock(content, marker string) string {
	block, ok := extractMarkedBlock(content, marker)
	if !ok {
		return content
	}
	idx := strings.Index(content, block)
	rest := strings.TrimPrefix(content[idx+len(block):], "\n")
	return content[:idx] + rest
}

// markSkipWorktreeIfTracked applies `git update-index --skip-worktree` to
// path if it is tracked in repoRoot's git index, so the marked .npmrc
// change never shows up in `git status`/`diff` for the consumer's own
// commits. Failure (not a git repo, file untracked, git missing) is
// silently tolerated: the marker block itself is still correct either way.
func markSkipWorktreeIfTracked(ctx context.Context, repoRoot, path string) {
	if !isTracked(ctx, repoRoot, path) {
		return
	}
	_, _ = procutil.Run(ctx, repoRoot, "git", "update-index", "--skip-worktree", path)
}

func unmarkSkipWorktreeIfTracked(ctx context.Context, repoRoot, path string) {
	if !isTracked(ctx, repoRoot, path) {
		return
	}
	_, _ = procutil.Run(ctx, repoRoot, "git", "update-index", "--no-skip-worktree", path)
}

func isTracked(ctx context.Context, repoRoot, path string) bool {
	_, err := procutil.Run(ctx, repoRoot, "git", "ls-files", "--error-unmatch", path)
	return err == nil
}
