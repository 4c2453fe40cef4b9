package consumersync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const hookMarker = "pkglab"

// HookKind names which pre-commit hook mechanism a repo uses.
type HookKind string

const (
	HookKindHusky   HookKind = "husky"
	HookKindLefthook HookKind = "lefthook"
	HookKindRawGit  HookKind = "git"
	HookKindNone    HookKind = ""
)

// DetectHookKind probes repoRoot in the order spec.md 4.7 prescribes:
// .husky/pre-commit, then a lefthook config, then the raw
// .git/hooks/pre-commit.
func DetectHookKind(repoRoot string) HookKind {
	if fileExists(filepath.Join(repoRoot, ".husky", "pre-commit")) {
		return HookKindHusky
	}
	for _, name := range []string{"lefthook.yml", "lefthook.yaml", ".lefthook.yml", ".lefthook.yaml"} {
		if fileExists(filepath.Join(repoRoot, name)) {
			return HookKindLefthook
		}
	}
	if fileExists(filepath.Join(repoRoot, ".git", "hooks", "pre-commit")) || fileExists(filepath.Join(repoRoot, ".git")) {
		return HookKindRawGit
	}
	return HookKindNone
}

// InjectPreCommitHook appends a marked block running checkCmd to the
// appropriate pre-commit hook file. For lefthook, no file is edited:
// lefthook's config is YAML the user owns, so this only returns guidance
// text to surface to the operator.
func InjectPreCommitHook(repoRoot, checkCmd string) (guidance string, err error) {
	kind := DetectHookKind(repoRoot)

	switch kind {
	case HookKindHusky:
		return "", injectMarkedShellBlock(filepath.Join(repoRoot, ".husky", "pre-commit"), checkCmd, true)
	case HookKindRawGit:
		path := filepath.Join(repoRoot, ".git", "hooks", "pre-commit")
		if err := injectMarkedShellBlock(path, checkCmd, !fileExists(path)); err != nil {
			return "", err
		}
		return "", os.Chmod(path, 0o755)
	case HookKindLefthook:
		return fmt.Sprintf(
			"lefthook.yml is config-only; add this under pre-commit.commands yourself:\n  pkglab-check:\n    run: %s\n",
			checkCmd), nil
	default:
		return "", fmt.Errorf("consumersync: no recognized pre-commit hook mechanism in %s", repoRoot)
	}
}

// RemovePreCommitHook strips pkglab's marked block from whichever hook file
// InjectPreCommitHook wrote to.
func RemovePreCommitHook(repoRoot string) error {
	kind := DetectHookKind(repoRoot)
	var path string
	switch kind {
	case HookKindHusky:
		path = filepath.Join(repoRoot, ".husky", "pre-commit")
	case HookKindRawGit:
		path = filepath.Join(repoRoot, ".git", "hooks", "pre-commit")
	default:
		return nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	updated := removeMarkedBlock(string(data), hookMarker)
	return os.WriteFile(path, []byte(updated), 0o755)
}

func injectMarkedShellBlock(path, checkCmd string, needsShebang bool) error {
	existing, _ := os.ReadFile(path)
	content := string(existing)

	if _, ok := extractMarkedBlock(content, hookMarker); ok {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var b strings.Builder
	if needsShebang && content == "" {
		b.WriteString("#!/usr/bin/env sh\n")
	}
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "# %s-start\n%s\n# %s-end\n", hookMarker, checkCmd, hookMarker)

	return os.WriteFile(path, []byte(b.String()), 0o755)
}
