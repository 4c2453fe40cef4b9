package consumersync

import (
	"strings"
)

// integrityWindow bounds how many lines after a package's key line
// PatchPnpmLockfile will scan for a resolution.integrity line to rewrite.
const integrityWindow = 5

// PatchPnpmLockfile rewrites every occurrence of "<pkgName>@<oldVersion>"
// in a pnpm-lock.yaml's raw text to "<pkgName>@<newVersion>", and for each
// such occurrence, overwrites the integrity hash on the nearest
// "resolution: {integrity: ...}" line found within integrityWindow lines
// after it (if integrity is non-empty). Returns the patched text; the
// caller is responsible for restoring the original bytes if the
// subsequent frozen install fails.
//
// This is a best-effort textual patch, not a YAML-structural one, matching
// the split/join approach this codebase prefers over YAML surgery for
// machine-generated files it doesn't own the schema of. Only
// "<pkgName>@<oldVersion>" substrings are rewritten: places that record the
// version apart from the name (such as a "'<pkgName>': <oldVersion>" line
// under a consumer's "dependencies") are left unchanged.
func PatchPnpmLockfile(content, pkgName, oldVersion, newVersion, integrity string) string {
	oldRef := pkgName + "@" + oldVersion
	newRef := pkgName + "@" + newVersion

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !strings.Contains(line, oldRef) {
			continue
		}
		lines[i] = strings.ReplaceAll(line, oldRef, newRef)

		if integrity == "" {
			continue
		}
		for j := i; j < len(lines) && j < i+integrityWindow; j++ {
			if idx := strings.Index(lines[j], "integrity:"); idx >= 0 {
				lines[j] = rewriteIntegrityLine(lines[j], integrity)
				break
			}
		}
	}

	return strings.Join(lines, "\n")
}

// rewriteIntegrityLine replaces the hash value on a line of the form
// `resolution: {integrity: sha512-...}` or the flow-mapping-free
// `    integrity: sha512-...` with integrity, preserving everything before
// and after the hash token.
func rewriteIntegrityLine(line, integrity string) string {
	idx := strings.Index(line, "integrity:")
	prefix := line[:idx+len("integrity:")]
	rest := line[idx+len("integrity:"):]

	trimmed := strings.TrimLeft(rest, " ")
	leadingSpace := rest[:len(rest)-len(trimmed)]

	end := len(trimmed)
	for i, r := range trimmed {
		if r == '}' || r == ',' || r == '\n' {
			end = i
			break
		}
	}
	suffix := trimmed[end:]

	return prefix + leadingSpace + integrity + suffix
}
