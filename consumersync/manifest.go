package consumersync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkglab/pkglab/depgraph"
	"github.com/pkglab/pkglab/repostate"
)

var manifestDepFields = []string{"dependencies", "devDependencies", "peerDependencies", "optionalDependencies"}

// writeOp is one reversible manifest or catalog mutation, recording enough
// to restore the file to its pre-write state.
type writeOp struct {
	path        string
	depName     string
	existed     bool
	original    string
	catalog     bool
	format      string
	catalogName string
}

// applyWrites performs the write phase for every item against st, returning
// the ops actually performed (for rollback) and aborting on the first
// failure.
func applyWrites(repoRoot string, st *repostate.State, items []WorkItem) ([]writeOp, error) {
	var ops []writeOp

	for _, item := range items {
		link, ok := st.Packages[item.Name]
		if !ok {
			continue
		}

		if link.CatalogName != "" {
			op, err := rewriteCatalogEntry(repoRoot, link.CatalogFormat, link.CatalogName, item.Name, item.NewVersion)
			if err != nil {
				return ops, err
			}
			ops = append(ops, op)
			continue
		}

		targets := link.Targets
		if len(targets) == 0 {
			discovered, err := DiscoverTargets(repoRoot, item.Name)
			if err != nil {
				return ops, err
			}
			targets = discovered
		}

		for _, t := range targets {
			op, err := rewriteManifestDependency(t.Dir, item.Name, item.NewVersion)
			if err != nil {
				return ops, err
			}
			ops = append(ops, op)
		}
	}

	return ops, nil
}

// rollbackWrites restores every op to its pre-write value, in reverse order.
// Individual restore failures are not fatal to the rest of the rollback:
// the caller has already decided the sync failed, and a best-effort revert
// of the remaining files still beats leaving them all mutated.
func rollbackWrites(ops []writeOp) {
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.catalog {
			if op.existed {
				_, _ = rewriteCatalogEntry(filepath.Dir(op.path), op.format, op.catalogName, op.depName, op.original)
			} else {
				_ = removeCatalogEntry(filepath.Dir(op.path), op.format, op.catalogName, op.depName)
			}
			continue
		}
		_, _ = restoreManifestDependency(op.path, op.depName, op.existed, op.original)
	}
}

// rewriteManifestDependency pins depName to exactly newVersion in every
// dependency field of the package.json at manifestPath, leaving a
// "workspace:*"-family spec alone only when it is a catalog reference
// (those are handled by rewriteCatalogEntry instead). Returns a writeOp
// capturing the prior value for rollback.
func rewriteManifestDependency(manifestPath, depName, newVersion string) (writeOp, error) {
	path := manifestPath
	if filepath.Base(path) != "package.json" {
		path = filepath.Join(path, "package.json")
	}

	doc, raw, err := readManifest(path)
	if err != nil {
		return writeOp{}, err
	}

	op := writeOp{path: path, depName: depName}
	changed := false

	for _, field := range manifestDepFields {
		m, ok := doc[field].(map[string]interface{})
		if !ok {
			continue
		}
		spec, ok := m[depName].(string)
		if !ok {
			continue
		}
		if isCatalogSpec(spec) {
			continue
		}
		if !op.existed {
			op.existed = true
			op.original = spec
		}
		m[depName] = newVersion
		changed = true
	}

	if !changed {
		return op, nil
	}

	return op, writeManifest(path, doc, raw)
}

// restoreManifestDependency reverses rewriteManifestDependency: if existed
// is true, every field currently pinning depName to anything is set back to
// original; if existed is false (the dependency was added by this sync, not
// just repinned), the key is removed instead.
func restoreManifestDependency(manifestPath, depName string, existed bool, original string) (writeOp, error) {
	path := manifestPath
	if filepath.Base(path) != "package.json" {
		path = filepath.Join(path, "package.json")
	}

	doc, raw, err := readManifest(path)
	if err != nil {
		return writeOp{}, err
	}

	for _, field := range manifestDepFields {
		m, ok := doc[field].(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := m[depName]; !ok {
			continue
		}
		if existed {
			m[depName] = original
		} else {
			delete(m, depName)
		}
	}

	return writeOp{}, writeManifest(path, doc, raw)
}

func readManifest(path string) (map[string]interface{}, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("consumersync: read %s: %w", path, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("consumersync: parse %s: %w", path, err)
	}
	return doc, raw, nil
}

// writeManifest serializes doc with two-space indentation and a trailing
// newline, and writes it atomically via temp-file-then-rename. The raw
// bytes are not consulted: keys are written in sorted order, so the file's
// original key order and layout are not preserved.
func writeManifest(path string, doc map[string]interface{}, _ []byte) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("consumersync: write temp %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

func isCatalogSpec(spec string) bool {
	return strings.HasPrefix(spec, "catalog:")
}

// DiscoverTargets scans every package.json in repoRoot (the root manifest
// plus, for a workspace repo, every workspace member discovered the same
// way depgraph.Discover locates packages) and returns the manifests that
// currently reference depName directly (not via a catalog: spec).
func DiscoverTargets(repoRoot, depName string) ([]repostate.Target, error) {
	var dirs []string

	ws, err := depgraph.Discover(repoRoot)
	if err == nil && ws != nil {
		dirs = append(dirs, repoRoot)
		for _, p := range ws.Packages {
			dirs = append(dirs, p.Dir)
		}
	} else {
		dirs = append(dirs, repoRoot)
	}

	var out []repostate.Target
	for _, dir := range dirs {
		path := filepath.Join(dir, "package.json")
		doc, _, err := readManifest(path)
		if err != nil {
			continue
		}
		for _, field := range manifestDepFields {
			m, ok := doc[field].(map[string]interface{})
			if !ok {
				continue
			}
			spec, ok := m[depName].(string)
			if !ok || isCatalogSpec(spec) {
				continue
			}
			out = append(out, repostate.Target{Dir: dir, Original: spec})
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, nil
}
