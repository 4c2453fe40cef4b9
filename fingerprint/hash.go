package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// formatVersion seeds every hash so that a future change to the selection or
// hashing rules themselves invalidates every cached fingerprint, rather than
// silently reusing stale hashes computed under different rules.
const formatVersion = "pkglab-fp-v1"

// FileStat is the (path, mtime, size) tuple recorded alongside a hash so a
// later call can cheaply tell whether any selected file changed.
type FileStat struct {
	Path    string
	MtimeMs int64
	Size    int64
}

// Result is a package's fingerprint: its content hash and the file stats it
// was computed from.
type Result struct {
	Hash      string
	FileStats []FileStat
}

// Hash computes the fingerprint of dir by reading every file in files (which
// must be relative to dir, as returned by SelectFiles) plus any .npmignore
// or .gitignore found under dir, unconditionally.
func Hash(ctx context.Context, dir string, files []string) (Result, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	stats := make([]FileStat, 0, len(sorted))
	h := sha256.New()
	h.Write([]byte(formatVersion))
	h.Write([]byte{0})

	for _, rel := range sorted {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		full := filepath.Join(dir, filepath.FromSlash(rel))
		data, err := os.ReadFile(full)
		if err != nil {
			return Result{}, err
		}
		info, err := os.Stat(full)
		if err != nil {
			return Result{}, err
		}
		h.Write(data)
		h.Write([]byte{0})
		h.Write([]byte(rel))
		h.Write([]byte{0})
		stats = append(stats, FileStat{Path: rel, MtimeMs: info.ModTime().UnixMilli(), Size: info.Size()})
	}

	ignores, err := ignoreFileContents(dir)
	if err != nil {
		return Result{}, err
	}
	for _, rel := range sortedIgnoreKeys(ignores) {
		h.Write(ignores[rel])
		h.Write([]byte{0})
		h.Write([]byte(rel))
		h.Write([]byte{0})
	}

	return Result{Hash: hex.EncodeToString(h.Sum(nil)), FileStats: stats}, nil
}

// HashWithFastPath re-stats files and, if every (path, mtimeMs, size) tuple
// matches prev exactly and the selected file list hasn't changed, returns
// prev's hash without reading any file body. The returned bool reports
// whether the fast path was taken.
func HashWithFastPath(ctx context.Context, dir string, files []string, prev *Result) (Result, bool, error) {
	if prev == nil {
		res, err := Hash(ctx, dir, files)
		return res, false, err
	}

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	if len(sorted) != len(prev.FileStats) {
		res, err := Hash(ctx, dir, files)
		return res, false, err
	}

	for i, rel := range sorted {
		if prev.FileStats[i].Path != rel {
			res, err := Hash(ctx, dir, files)
			return res, false, err
		}
		full := filepath.Join(dir, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil {
			res, err := Hash(ctx, dir, files)
			return res, false, err
		}
		if info.ModTime().UnixMilli() != prev.FileStats[i].MtimeMs || info.Size() != prev.FileStats[i].Size {
			res, err := Hash(ctx, dir, files)
			return res, false, err
		}
	}

	return *prev, true, nil
}

// ignoreFileContents collects the contents of every .npmignore and
// .gitignore found under dir (excluding the same directories SelectFiles
// excludes), keyed by dir-relative path, so a rule change invalidates the
// fingerprint even when the files it governs did not themselves change.
func ignoreFileContents(dir string) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := walkDir(dir, func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			if excludedDirNames[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if name != ".npmignore" && name != ".gitignore" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = data
		return nil
	})
	return out, err
}

func sortedIgnoreKeys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
