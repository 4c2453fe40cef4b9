// Package fingerprint computes a stable content hash per workspace package,
// matching (as closely as a local approximation can) the set of bytes npm
// would include when publishing, with a file-stat fast path so unchanged
// packages are never re-read.
package fingerprint

import (
	"context"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pkglab/pkglab/procutil"
)

var alwaysIncludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^package\.json$`),
	regexp.MustCompile(`(?i)^readme`),
	regexp.MustCompile(`(?i)^licen[sc]e`),
	regexp.MustCompile(`(?i)^changelog`),
}

var excludedDirNames = map[string]bool{
	"node_modules": true,
	".git":         true,
	".cache":       true,
	".turbo":       true,
	".next":        true,
}

// SelectFiles returns the sorted, deduplicated list of package-relative
// paths that would be published for the package rooted at dir, described by
// packageJSON (the parsed package.json document).
func SelectFiles(ctx context.Context, dir string, packageJSON map[string]interface{}) ([]string, error) {
	if _, ok := packageJSON["bundledDependencies"]; ok {
		return selectViaPack(ctx, dir)
	}

	set := map[string]bool{}

	if patterns := stringSliceField(packageJSON["files"]); len(patterns) > 0 {
		for _, pattern := range patterns {
			matches, err := expandPattern(dir, pattern)
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				set[m] = true
			}
		}
	} else {
		// No files[] field: npm publishes (almost) everything not ignored.
		all, err := walkAll(dir)
		if err != nil {
			return nil, err
		}
		for _, f := range all {
			set[f] = true
		}
	}

	all, err := walkAll(dir)
	if err != nil {
		return nil, err
	}
	for _, rel := range all {
		base := filepath.Base(rel)
		for _, re := range alwaysIncludePatterns {
			if re.MatchString(base) {
				set[rel] = true
				break
			}
		}
	}

	for _, entry := range entryPointPaths(packageJSON) {
		clean := filepath.Clean(filepath.FromSlash(entry))
		if clean != "." && !strings.HasPrefix(clean, "..") {
			set[clean] = true
		}
	}

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func stringSliceField(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// expandPattern expands one files[] glob entry relative to dir. A trailing
// directory reference (no glob metacharacters, names an existing directory)
// expands to every file beneath it, matching npm's "directory entries
// publish recursively" rule.
func expandPattern(dir, pattern string) ([]string, error) {
	cleanPattern := filepath.ToSlash(strings.TrimSuffix(pattern, "/"))

	if !strings.ContainsAny(cleanPattern, "*?[{") {
		full := filepath.Join(dir, filepath.FromSlash(cleanPattern))
		if info, err := osStat(full); err == nil && info.IsDir() {
			return walkUnder(dir, cleanPattern)
		}
	}

	matches, err := doublestar.Glob(osDirFS(dir), cleanPattern)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, m := range matches {
		full := filepath.Join(dir, filepath.FromSlash(m))
		info, err := osStat(full)
		if err != nil {
			continue
		}
		if info.IsDir() {
			sub, err := walkUnder(dir, m)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func walkUnder(root, relDir string) ([]string, error) {
	var out []string
	base := filepath.Join(root, filepath.FromSlash(relDir))
	err := walkFS(base, func(rel string) {
		out = append(out, filepath.ToSlash(filepath.Join(relDir, rel)))
	})
	return out, err
}

// walkAll returns every non-excluded file under dir, relative to dir.
func walkAll(dir string) ([]string, error) {
	var out []string
	err := walkFS(dir, func(rel string) {
		out = append(out, rel)
	})
	return out, err
}

func walkFS(root string, visit func(rel string)) error {
	return walkDir(root, func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			if excludedDirNames[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		visit(filepath.ToSlash(rel))
		return nil
	})
}

// entryPointPaths extracts every string path reachable from main, module,
// types, typings, bin (string or object form), and exports (recursively
// over nested mapping values, keeping only string leaves that look like
// relative paths).
func entryPointPaths(doc map[string]interface{}) []string {
	var out []string

	for _, key := range []string{"main", "module", "types", "typings"} {
		if s, ok := doc[key].(string); ok && s != "" {
			out = append(out, s)
		}
	}

	switch bin := doc["bin"].(type) {
	case string:
		if bin != "" {
			out = append(out, bin)
		}
	case map[string]interface{}:
		for _, v := range bin {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}

	if exports, ok := doc["exports"]; ok {
		out = append(out, collectExportPaths(exports)...)
	}

	return out
}

func collectExportPaths(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case map[string]interface{}:
		var out []string
		for _, sub := range val {
			out = append(out, collectExportPaths(sub)...)
		}
		return out
	case []interface{}:
		var out []string
		for _, sub := range val {
			out = append(out, collectExportPaths(sub)...)
		}
		return out
	default:
		return nil
	}
}

// selectViaPack shells out to the package manager's own "pack --dry-run"
// when bundledDependencies makes local glob expansion unreliable (bundled
// deps live under node_modules, which this engine otherwise excludes
// wholesale).
func selectViaPack(ctx context.Context, dir string) ([]string, error) {
	result, err := procutil.Run(ctx, dir, "npm", "pack", "--dry-run", "--json")
	if err != nil {
		return nil, err
	}
	return parseNpmPackFileList(result.Stdout)
}
