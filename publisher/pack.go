package publisher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

var tarballExcludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// Tarball is a packed publish artifact: its bytes, the rewritten
// package.json document actually packed (for building the publish
// payload's version metadata), and its subresource-integrity string.
type Tarball struct {
	Data        []byte
	PackageJSON map[string]interface{}
	Integrity   string
	Filename    string
}

// Pack walks entry's source tree (skipping node_modules and .git) straight
// into an npm-shaped tarball (a single top-level "package/" directory) and
// computes its integrity digest. The package.json placed in the tarball is a
// rewritten copy carrying entry.Version and entry.RewrittenDeps, with the
// "workspace:" protocol tag stripped from devDependencies, which are never
// installed downstream and so need no version rewrite, only the protocol
// marker removed so an ordinary package manager doesn't choke on it. The
// package.json on disk is not modified.
func Pack(entry Entry) (Tarball, error) {
	rawDoc, err := readPackageJSON(entry.Dir)
	if err != nil {
		return Tarball{}, err
	}

	doc := rewritePackageJSON(rawDoc, entry)

	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)

	if err := addTreeToTar(tw, entry.Dir, doc); err != nil {
		return Tarball{}, err
	}
	if err := tw.Close(); err != nil {
		return Tarball{}, err
	}
	if err := gz.Close(); err != nil {
		return Tarball{}, err
	}

	integrity, err := subresourceIntegrity(buf.Bytes())
	if err != nil {
		return Tarball{}, err
	}

	return Tarball{
		Data:        buf.Bytes(),
		PackageJSON: doc,
		Integrity:   integrity,
		Filename:    fmt.Sprintf("%s-%s.tgz", tarballBaseName(entry.Name), entry.Version),
	}, nil
}

func tarballBaseName(name string) string {
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func readPackageJSON(dir string) (map[string]interface{}, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s/package.json: %w", dir, err)
	}
	return doc, nil
}

func rewritePackageJSON(raw map[string]interface{}, entry Entry) map[string]interface{} {
	doc := map[string]interface{}{}
	for k, v := range raw {
		doc[k] = v
	}
	doc["version"] = entry.Version

	for _, field := range rewrittenDepFields {
		section, ok := doc[field].(map[string]interface{})
		if !ok {
			continue
		}
		rewritten := map[string]interface{}{}
		for name, spec := range section {
			if target, ok := entry.RewrittenDeps[name]; ok {
				rewritten[name] = target
				continue
			}
			rewritten[name] = spec
		}
		doc[field] = rewritten
	}

	if dev, ok := doc["devDependencies"].(map[string]interface{}); ok {
		stripped := map[string]interface{}{}
		for name, spec := range dev {
			if s, ok := spec.(string); ok && strings.HasPrefix(s, "workspace:") {
				stripped[name] = strings.TrimPrefix(s, "workspace:")
				continue
			}
			stripped[name] = spec
		}
		doc["devDependencies"] = stripped
	}

	return doc
}

func addTreeToTar(tw *tar.Writer, srcDir string, packageJSON map[string]interface{}) error {
	rewritten, err := json.MarshalIndent(packageJSON, "", "  ")
	if err != nil {
		return err
	}

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		if d.IsDir() {
			if tarballExcludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		var data []byte
		if rel == "package.json" {
			data = rewritten
		} else {
			data, err = os.ReadFile(path)
			if err != nil {
				return err
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name: "package/" + rel,
			Mode: int64(info.Mode().Perm()),
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
}

// subresourceIntegrity hashes data with go-digest's SHA-512 algorithm and
// reformats the result as an npm-style "sha512-<base64>" integrity string.
func subresourceIntegrity(data []byte) (string, error) {
	digester := digest.SHA512.Digester()
	if _, err := io.Copy(digester.Hash(), bytes.NewReader(data)); err != nil {
		return "", err
	}
	d := digester.Digest()
	raw, err := hexToBytes(d.Encoded())
	if err != nil {
		return "", err
	}
	return "sha512-" + bytesToBase64(raw), nil
}
