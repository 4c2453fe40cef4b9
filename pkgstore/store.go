// Package pkgstore implements the crash-safe, concurrent on-disk store for
// packuments and tarballs: an in-memory packument index backed by
// atomically-written JSON files, per-package locking that serializes
// publish/unpublish/dist-tag mutations, and the small caches (per-package
// merged-upstream packument, filtered index JSON) that keep repeated reads
// cheap.
//
// The temp-file-then-rename commit discipline mirrors config.Save; the
// per-name lock map mirrors the download-lock map pattern used to serialize
// per-tarball work in comparable package-manager tooling: an outer mutex
// guards a map of lazily-created per-key mutexes, so two different package
// names never block each other.
package pkgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkglab/pkglab/internal/dcontext"
	"github.com/pkglab/pkglab/pkgversion"
)

const (
	packageJSONName = "package.json"
	tmpSuffix       = ".tmp"
	mergedCacheTTL  = 5 * time.Minute
)

// Store is the concurrent packument + tarball store rooted at a storage
// directory. The zero value is not usable; construct with New.
type Store struct {
	root string

	mu         sync.RWMutex
	packuments map[string]Packument

	locks lockMap

	cacheMu     sync.Mutex
	mergedCache map[string]mergedEntry

	indexMu    sync.Mutex
	indexJSON  []byte
	indexValid bool
}

type mergedEntry struct {
	doc      Packument
	fetchedAt time.Time
}

// lockMap serializes mutations per package name. Go's runtime mutex enters
// starvation mode under sustained contention, at which point waiters are
// granted the lock in the order they queued, which is the FIFO fairness
// per-name mutation ordering requires.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *lockMap) withLock(name string, fn func() error) error {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn()
}

// New constructs a Store rooted at root. Call LoadAll before serving traffic.
func New(root string) *Store {
	return &Store{
		root:        root,
		packuments:  map[string]Packument{},
		mergedCache: map[string]mergedEntry{},
	}
}

// packageDir returns the on-disk directory for name, handling scoped
// packages (@scope/pkg -> <root>/@scope/pkg).
func (s *Store) packageDir(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// LoadAll walks the storage root, reading every package.json it finds into
// the in-memory index. Per spec, stale .tmp siblings are removed and parse
// errors are logged and skipped rather than treated as fatal: a single
// corrupt packument must never prevent the rest of the registry from coming
// up.
func (s *Store) LoadAll(ctx context.Context) error {
	logger := dcontext.GetLogger(ctx)

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pkgstore: read storage root: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "@") {
			if err := s.loadScope(ctx, filepath.Join(s.root, e.Name())); err != nil {
				logger.WithError(err).WithField("scope", e.Name()).Error("pkgstore: load scope")
			}
			continue
		}
		if err := s.loadOne(filepath.Join(s.root, e.Name()), e.Name()); err != nil {
			logger.WithError(err).WithField("package", e.Name()).Warn("pkgstore: skipping unreadable package")
		}
	}
	return nil
}

func (s *Store) loadScope(ctx context.Context, scopeDir string) error {
	logger := dcontext.GetLogger(ctx)
	entries, err := os.ReadDir(scopeDir)
	if err != nil {
		return err
	}
	scope := filepath.Base(scopeDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := scope + "/" + e.Name()
		if err := s.loadOne(filepath.Join(scopeDir, e.Name()), name); err != nil {
			logger.WithError(err).WithField("package", name).Warn("pkgstore: skipping unreadable package")
		}
	}
	return nil
}

func (s *Store) loadOne(dir, name string) error {
	if err := removeStaleTemps(dir); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(dir, packageJSONName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var doc Packument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}

	s.mu.Lock()
	s.packuments[name] = doc
	s.mu.Unlock()
	return nil
}

func removeStaleTemps(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tmpSuffix) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// Get returns the in-memory packument for name, if any.
func (s *Store) Get(name string) (Packument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.packuments[name]
	return doc, ok
}

// Names returns every locally-known package name.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.packuments))
	for name := range s.packuments {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// WithLock runs fn while holding name's per-package mutation lock. Every
// publish, unpublish, dist-tag, and delete path must go through this.
func (s *Store) WithLock(name string, fn func() error) error {
	return s.locks.withLock(name, fn)
}

// savePackument commits doc to disk via temp-file-then-rename and only then
// updates the in-memory index and invalidates caches. The rename is the
// commit point: a crash before it leaves the previously-committed file
// untouched.
func (s *Store) savePackument(name string, doc Packument) error {
	dir := s.packageDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pkgstore: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("pkgstore: marshal %s: %w", name, err)
	}

	final := filepath.Join(dir, packageJSONName)
	tmp := final + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pkgstore: write temp for %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("pkgstore: commit %s: %w", name, err)
	}

	s.mu.Lock()
	s.packuments[name] = doc
	s.mu.Unlock()

	s.invalidate(name)
	return nil
}

// saveTarball writes a tarball's raw bytes to <packageDir>/-/<filename>
// atomically.
func (s *Store) saveTarball(name, filename string, data []byte) error {
	dir := filepath.Join(s.packageDir(name), "-")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pkgstore: mkdir %s: %w", dir, err)
	}

	final := filepath.Join(dir, filename)
	tmp := final + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pkgstore: write temp tarball %s: %w", filename, err)
	}
	return os.Rename(tmp, final)
}

// TarballPath returns the on-disk path a tarball for name/filename would
// live at, whether or not it currently exists.
func (s *Store) TarballPath(name, filename string) string {
	return filepath.Join(s.packageDir(name), "-", filename)
}

// DeleteTarball removes a single tarball file, tolerating it already being
// absent.
func (s *Store) DeleteTarball(name, filename string) error {
	err := os.Remove(s.TarballPath(name, filename))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// DeletePackageDir removes name's whole directory tree, and its scope
// directory too if that becomes empty.
func (s *Store) DeletePackageDir(name string) error {
	dir := s.packageDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.packuments, name)
	s.mu.Unlock()
	s.invalidate(name)

	if scope, _, ok := strings.Cut(name, "/"); ok && strings.HasPrefix(scope, "@") {
		scopeDir := filepath.Join(s.root, scope)
		entries, err := os.ReadDir(scopeDir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(scopeDir)
		}
	}
	return nil
}

func (s *Store) invalidate(name string) {
	s.cacheMu.Lock()
	delete(s.mergedCache, name)
	s.cacheMu.Unlock()

	s.indexMu.Lock()
	s.indexValid = false
	s.indexMu.Unlock()
}

// MergedCached returns the cached merged-upstream packument for name if it
// was populated within mergedCacheTTL.
func (s *Store) MergedCached(name string) (Packument, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	entry, ok := s.mergedCache[name]
	if !ok || time.Since(entry.fetchedAt) > mergedCacheTTL {
		return Packument{}, false
	}
	return entry.doc, true
}

// CacheMerged stores doc as the merged-upstream result for name.
func (s *Store) CacheMerged(name string, doc Packument) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.mergedCache[name] = mergedEntry{doc: doc, fetchedAt: time.Now()}
}

// CheckWritable verifies the storage root exists and accepts writes, by
// creating and removing a throwaway temp file. Used by the /-/ready control
// endpoint to distinguish "process is alive" from "storage is usable".
func (s *Store) CheckWritable() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("pkgstore: storage root not writable: %w", err)
	}
	probe := filepath.Join(s.root, ".ready-probe"+tmpSuffix)
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("pkgstore: storage root not writable: %w", err)
	}
	return os.Remove(probe)
}

// Index returns the pkglab-filtered index document, building and caching it
// on first use after invalidation. See buildIndex for the filtering rules.
func (s *Store) Index() []byte {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if s.indexValid {
		return s.indexJSON
	}

	s.mu.RLock()
	snapshot := make(map[string]Packument, len(s.packuments))
	for k, v := range s.packuments {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	doc := buildIndex(snapshot)
	data, err := json.Marshal(doc)
	if err != nil {
		// Index is advisory; degrade to an empty document rather than panic.
		data = []byte(`{"packages":{}}`)
	}

	s.indexJSON = data
	s.indexValid = true
	return data
}

// indexDoc is the shape buildIndex produces: only marker-prefixed versions and
// the dist-tags that point at one of them.
type indexDoc struct {
	Packages map[string]indexPackage `json:"packages"`
}

type indexPackage struct {
	Rev       string            `json:"rev"`
	DistTags  map[string]string `json:"dist-tags"`
	Versions  []string          `json:"versions"`
}

func buildIndex(packuments map[string]Packument) indexDoc {
	out := indexDoc{Packages: map[string]indexPackage{}}
	for name, doc := range packuments {
		var marked []string
		for v := range doc.Versions() {
			if pkgversion.IsMarker(v) {
				marked = append(marked, v)
			}
		}
		if len(marked) == 0 {
			continue
		}
		sort.Strings(marked)

		tags := map[string]string{}
		markedSet := make(map[string]bool, len(marked))
		for _, v := range marked {
			markedSet[v] = true
		}
		for tag, v := range doc.DistTags() {
			if markedSet[v] {
				tags[tag] = v
			}
		}

		out.Packages[name] = indexPackage{
			Rev:      doc.Rev(),
			DistTags: tags,
			Versions: marked,
		}
	}
	return out
}
