// Package repostate persists one JSON sidecar per consumer repository under
// the repos directory (see config.Paths.Repos). A repo's identity is its
// canonicalized (absolute, symlink-resolved) path, so different spellings
// of one directory share a sidecar. The sidecar filename mixes a short hash
// of that path with an encoded fragment of it, so names stay unique while
// remaining readable for a human browsing the repos directory. Moving the
// directory to a new path gives it a new sidecar; the old one is left as is.
package repostate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	tmpSuffix   = ".tmp"
	maxNameLen  = 200
	hashHexLen  = 16
)

// Target is one manifest within a repo that references a linked package.
type Target struct {
	Dir      string `json:"dir"`
	Original string `json:"original"`
}

// Link records how one package is currently wired into a repo: the version
// it's pinned at, the tag it was added under (if any), which catalog (if
// any) carries it, and every manifest file that references it.
type Link struct {
	Current       string   `json:"current"`
	Tag           string   `json:"tag,omitempty"`
	CatalogName   string   `json:"catalogName,omitempty"`
	CatalogFormat string   `json:"catalogFormat,omitempty"`
	Targets       []Target `json:"targets"`
}

// State is one consumer repo's persisted record.
type State struct {
	Path     string          `json:"path"`
	Active   bool            `json:"active"`
	LastUsed time.Time       `json:"lastUsed"`
	Packages map[string]Link `json:"packages"`
}

// Store is the repos-directory-backed collection of repo State sidecars.
// Active() results are cached in memory between calls; the cache is
// invalidated by Watch whenever a sidecar is added, edited, or removed on
// disk outside this Store (a second pkglab process, or an operator hand-
// editing a sidecar), so a long-running daemon doesn't re-stat the whole
// repos directory on every request.
type Store struct {
	dir string

	mu          sync.RWMutex
	cachedActive []*State
	cacheValid  bool
}

// New returns a Store rooted at dir (config.Paths.Repos).
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cacheValid = false
	s.cachedActive = nil
	s.mu.Unlock()
}

// filename derives the sidecar filename for a canonicalized absolute path:
// a 16-hex-digit xxhash of the path, "--", then the path with path
// separators and every other character outside [A-Za-z0-9._-] turned into
// "_", keeping only its tail so the whole name stays under filesystem limits.
// The hash half keeps names unique when encoded paths collide or are
// truncated; the encoded half exists purely so a human browsing the
// directory can tell the sidecars apart without opening them.
func filename(canonical string) string {
	sum := xxhash.Sum64String(canonical)
	hash := fmt.Sprintf("%016x", sum)[:hashHexLen]

	encoded := strings.ReplaceAll(canonical, string(filepath.Separator), "_")
	var b strings.Builder
	for _, r := range encoded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	enc := b.String()
	budget := maxNameLen - hashHexLen - 2
	if len(enc) > budget {
		enc = enc[len(enc)-budget:]
	}
	return hash + "--" + enc + ".json"
}

// Canonicalize resolves path to an absolute, symlink-resolved form suitable
// for identity comparison. Repos that don't yet exist on disk (a rename in
// progress) fall back to the absolute, non-resolved form.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("repostate: resolve %s: %w", path, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}

func (s *Store) pathFor(canonical string) string {
	return filepath.Join(s.dir, filename(canonical))
}

// LoadByPath reads the State for path, if any.
func (s *Store) LoadByPath(path string) (*State, bool, error) {
	canonical, err := Canonicalize(path)
	if err != nil {
		return nil, false, err
	}
	return s.loadCanonical(canonical)
}

func (s *Store) loadCanonical(canonical string) (*State, bool, error) {
	data, err := os.ReadFile(s.pathFor(canonical))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false, fmt.Errorf("repostate: parse %s: %w", canonical, err)
	}
	return &st, true, nil
}

// SaveByPath atomically writes st's sidecar, keyed by the canonicalized
// form of st.Path.
func (s *Store) SaveByPath(st *State) error {
	canonical, err := Canonicalize(st.Path)
	if err != nil {
		return err
	}
	st.Path = canonical

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("repostate: mkdir %s: %w", s.dir, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	final := s.pathFor(canonical)
	tmp := final + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("repostate: write temp for %s: %w", canonical, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// DeleteByPath removes path's sidecar, tolerating it already being absent.
func (s *Store) DeleteByPath(path string) error {
	canonical, err := Canonicalize(path)
	if err != nil {
		return err
	}
	err = os.Remove(s.pathFor(canonical))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	s.invalidate()
	return nil
}

// SetActive loads path's state (creating an inactive skeleton if none
// exists), flips its Active flag, stamps LastUsed, and saves.
func (s *Store) SetActive(path string, active bool) (*State, error) {
	canonical, err := Canonicalize(path)
	if err != nil {
		return nil, err
	}
	st, ok, err := s.loadCanonical(canonical)
	if err != nil {
		return nil, err
	}
	if !ok {
		st = &State{Path: canonical, Packages: map[string]Link{}}
	}
	st.Active = active
	st.LastUsed = time.Now().UTC()
	if err := s.SaveByPath(st); err != nil {
		return nil, err
	}
	return st, nil
}

// LoadAll reads every sidecar under the repos directory.
func (s *Store) LoadAll() ([]*State, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []*State
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var st State
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		out = append(out, &st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Active returns every repo currently marked active. The result is served
// from cache when Watch has not observed any sidecar change since the last
// load.
func (s *Store) Active() ([]*State, error) {
	s.mu.RLock()
	if s.cacheValid {
		out := s.cachedActive
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	all, err := s.LoadAll()
	if err != nil {
		return nil, err
	}
	var out []*State
	for _, st := range all {
		if st.Active {
			out = append(out, st)
		}
	}

	s.mu.Lock()
	s.cachedActive = out
	s.cacheValid = true
	s.mu.Unlock()

	return out, nil
}

// DisplayName returns packageJSONName if non-empty, else the directory
// basename of st.Path.
func (st *State) DisplayName(packageJSONName string) string {
	if packageJSONName != "" {
		return packageJSONName
	}
	return filepath.Base(st.Path)
}

// ConsumerDeps returns the union of every linked package name across every
// active repo in states, used by depgraph.Graph.Plan's consumer-aware
// dependent-pruning phase.
func ConsumerDeps(states []*State) map[string]bool {
	out := map[string]bool{}
	for _, st := range states {
		if !st.Active {
			continue
		}
		for name := range st.Packages {
			out[name] = true
		}
	}
	return out
}
