// Package config manages the process-wide path layout rooted at
// $HOME/<app-dir> and the single JSON configuration file the daemon and CLI
// share.
//
// The legacy-format detection in Load below follows a versioned-parser
// pattern: a Version field gates which shape a config file is parsed as.
// This config has exactly one version, so only the "reject anything else"
// half of that pattern applies here.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkglab/pkglab/internal/dcontext"
)

const (
	appDirName           = ".pkglab"
	configFileName       = "config.json"
	fingerprintsFileName = "fingerprints.json"
	reposDirName         = "repos"
	storageDirName       = "storage"
	lockFileName         = "publish.lock"

	currentVersion = 1

	defaultPort      = 4873
	defaultPruneKeep = 5
)

// Config is the process-wide JSON configuration persisted to config.json.
type Config struct {
	Version    int `json:"version"`
	Port       int `json:"port"`
	PruneKeep  int `json:"prune_keep"`
}

// ErrConfigIncompatible is returned when the config on disk is in the pre-v1
// format or carries a version other than the current one.
// It is fatal: the caller should instruct the operator to run `pkglab reset`.
type ErrConfigIncompatible struct {
	Path string
}

func (e *ErrConfigIncompatible) Error() string {
	return fmt.Sprintf("config at %s is in an incompatible legacy format; run `pkglab reset` to upgrade", e.Path)
}

// Paths is the rooted directory layout under $HOME/<app-dir>.
type Paths struct {
	Home    string
	Storage string
	Repos   string
	PID     string
	Lock    string
	Config  string
	Fingerprints string
}

// NewPaths roots the layout at $HOME/.pkglab, or under override if non-empty
// (tests set override to a temp dir).
func NewPaths(override string) (Paths, error) {
	home := override
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("config: resolve home dir: %w", err)
		}
		home = filepath.Join(h, appDirName)
	}

	return Paths{
		Home:         home,
		Storage:      filepath.Join(home, storageDirName),
		Repos:        filepath.Join(home, reposDirName),
		PID:          filepath.Join(home, "pid"),
		Lock:         filepath.Join(home, lockFileName),
		Config:       filepath.Join(home, configFileName),
		Fingerprints: filepath.Join(home, fingerprintsFileName),
	}, nil
}

// EnsureDirs creates every directory the layout needs, idempotently.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Home, p.Storage, p.Repos} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads the config file at p.Config, creating it with defaults if
// absent. A file that looks YAML-style (detected by its first
// non-whitespace byte not being '{') is reported as ErrConfigIncompatible
// rather than silently reinterpreted, as is a JSON file whose version is not
// the current one.
func Load(ctx context.Context, p Paths) (*Config, error) {
	data, err := os.ReadFile(p.Config)
	if os.IsNotExist(err) {
		cfg := &Config{Version: currentVersion, Port: defaultPort, PruneKeep: defaultPruneKeep}
		if err := Save(p, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", p.Config, err)
	}

	if looksLikeLegacyYAML(data) {
		return nil, &ErrConfigIncompatible{Path: p.Config}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", p.Config, err)
	}

	if cfg.Version != currentVersion {
		return nil, &ErrConfigIncompatible{Path: p.Config}
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.PruneKeep == 0 {
		cfg.PruneKeep = defaultPruneKeep
	}

	dcontext.GetLoggerWithField(ctx, "port", cfg.Port).Debug("config loaded")
	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename), the same commit
// discipline the storage engine uses, so a crash mid-write never leaves a
// half-written config.json behind.
func Save(p Paths, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(p.Config), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp := p.Config + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.Config)
}

// looksLikeLegacyYAML is a best-effort sniff for a pre-v1 YAML config: JSON
// documents always start with '{' once whitespace is trimmed, and pkglab has
// never emitted a JSON config with a leading "version:" style key.
func looksLikeLegacyYAML(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return false
		default:
			return true
		}
	}
	return true
}
