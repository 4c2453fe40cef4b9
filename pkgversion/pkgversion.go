// Package pkgversion synthesizes and parses the synthetic prerelease
// versions pkglab assigns to workspace publishes, in the form
//
//	0.0.0-<marker>[-<tag>].<ts>
//
// Every synthesized string is round-tripped through semver.NewVersion
// before being returned, so a bug in the codec fails loudly instead of
// producing a version no package manager can parse.
package pkgversion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Marker is the prerelease identifier that distinguishes pkglab-synthesized
// versions from anything a package manager or another tool might assign.
const Marker = "pkglab"

var markerPrefix = "0.0.0-" + Marker

// tagSanitizePattern matches runs of characters outside [A-Za-z0-9-].
var tagSanitizePattern = regexp.MustCompile(`[^A-Za-z0-9-]+`)
var hyphenRunPattern = regexp.MustCompile(`-{2,}`)

const maxTagLen = 50

// Codec synthesizes monotonically increasing marker versions. The zero value
// is usable; Codec is safe for concurrent use.
//
// lastIssued is a monotonic counter guaranteeing strictly increasing
// timestamps across rapid calls and across small clock skew. It is bound to
// the Codec instance (injected at construction) rather than kept as a
// package-level global, so multiple independent codecs never share state.
type Codec struct {
	mu         sync.Mutex
	lastIssued int64
}

// New returns a ready-to-use Codec.
func New() *Codec {
	return &Codec{}
}

// Synthesize returns a new monotonically-increasing marker version. now is
// the caller's notion of wall-clock time (usually time.Now()); tag, if
// non-empty, is sanitized via SanitizeTag and embedded before the timestamp.
func (c *Codec) Synthesize(now time.Time, tag string) (string, error) {
	sanitized := ""
	if tag != "" {
		s, err := SanitizeTag(tag)
		if err != nil {
			return "", err
		}
		sanitized = s
	}

	c.mu.Lock()
	ts := now.UnixMilli()
	if ts <= c.lastIssued {
		ts = c.lastIssued + 1
	}
	c.lastIssued = ts
	c.mu.Unlock()

	var v string
	if sanitized != "" {
		v = fmt.Sprintf("%s-%s.%d", markerPrefix, sanitized, ts)
	} else {
		v = fmt.Sprintf("%s.%d", markerPrefix, ts)
	}

	if _, err := semver.NewVersion(v); err != nil {
		return "", fmt.Errorf("pkgversion: synthesized invalid semver %q: %w", v, err)
	}
	return v, nil
}

// IsMarker reports whether v is a version pkglab synthesized.
func IsMarker(v string) bool {
	return strings.HasPrefix(v, markerPrefix+".") || strings.HasPrefix(v, markerPrefix+"-")
}

// ExtractTimestamp returns the trailing decimal-ms timestamp component of a
// marker version, or 0, false if v is not a marker version.
func ExtractTimestamp(v string) (int64, bool) {
	if !IsMarker(v) {
		return 0, false
	}
	idx := strings.LastIndex(v, ".")
	if idx < 0 {
		return 0, false
	}
	ts, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// ExtractTag returns the sanitized tag component of a marker version, if
// any. "" is returned both when there is no tag and when v is not a marker
// version; use IsMarker to distinguish.
func ExtractTag(v string) string {
	if !IsMarker(v) {
		return ""
	}
	rest := strings.TrimPrefix(v, markerPrefix)
	// rest is either ".<ts>" (no tag) or "-<tag>.<ts>"
	if !strings.HasPrefix(rest, "-") {
		return ""
	}
	rest = strings.TrimPrefix(rest, "-")
	idx := strings.LastIndex(rest, ".")
	if idx < 0 {
		return ""
	}
	return rest[:idx]
}

// SanitizeTag normalizes a user-supplied tag for embedding in a marker
// version: slashes become hyphens, anything outside [A-Za-z0-9-] is
// stripped, repeated hyphens collapse, boundary hyphens are trimmed, and the
// result is truncated to 50 chars. Returns an error if sanitization yields
// "".
func SanitizeTag(tag string) (string, error) {
	s := strings.ReplaceAll(tag, "/", "-")
	s = tagSanitizePattern.ReplaceAllString(s, "")
	s = hyphenRunPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxTagLen {
		s = s[:maxTagLen]
		s = strings.TrimRight(s, "-")
	}
	if s == "" {
		return "", fmt.Errorf("pkgversion: tag %q sanitizes to empty string", tag)
	}
	return s, nil
}
