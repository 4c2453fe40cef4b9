package pkgapi

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// decodeName URL-decodes a path segment exactly once and rejects anything
// that looks like path traversal, a raw NUL, or double-encoding (a residual
// '%' after one decode pass almost always means the client encoded the
// separator twice to smuggle a traversal past naive decoders).
func decodeName(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("pkgapi: malformed package name %q: %w", raw, err)
	}

	if strings.Contains(decoded, "..") ||
		strings.Contains(decoded, "\\") ||
		strings.ContainsRune(decoded, 0) ||
		strings.ContainsRune(decoded, '%') {
		return "", fmt.Errorf("pkgapi: invalid package name %q", raw)
	}
	return decoded, nil
}

// sanitizeAttachmentFilename reduces a client-supplied attachment filename
// to its basename and re-validates that: an empty, ".", ".." or
// separator-only result and any NUL byte are rejected. Unlike decodeName it
// does not URL-decode and does not reject '%' or a backslash.
func sanitizeAttachmentFilename(name string) (string, error) {
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == ".." || base == "" || base == string(filepath.Separator) {
		return "", fmt.Errorf("pkgapi: invalid attachment filename %q", name)
	}
	if strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("pkgapi: invalid attachment filename %q", name)
	}
	return base, nil
}
