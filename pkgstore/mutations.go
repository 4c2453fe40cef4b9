package pkgstore

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrVersionExists is returned by Publish when the version being published
// is already present.
type ErrVersionExists struct {
	Name, Version string
}

func (e *ErrVersionExists) Error() string {
	return fmt.Sprintf("version %s of %s already published", e.Version, e.Name)
}

// ErrRevMismatch is returned by mutation operations that take an expected
// _rev when the document's current _rev does not match.
type ErrRevMismatch struct {
	Name, Want, Got string
}

func (e *ErrRevMismatch) Error() string {
	return fmt.Sprintf("revision mismatch for %s: have %s, got %s", e.Name, e.Got, e.Want)
}

// PublishRequest is the decoded body of PUT /<name>, trimmed to what the
// storage engine needs: exactly one new version and at least one attachment.
type PublishRequest struct {
	Name        string
	Version     string
	VersionDoc  map[string]interface{}
	DistTags    map[string]string
	Attachments map[string]Attachment
}

// Attachment is one entry of a publish payload's _attachments map.
type Attachment struct {
	ContentType string
	DataBase64  string
}

// Publish runs the full read-check-mutate-write sequence for a new version
// under name's lock: reject if the version already exists, write every
// attachment to disk with a sanitized basename, merge the version and
// dist-tags into the packument, stamp time[version], strip attachment data,
// and commit.
func (s *Store) Publish(req PublishRequest) error {
	return s.WithLock(req.Name, func() error {
		doc, ok := s.Get(req.Name)
		if !ok {
			doc = NewPackument(req.Name)
		} else {
			doc = doc.Clone()
		}

		if doc.HasVersion(req.Version) {
			return &ErrVersionExists{Name: req.Name, Version: req.Version}
		}

		for filename, att := range req.Attachments {
			base := sanitizeAttachmentName(filename)
			if base == "" {
				return fmt.Errorf("pkgstore: attachment %q sanitizes to empty filename", filename)
			}
			raw, err := base64.StdEncoding.DecodeString(att.DataBase64)
			if err != nil {
				return fmt.Errorf("pkgstore: decode attachment %s: %w", filename, err)
			}
			if len(raw) == 0 {
				return fmt.Errorf("pkgstore: attachment %s is empty", filename)
			}
			if err := s.saveTarball(req.Name, base, raw); err != nil {
				return err
			}
			SetVersionTarball(req.VersionDoc, base)
		}

		doc.SetVersion(req.Version, req.VersionDoc)
		for tag, v := range req.DistTags {
			doc.SetDistTag(tag, v)
		}
		doc.SetTime(req.Version, time.Now().UTC().Format(time.RFC3339))
		doc.StripAttachmentData()
		doc.BumpRev()

		return s.savePackument(req.Name, doc)
	})
}

// sanitizeAttachmentName reduces an attachment key to its basename and
// rejects path traversal or hidden-separator tricks.
func sanitizeAttachmentName(name string) string {
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == ".." || base == "" {
		return ""
	}
	if strings.ContainsAny(base, "\x00") {
		return ""
	}
	return base
}

// SetDistTag validates that version exists, then sets tag under name's
// lock.
func (s *Store) SetDistTag(name, tag, version string) error {
	return s.WithLock(name, func() error {
		doc, ok := s.Get(name)
		if !ok {
			return fmt.Errorf("pkgstore: package %s not found", name)
		}
		doc = doc.Clone()
		if !doc.HasVersion(version) {
			return fmt.Errorf("pkgstore: version %s not found for %s", version, name)
		}
		doc.SetDistTag(tag, version)
		doc.BumpRev()
		return s.savePackument(name, doc)
	})
}

// UnpublishVersions replaces name's packument with newDoc after verifying
// expectedRev matches the current _rev, and deletes the tarball for every
// version present in the old document but absent from newDoc.
func (s *Store) UnpublishVersions(name, expectedRev string, newDoc Packument) error {
	return s.WithLock(name, func() error {
		return s.UnpublishVersionsLocked(name, expectedRev, newDoc)
	})
}

// UnpublishVersionsLocked is the body of UnpublishVersions without the lock
// acquisition. Callers that already hold name's lock via WithLock (the
// pruner, which mutates dist-tags and versions under the same lock before
// committing) must call this directly instead of UnpublishVersions, since
// Store's per-name mutex is not reentrant.
func (s *Store) UnpublishVersionsLocked(name, expectedRev string, newDoc Packument) error {
	cur, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("pkgstore: package %s not found", name)
	}
	if cur.Rev() != expectedRev {
		return &ErrRevMismatch{Name: name, Want: expectedRev, Got: cur.Rev()}
	}

	removed := diffRemovedVersions(cur.Versions(), newDoc.Versions())
	newDoc.BumpRev()
	if err := s.savePackument(name, newDoc); err != nil {
		return err
	}

	for _, v := range removed {
		if vd, ok := cur.Versions()[v].(map[string]interface{}); ok {
			if tarball := VersionTarball(vd); tarball != "" {
				_ = s.DeleteTarball(name, filepath.Base(tarball))
			}
		}
	}
	return nil
}

func diffRemovedVersions(old, next map[string]interface{}) []string {
	var removed []string
	for v := range old {
		if _, ok := next[v]; !ok {
			removed = append(removed, v)
		}
	}
	return removed
}

// DeletePackage verifies expectedRev and then removes name's whole
// directory tree.
func (s *Store) DeletePackage(name, expectedRev string) error {
	return s.WithLock(name, func() error {
		cur, ok := s.Get(name)
		if !ok {
			return fmt.Errorf("pkgstore: package %s not found", name)
		}
		if cur.Rev() != expectedRev {
			return &ErrRevMismatch{Name: name, Want: expectedRev, Got: cur.Rev()}
		}
		return s.DeletePackageDir(name)
	})
}
