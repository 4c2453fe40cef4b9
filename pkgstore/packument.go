package pkgstore

import (
	"encoding/json"
	"fmt"
)

// Packument is an npm packument. The fixed top-level fields every packument
// carries (_id, _rev, name, time) are modeled as real struct fields;
// versions and dist-tags stay sparse maps because their value shapes vary
// per entry and are never fully enumerated by any one client. Any other
// top-level field an upstream or client-supplied document carries (readme,
// author, repository, ...) round-trips unexamined through extra, so merging
// and re-serializing a fetched document never silently drops fields this
// engine doesn't otherwise know about.
type Packument struct {
	id          string
	rev         string
	name        string
	distTags    map[string]string
	versions    map[string]interface{}
	time        map[string]string
	attachments map[string]interface{}
	extra       map[string]interface{}
}

// NewPackument builds an empty packument skeleton for name.
func NewPackument(name string) Packument {
	return Packument{
		id:       name,
		rev:      "1",
		name:     name,
		distTags: map[string]string{},
		versions: map[string]interface{}{},
		time:     map[string]string{},
		extra:    map[string]interface{}{},
	}
}

// Clone returns a copy whose top-level maps (dist-tags, versions, time,
// _attachments, extra) are all new, so adding, removing or replacing entries
// on the clone never touches the original. The values inside those maps,
// such as each version document, are shared with the original, not copied.
func (p Packument) Clone() Packument {
	out := Packument{id: p.id, rev: p.rev, name: p.name}

	out.distTags = make(map[string]string, len(p.distTags))
	for k, v := range p.distTags {
		out.distTags[k] = v
	}
	out.versions = make(map[string]interface{}, len(p.versions))
	for k, v := range p.versions {
		out.versions[k] = v
	}
	out.time = make(map[string]string, len(p.time))
	for k, v := range p.time {
		out.time[k] = v
	}
	if len(p.attachments) > 0 {
		out.attachments = make(map[string]interface{}, len(p.attachments))
		for k, v := range p.attachments {
			out.attachments[k] = v
		}
	}
	out.extra = make(map[string]interface{}, len(p.extra))
	for k, v := range p.extra {
		out.extra[k] = v
	}
	return out
}

func (p Packument) Name() string {
	return p.name
}

// ID returns the _id field (normally identical to Name, but both are
// present on the wire and carried independently).
func (p Packument) ID() string {
	return p.id
}

func (p Packument) Rev() string {
	return p.rev
}

// SetIdentity overwrites _id, _rev, and name, used when overlaying a
// locally-published document's identity onto an otherwise-upstream-derived
// merged packument.
func (p *Packument) SetIdentity(id, rev, name string) {
	p.id = id
	p.rev = rev
	p.name = name
}

// BumpRev increments the numeric prefix of the current revision and stores
// it back, npm-registry style ("1", "2", "3", ...).
func (p *Packument) BumpRev() string {
	cur := 0
	fmt.Sscanf(p.rev, "%d", &cur)
	next := fmt.Sprintf("%d", cur+1)
	p.rev = next
	return next
}

// DistTags returns the dist-tags map (tag name -> version string).
func (p Packument) DistTags() map[string]string {
	if p.distTags == nil {
		return map[string]string{}
	}
	return p.distTags
}

// SetDistTag sets tag to point at version.
func (p *Packument) SetDistTag(tag, version string) {
	if p.distTags == nil {
		p.distTags = map[string]string{}
	}
	p.distTags[tag] = version
}

// DeleteDistTag removes tag if present.
func (p *Packument) DeleteDistTag(tag string) {
	delete(p.distTags, tag)
}

// Versions returns the version -> version-document map.
func (p Packument) Versions() map[string]interface{} {
	if p.versions == nil {
		return map[string]interface{}{}
	}
	return p.versions
}

// HasVersion reports whether version is already published.
func (p Packument) HasVersion(version string) bool {
	_, ok := p.versions[version]
	return ok
}

// SetVersion installs (or overwrites) the document for version.
func (p *Packument) SetVersion(version string, doc map[string]interface{}) {
	if p.versions == nil {
		p.versions = map[string]interface{}{}
	}
	p.versions[version] = doc
}

// DeleteVersion removes version, returning whether it had been present.
func (p *Packument) DeleteVersion(version string) bool {
	_, ok := p.versions[version]
	delete(p.versions, version)
	return ok
}

// SetTime records an ISO-8601 timestamp for version (or "created"/"modified").
func (p *Packument) SetTime(key, iso string) {
	if p.time == nil {
		p.time = map[string]string{}
	}
	p.time[key] = iso
}

// Attachments returns the _attachments map, if any.
func (p Packument) Attachments() map[string]interface{} {
	return p.attachments
}

// StripAttachmentData removes the base64 "data" field from every attachment
// entry, leaving metadata (content_type, length) intact, and then drops the
// _attachments key entirely if it became empty.
func (p *Packument) StripAttachmentData() {
	for name, v := range p.attachments {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		delete(entry, "data")
		p.attachments[name] = entry
	}
	if len(p.attachments) == 0 {
		p.attachments = nil
	}
}

// VersionTarball returns the dist.tarball URL recorded for version, if any.
func VersionTarball(versionDoc map[string]interface{}) string {
	dist, ok := versionDoc["dist"].(map[string]interface{})
	if !ok {
		return ""
	}
	tarball, _ := dist["tarball"].(string)
	return tarball
}

// SetVersionTarball rewrites the dist.tarball URL on a version document in
// place.
func SetVersionTarball(versionDoc map[string]interface{}, url string) {
	dist, ok := versionDoc["dist"].(map[string]interface{})
	if !ok {
		dist = map[string]interface{}{}
		versionDoc["dist"] = dist
	}
	dist["tarball"] = url
}

// MarshalJSON writes the packument in npm wire form: the typed fields under
// their hyphenated/underscore keys, plus whatever extra top-level fields
// were preserved from the document this one was decoded from or merged
// with.
func (p Packument) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.extra)+7)
	for k, v := range p.extra {
		out[k] = v
	}
	out["_id"] = p.id
	out["_rev"] = p.rev
	out["name"] = p.name
	out["dist-tags"] = p.DistTags()
	out["versions"] = p.Versions()
	out["time"] = p.timeOrEmpty()
	if len(p.attachments) > 0 {
		out["_attachments"] = p.attachments
	}
	return json.Marshal(out)
}

func (p Packument) timeOrEmpty() map[string]string {
	if p.time == nil {
		return map[string]string{}
	}
	return p.time
}

// UnmarshalJSON accepts any npm packument document: the fixed fields are
// pulled into their typed struct fields, versions/dist-tags/time/
// _attachments stay sparse maps, and every other top-level key is kept
// verbatim in extra so re-marshaling doesn't drop it.
func (p *Packument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	extra := map[string]interface{}{}
	for k, v := range raw {
		switch k {
		case "_id":
			if err := json.Unmarshal(v, &p.id); err != nil {
				return fmt.Errorf("pkgstore: decode _id: %w", err)
			}
		case "_rev":
			rev, err := decodeRev(v)
			if err != nil {
				return fmt.Errorf("pkgstore: decode _rev: %w", err)
			}
			p.rev = rev
		case "name":
			if err := json.Unmarshal(v, &p.name); err != nil {
				return fmt.Errorf("pkgstore: decode name: %w", err)
			}
		case "dist-tags":
			if err := json.Unmarshal(v, &p.distTags); err != nil {
				return fmt.Errorf("pkgstore: decode dist-tags: %w", err)
			}
		case "versions":
			if err := json.Unmarshal(v, &p.versions); err != nil {
				return fmt.Errorf("pkgstore: decode versions: %w", err)
			}
		case "time":
			if err := json.Unmarshal(v, &p.time); err != nil {
				return fmt.Errorf("pkgstore: decode time: %w", err)
			}
		case "_attachments":
			if err := json.Unmarshal(v, &p.attachments); err != nil {
				return fmt.Errorf("pkgstore: decode _attachments: %w", err)
			}
		default:
			var val interface{}
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("pkgstore: decode %s: %w", k, err)
			}
			extra[k] = val
		}
	}

	if p.distTags == nil {
		p.distTags = map[string]string{}
	}
	if p.versions == nil {
		p.versions = map[string]interface{}{}
	}
	if p.time == nil {
		p.time = map[string]string{}
	}
	p.extra = extra
	return nil
}

// decodeRev accepts either a JSON string or number for _rev: some upstream
// registries encode it as a bare integer.
func decodeRev(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("_rev is neither a string nor a number")
}
