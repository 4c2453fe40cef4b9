package pkgapi

import (
	"path"

	"github.com/pkglab/pkglab/pkgstore"
)

// mergePackuments combines an upstream packument with a locally-published
// one: upstream is the base, local versions and dist-tags overlay it, and
// every version's dist.tarball (whichever side it came from) is rewritten to
// point at this registry so the subsequent tarball fetch also passes
// through. _id, _rev, and name always come from the local document.
func mergePackuments(local, upstream pkgstore.Packument, selfBase string) pkgstore.Packument {
	merged := upstream.Clone()

	for v, doc := range local.Versions() {
		merged.Versions()[v] = doc
	}
	for tag, v := range local.DistTags() {
		merged.SetDistTag(tag, v)
	}
	merged.SetIdentity(local.ID(), local.Rev(), local.Name())

	rewriteTarballs(merged, selfBase)
	return merged
}

// localOnly returns a clone of doc with every dist.tarball rewritten to
// point at this registry, for the path where an upstream fetch isn't
// available or isn't needed.
func localOnly(doc pkgstore.Packument, selfBase string) pkgstore.Packument {
	out := doc.Clone()
	rewriteTarballs(out, selfBase)
	return out
}

func rewriteTarballs(doc pkgstore.Packument, selfBase string) {
	name := doc.Name()
	versions := doc.Versions()
	for v, raw := range versions {
		versionDoc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		current := pkgstore.VersionTarball(versionDoc)
		if current == "" {
			continue
		}
		filename := path.Base(current)
		// Version documents may be shared with the stored packument: rewrite a copy.
		copied := make(map[string]interface{}, len(versionDoc))
		for k, val := range versionDoc {
			copied[k] = val
		}
		dist := map[string]interface{}{}
		for k, val := range versionDoc["dist"].(map[string]interface{}) {
			dist[k] = val
		}
		copied["dist"] = dist
		pkgstore.SetVersionTarball(copied, selfBase+"/"+name+"/-/"+filename)
		versions[v] = copied
	}
}
