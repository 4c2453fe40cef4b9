package pkgapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/pkglab/pkglab/internal/errcode"
	"github.com/pkglab/pkglab/pkgqueue"
	"github.com/pkglab/pkglab/pkgstore"
)

func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(r.store.Index())
}

func (r *Router) handlePublishStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(r.queue.Status())
}

type publishEnqueueBody struct {
	WorkspaceRoot string   `json:"workspaceRoot"`
	Targets       []string `json:"targets"`
	Tag           string   `json:"tag"`
	Force         bool     `json:"force"`
	Shallow       bool     `json:"shallow"`
	Single        bool     `json:"single"`
	Root          bool     `json:"root"`
	DryRun        bool     `json:"dryRun"`
}

func (r *Router) handlePublishEnqueue(w http.ResponseWriter, req *http.Request) {
	var body publishEnqueueBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage("malformed publish request body"))
		return
	}
	if body.WorkspaceRoot == "" {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage("workspaceRoot is required"))
		return
	}

	result := r.queue.Enqueue(req.Context(), pkgqueue.Request{
		WorkspaceRoot: body.WorkspaceRoot,
		Tag:           body.Tag,
		Targets:       body.Targets,
		Root:          body.Root,
		Force:         body.Force,
		Single:        body.Single,
		Shallow:       body.Shallow,
		DryRun:        body.DryRun,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"jobId": result.JobID, "status": result.Status})
}

func (r *Router) handleSetDistTag(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name, err := decodeName(vars["name"])
	if err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(err.Error()))
		return
	}
	tag := vars["tag"]

	var version string
	if err := json.NewDecoder(req.Body).Decode(&version); err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage("dist-tag body must be a JSON string"))
		return
	}

	if err := r.store.SetDistTag(name, tag, version); err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeNotFound.WithMessage(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

type publishBody struct {
	Versions    map[string]map[string]interface{} `json:"versions"`
	DistTags    map[string]string                  `json:"dist-tags"`
	Attachments map[string]struct {
		ContentType string `json:"content_type"`
		Data        string `json:"data"`
	} `json:"_attachments"`
}

func (r *Router) handlePublish(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name, err := decodeName(vars["name"])
	if err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(err.Error()))
		return
	}

	var body publishBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage("malformed publish payload"))
		return
	}
	if len(body.Versions) != 1 {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage("publish payload must contain exactly one version"))
		return
	}
	if len(body.Attachments) == 0 {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage("publish payload must contain at least one attachment"))
		return
	}

	var version string
	var versionDoc map[string]interface{}
	for v, doc := range body.Versions {
		version, versionDoc = v, doc
	}

	attachments := map[string]pkgstore.Attachment{}
	for filename, att := range body.Attachments {
		base, err := sanitizeAttachmentFilename(filename)
		if err != nil {
			errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(err.Error()))
			return
		}
		if att.Data == "" {
			errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(fmt.Sprintf("attachment %s is empty", filename)))
			return
		}
		attachments[base] = pkgstore.Attachment{ContentType: att.ContentType, DataBase64: att.Data}
	}

	err = r.store.Publish(pkgstore.PublishRequest{
		Name:        name,
		Version:     version,
		VersionDoc:  versionDoc,
		DistTags:    body.DistTags,
		Attachments: attachments,
	})
	if err != nil {
		var exists *pkgstore.ErrVersionExists
		if asVersionExists(err, &exists) {
			errcode.ServeJSON(w, errcode.ErrorCodeConflict.WithMessage(err.Error()))
			return
		}
		errcode.ServeJSON(w, errcode.ErrorCodeInternal.WithMessage(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"ok":true}`))
}

func asVersionExists(err error, target **pkgstore.ErrVersionExists) bool {
	if e, ok := err.(*pkgstore.ErrVersionExists); ok {
		*target = e
		return true
	}
	return false
}

func (r *Router) handleGetPackument(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name, err := decodeName(vars["name"])
	if err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(err.Error()))
		return
	}

	local, ok := r.store.Get(name)
	if !ok {
		if r.upstream != nil {
			if up, err := r.upstream.FetchPackument(req.Context(), name); err == nil {
				rewriteTarballs(up, selfBase(req))
				writePackument(w, req, up)
				return
			}
		}
		errcode.ServeJSON(w, errcode.ErrorCodeNotFound.WithMessage(fmt.Sprintf("package %s not found", name)))
		return
	}

	if cached, ok := r.store.MergedCached(name); ok {
		writePackument(w, req, cached)
		return
	}

	if r.upstream == nil {
		writePackument(w, req, localOnly(local, selfBase(req)))
		return
	}

	up, err := r.upstream.FetchPackument(req.Context(), name)
	if err != nil {
		// Upstream failure degrades to local-only, not an error response.
		writePackument(w, req, localOnly(local, selfBase(req)))
		return
	}

	merged := mergePackuments(local, up, selfBase(req))
	r.store.CacheMerged(name, merged)
	writePackument(w, req, merged)
}

func writePackument(w http.ResponseWriter, req *http.Request, doc pkgstore.Packument) {
	w.Header().Set("Content-Type", "application/json")
	if req.Method == http.MethodHead {
		return
	}
	json.NewEncoder(w).Encode(doc)
}

func (r *Router) handleTarball(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name, err := decodeName(vars["name"])
	if err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(err.Error()))
		return
	}
	file, err := sanitizeAttachmentFilename(vars["file"])
	if err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(err.Error()))
		return
	}

	path := r.store.TarballPath(name, file)
	if _, statErr := os.Stat(path); statErr == nil {
		if req.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/octet-stream")
			return
		}
		http.ServeFile(w, req, path)
		return
	}

	if r.upstream == nil {
		errcode.ServeJSON(w, errcode.ErrorCodeNotFound.WithMessage("tarball not found"))
		return
	}
	if err := r.upstream.ProxyTarball(req.Context(), name, file, w, req.Header); err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadGateway.WithMessage(err.Error()))
		return
	}
}

func (r *Router) handleUnpublishVersion(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name, err := decodeName(vars["name"])
	if err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(err.Error()))
		return
	}
	rev := vars["rev"]

	var newDoc pkgstore.Packument
	if err := json.NewDecoder(req.Body).Decode(&newDoc); err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage("malformed packument body"))
		return
	}

	if err := r.store.UnpublishVersions(name, rev, newDoc); err != nil {
		var mismatch *pkgstore.ErrRevMismatch
		if e, ok := err.(*pkgstore.ErrRevMismatch); ok {
			mismatch = e
			errcode.ServeJSON(w, errcode.ErrorCodeConflict.WithMessage(mismatch.Error()))
			return
		}
		errcode.ServeJSON(w, errcode.ErrorCodeNotFound.WithMessage(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func (r *Router) handleDeletePackage(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name, err := decodeName(vars["name"])
	if err != nil {
		errcode.ServeJSON(w, errcode.ErrorCodeBadRequest.WithMessage(err.Error()))
		return
	}
	rev := vars["rev"]

	if err := r.store.DeletePackage(name, rev); err != nil {
		var mismatch *pkgstore.ErrRevMismatch
		if e, ok := err.(*pkgstore.ErrRevMismatch); ok {
			mismatch = e
			errcode.ServeJSON(w, errcode.ErrorCodeConflict.WithMessage(mismatch.Error()))
			return
		}
		errcode.ServeJSON(w, errcode.ErrorCodeNotFound.WithMessage(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}
