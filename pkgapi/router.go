// Package pkgapi implements the npm-wire-protocol HTTP surface: packument
// publish/read/merge, tarball fetch/proxy, dist-tag and unpublish paths, and
// a handful of internal control endpoints the CLI and daemon use. Routing
// follows the teacher's gorilla/mux + gorilla/handlers combination: a mux.Router
// dispatches by method and path, wrapped in a logging handler at the
// call site that constructs the server.
package pkgapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pkglab/pkglab/internal/dcontext"
	"github.com/pkglab/pkglab/pkgqueue"
	"github.com/pkglab/pkglab/pkgstore"
	"github.com/pkglab/pkglab/pkgversion"
	"github.com/pkglab/pkglab/version"
)

const controlPrefix = "/-/" + pkgversion.Marker

// Router wires the storage engine and publish queue to their HTTP surface.
type Router struct {
	store    *pkgstore.Store
	queue    *pkgqueue.Queue
	upstream Upstream
	mux      *mux.Router
}

// NewRouter constructs a Router ready to serve traffic. upstream may be nil,
// in which case merged reads degrade to local-only packuments.
func NewRouter(store *pkgstore.Store, queue *pkgqueue.Queue, upstream Upstream) *Router {
	r := &Router{store: store, queue: queue, upstream: upstream, mux: mux.NewRouter().UseEncodedPath()}
	r.routes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	m := r.mux

	m.HandleFunc("/-/ping", r.handlePing).Methods(http.MethodGet)
	m.HandleFunc("/-/ready", r.handleReady).Methods(http.MethodGet)

	m.HandleFunc(controlPrefix+"/index", r.handleIndex).Methods(http.MethodGet)
	m.HandleFunc(controlPrefix+"/publish/status", r.handlePublishStatus).Methods(http.MethodGet)
	m.HandleFunc(controlPrefix+"/publish", r.handlePublishEnqueue).Methods(http.MethodPost)

	m.HandleFunc("/-/npm/v1/security/advisories/bulk", r.handleSecurityNoop).Methods(http.MethodPost)
	m.HandleFunc("/-/npm/v1/security/audits/quick", r.handleSecurityNoop).Methods(http.MethodPost)

	m.HandleFunc("/-/package/{name:.+}/dist-tags/{tag}", r.handleSetDistTag).Methods(http.MethodPut)

	m.HandleFunc("/{name:.+}/-/rev/{rev}", r.handleUnpublishVersion).Methods(http.MethodPut)
	m.HandleFunc("/{name:.+}/-/rev/{rev}", r.handleDeletePackage).Methods(http.MethodDelete)
	m.HandleFunc("/{name:.+}/-/{file}", r.handleTarball).Methods(http.MethodGet, http.MethodHead)

	m.HandleFunc("/{name:.+}", r.handlePublish).Methods(http.MethodPut)
	m.HandleFunc("/{name:.+}", r.handleGetPackument).Methods(http.MethodGet, http.MethodHead)
}

func (r *Router) handlePing(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": version.Version()})
}

// handleReady checks storage-root writability in addition to process
// liveness, distinguishing it from the bare /-/ping check.
func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := r.store.CheckWritable(); err != nil {
		r.logger(req).WithError(err).Warn("pkgapi: readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"ok":false}`))
		return
	}
	w.Write([]byte(`{"ok":true}`))
}

func (r *Router) handleSecurityNoop(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{}`))
}

func (r *Router) logger(req *http.Request) dcontext.Logger {
	return dcontext.GetLogger(req.Context())
}

// selfBase derives the registry's own externally-visible base URL from the
// incoming request, so tarball links work regardless of which loopback
// port the daemon bound to.
func selfBase(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + req.Host
}
