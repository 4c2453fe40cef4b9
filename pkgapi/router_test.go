package pkgapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pkglab/pkglab/pkgqueue"
	"github.com/pkglab/pkglab/pkgstore"
)

type fakeRunner struct{}

func (fakeRunner) RunPublish(ctx context.Context, workspaceRoot string, args []string) error {
	return nil
}

type fakeUpstream struct {
	packuments map[string]pkgstore.Packument
}

func (f *fakeUpstream) FetchPackument(ctx context.Context, name string) (pkgstore.Packument, error) {
	doc, ok := f.packuments[name]
	if !ok {
		return pkgstore.Packument{}, errNotFound
	}
	return doc.Clone(), nil
}

func (f *fakeUpstream) ProxyTarball(ctx context.Context, name, file string, w http.ResponseWriter, headers http.Header) error {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("upstream-bytes"))
	return nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func newTestRouter(t *testing.T) (*Router, *pkgstore.Store) {
	t.Helper()
	store := pkgstore.New(t.TempDir())
	require.NoError(t, store.LoadAll(context.Background()))
	queue := pkgqueue.New(fakeRunner{})
	return NewRouter(store, queue, nil), store
}

func publishReq(t *testing.T, r *Router, name, version string) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]interface{}{
		"versions": map[string]interface{}{
			version: map[string]interface{}{
				"name":    name,
				"version": version,
				"dist":    map[string]interface{}{},
			},
		},
		"dist-tags": map[string]string{"latest": version},
		"_attachments": map[string]interface{}{
			"pkg.tgz": map[string]interface{}{
				"content_type": "application/octet-stream",
				"data":         base64.StdEncoding.EncodeToString([]byte("bytes")),
			},
		},
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/"+name, bytes.NewReader(data))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPingAndReady(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/-/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/-/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ok":true`)
}

func TestPublishThenGetPackument(t *testing.T) {
	r, _ := newTestRouter(t)

	w := publishReq(t, r, "widget", "0.0.0-pkglab.1")
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/widget", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	versions := doc["versions"].(map[string]interface{})
	require.Contains(t, versions, "0.0.0-pkglab.1")
}

func TestPublishDuplicateVersionConflicts(t *testing.T) {
	r, _ := newTestRouter(t)
	publishReq(t, r, "widget", "1.0.0")
	w := publishReq(t, r, "widget", "1.0.0")
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestGetUnknownPackageNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectsPathTraversalName(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/..%2f..%2fetc", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetDistTag(t *testing.T) {
	r, _ := newTestRouter(t)
	publishReq(t, r, "widget", "1.0.0")

	req := httptest.NewRequest(http.MethodPut, "/-/package/widget/dist-tags/beta", bytes.NewReader([]byte(`"1.0.0"`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestTarballFetchLocal(t *testing.T) {
	r, _ := newTestRouter(t)
	publishReq(t, r, "widget", "1.0.0")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/widget/-/pkg.tgz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "bytes", w.Body.String())
}

func TestDeletePackage(t *testing.T) {
	r, store := newTestRouter(t)
	publishReq(t, r, "widget", "1.0.0")

	doc, _ := store.Get("widget")
	req := httptest.NewRequest(http.MethodDelete, "/widget/-/rev/"+doc.Rev(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/widget", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublishEnqueueReturnsJobID(t *testing.T) {
	r, _ := newTestRouter(t)
	body, _ := json.Marshal(map[string]interface{}{"workspaceRoot": "/ws", "targets": []string{"a"}})

	req := httptest.NewRequest(http.MethodPost, controlPrefix+"/publish", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["jobId"])
	require.Equal(t, "queued", resp["status"])
}

func TestMergedReadOverlaysLocalOntoUpstream(t *testing.T) {
	store := pkgstore.New(t.TempDir())
	require.NoError(t, store.LoadAll(context.Background()))
	queue := pkgqueue.New(fakeRunner{})

	upstreamDoc := pkgstore.NewPackument("widget")
	upstreamDoc.SetVersion("1.0.0", map[string]interface{}{
		"name": "widget", "version": "1.0.0",
		"dist": map[string]interface{}{"tarball": "https://registry.npmjs.org/widget/-/widget-1.0.0.tgz"},
	})
	upstreamDoc.SetDistTag("latest", "1.0.0")

	r := NewRouter(store, queue, &fakeUpstream{packuments: map[string]pkgstore.Packument{"widget": upstreamDoc}})

	publishReq(t, r, "widget", "0.0.0-pkglab.1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/widget", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	versions := doc["versions"].(map[string]interface{})
	require.Contains(t, versions, "1.0.0")
	require.Contains(t, versions, "0.0.0-pkglab.1")
}
