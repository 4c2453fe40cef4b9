package pkgapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkglab/pkglab/pkgstore"
)

const (
	upstreamPackumentTimeout = 5 * time.Second
	upstreamTarballTimeout   = 30 * time.Second
)

// Upstream fetches packuments and proxies tarball downloads from the
// real npm registry that the local one shadows.
type Upstream interface {
	FetchPackument(ctx context.Context, name string) (pkgstore.Packument, error)
	ProxyTarball(ctx context.Context, name, file string, w http.ResponseWriter, headers http.Header) error
}

// HTTPUpstream is the production Upstream, talking to baseURL (e.g.
// https://registry.npmjs.org) over plain net/http.
type HTTPUpstream struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPUpstream constructs an HTTPUpstream with the timeouts the router
// needs: 5s for packument lookups, up to 30s for tarball proxying. Each
// individual request still gets its own context deadline, so the shared
// client intentionally carries no blanket timeout.
func NewHTTPUpstream(baseURL string) *HTTPUpstream {
	return &HTTPUpstream{BaseURL: baseURL, Client: &http.Client{}}
}

func (u *HTTPUpstream) FetchPackument(ctx context.Context, name string) (pkgstore.Packument, error) {
	ctx, cancel := context.WithTimeout(ctx, upstreamPackumentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.BaseURL+"/"+name, nil)
	if err != nil {
		return pkgstore.Packument{}, err
	}
	resp, err := u.Client.Do(req)
	if err != nil {
		return pkgstore.Packument{}, fmt.Errorf("pkgapi: upstream fetch %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pkgstore.Packument{}, fmt.Errorf("pkgapi: upstream fetch %s: status %d", name, resp.StatusCode)
	}

	var doc pkgstore.Packument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return pkgstore.Packument{}, fmt.Errorf("pkgapi: decode upstream packument for %s: %w", name, err)
	}
	return doc, nil
}

func (u *HTTPUpstream) ProxyTarball(ctx context.Context, name, file string, w http.ResponseWriter, headers http.Header) error {
	ctx, cancel := context.WithTimeout(ctx, upstreamTarballTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.BaseURL+"/"+name+"/-/"+file, nil)
	if err != nil {
		return err
	}
	for k, vs := range headers {
		if isHopByHopOutbound(k) {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return fmt.Errorf("pkgapi: upstream tarball %s/%s: %w", name, file, err)
	}
	defer resp.Body.Close()

	// The net/http transport already auto-decodes a compressed upstream
	// response body, so forwarding its content-encoding/content-length
	// would describe bytes we no longer have and corrupt the client's
	// framing.
	for k, vs := range resp.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Content-Encoding", "Content-Length":
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return err
}

func isHopByHopOutbound(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Authorization", "Host", "Connection":
		return true
	default:
		return false
	}
}
