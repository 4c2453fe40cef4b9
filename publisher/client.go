package publisher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkglab/pkglab/pkgstore"
)

var (
	publishTimeout   = 30 * time.Second
	unpublishTimeout = 10 * time.Second
	fetchTimeout     = 5 * time.Second
)

// RegistryClient is the thin HTTP surface the executor needs against the
// local registry: publish one version, fetch a packument (to learn its
// current revision before rollback), and unpublish one version.
type RegistryClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewRegistryClient returns a client pointed at baseURL (e.g.
// "http://127.0.0.1:4873").
func NewRegistryClient(baseURL string) *RegistryClient {
	return &RegistryClient{BaseURL: baseURL, HTTP: &http.Client{}}
}

// PublishTarball uploads one packed entry as a single-version publish
// payload, matching the wire shape pkgapi's handlePublish expects.
func (c *RegistryClient) PublishTarball(ctx context.Context, entry Entry, tb Tarball) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	versionDoc := map[string]interface{}{}
	for k, v := range tb.PackageJSON {
		versionDoc[k] = v
	}
	versionDoc["dist"] = map[string]interface{}{
		"integrity": tb.Integrity,
	}

	payload := map[string]interface{}{
		"versions": map[string]interface{}{
			entry.Version: versionDoc,
		},
		"dist-tags": map[string]string{},
		"_attachments": map[string]interface{}{
			tb.Filename: map[string]interface{}{
				"content_type": "application/octet-stream",
				"data":         base64.StdEncoding.EncodeToString(tb.Data),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/"+entry.Name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("publish %s@%s: registry returned %s", entry.Name, entry.Version, resp.Status)
	}
	return nil
}

// FetchPackument retrieves the current packument for name, needed to learn
// its _rev before an unpublish.
func (c *RegistryClient) FetchPackument(ctx context.Context, name string) (pkgstore.Packument, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+name, nil)
	if err != nil {
		return pkgstore.Packument{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return pkgstore.Packument{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pkgstore.Packument{}, fmt.Errorf("fetch %s: registry returned %s", name, resp.Status)
	}
	var doc pkgstore.Packument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return pkgstore.Packument{}, err
	}
	return doc, nil
}

// UnpublishVersion removes one version from name's packument, used to roll
// back an already-published entry when a later entry in the same plan fails.
func (c *RegistryClient) UnpublishVersion(ctx context.Context, name, version string) error {
	ctx, cancel := context.WithTimeout(ctx, unpublishTimeout)
	defer cancel()

	doc, err := c.FetchPackument(ctx, name)
	if err != nil {
		return err
	}
	rev := doc.Rev()
	doc.DeleteVersion(version)

	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/%s/-/rev/%s", c.BaseURL, name, rev), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unpublish %s@%s: registry returned %s", name, version, resp.Status)
	}
	return nil
}
