// Package registry implements the client side of the Docker Registry HTTP API
// v2 surface used to store arbitrary files as blobs: manifest read/write,
// chunked blob upload and redirect-following blob download.
package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/regstow/regstow/pkg/model"
	"go.uber.org/zap"
)

// DefaultChunkSize is the upload chunk size used when none is configured.
const DefaultChunkSize int64 = 10 * 1024 * 1024

const bodySnippetLimit = 4096

// Options configures a Client. The zero value is usable.
type Options struct {
	// HTTPClient performs all requests. The external auth manager is expected
	// to be installed on its transport. Defaults to a plain http.Client.
	HTTPClient *http.Client
	// ChunkSize bounds the size of each range-upload request.
	ChunkSize int64
	// PlainHTTP talks http:// instead of https:// to servers. Test registries
	// only.
	PlainHTTP bool
	Logger    *zap.Logger
}

// Client speaks the registry v2 API for one or more servers. Safe for
// concurrent use.
type Client struct {
	client     *http.Client
	noRedirect *http.Client
	chunkSize  int64
	scheme     string
	log        *zap.Logger
}

func NewClient(opts Options) *Client {
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	// Link needs the redirect itself, not what it points at.
	noRedirect := *base
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	scheme := "https"
	if opts.PlainHTTP {
		scheme = "http"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		client:     base,
		noRedirect: &noRedirect,
		chunkSize:  chunkSize,
		scheme:     scheme,
		log:        log,
	}
}

func (c *Client) manifestURL(art model.RepositoryArtifact) string {
	return c.scheme + "://" + art.Server + "/v2/" + art.Name + "/manifests/latest"
}

func (c *Client) blobURL(art model.RepositoryArtifact, digest string) string {
	return c.scheme + "://" + art.Server + "/v2/" + art.Name + "/blobs/" + digest
}

func (c *Client) uploadsURL(art model.RepositoryArtifact) string {
	return c.scheme + "://" + art.Server + "/v2/" + art.Name + "/blobs/uploads/"
}

// newRequest builds a request carrying the repository header consumed by the
// auth collaborator for credential scoping.
func (c *Client) newRequest(ctx context.Context, method, url, repositoryID string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(model.HeaderRepository, repositoryID)
	return req, nil
}

func (c *Client) do(client *http.Client, op string, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	requestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// registryError drains the response into a RegistryError. Closes the body.
func registryError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit))
	resp.Body.Close()
	return &RegistryError{Op: op, StatusCode: resp.StatusCode, Body: string(snippet)}
}

func is2xx(code int) bool {
	return code >= 200 && code < 300
}

// resolveLocation returns the absolute form of the Location header, which
// servers may send relative to the request URL.
func resolveLocation(resp *http.Response) (string, error) {
	loc := resp.Header.Get(model.HeaderLocation)
	if loc == "" {
		return "", errors.New("response carries no Location header")
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return resp.Request.URL.ResolveReference(u).String(), nil
}

// withDigest returns the upload URL with the digest query parameter attached,
// turning the final upload request into an atomic commit of the declared
// content.
func withDigest(uploadURL, digest string) (string, error) {
	u, err := url.Parse(uploadURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("digest", digest)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
