package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/regstow/regstow/pkg/model"
	"go.uber.org/zap"
)

// List fetches the repository's native manifest, follows its config blob and
// decodes the file listing. A repository without a manifest (404) yields an
// empty listing.
func (c *Client) List(ctx context.Context, art model.RepositoryArtifact, repositoryID string) (model.FileListing, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.manifestURL(art), repositoryID, nil)
	if err != nil {
		return model.FileListing{}, err
	}
	req.Header.Set(model.HeaderAccept, model.MediaTypeManifest)

	resp, err := c.do(c.client, "list", req)
	if err != nil {
		return model.FileListing{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		// no prior state for this repository
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		c.log.Debug("no manifest for repository", zap.String("repository", repositoryID))
		return model.FileListing{}, nil
	}
	if !is2xx(resp.StatusCode) {
		return model.FileListing{}, registryError("list", resp)
	}

	var manifest model.Manifest
	err = json.NewDecoder(resp.Body).Decode(&manifest)
	resp.Body.Close()
	if err != nil {
		return model.FileListing{}, &MalformedManifestError{Reason: "decoding manifest", Err: err}
	}
	if manifest.Config.Digest == "" {
		return model.FileListing{}, &MalformedManifestError{Reason: "manifest has no config digest"}
	}

	body, _, err := c.FetchBlob(ctx, art, repositoryID, manifest.Config.Digest, "list")
	if err != nil {
		return model.FileListing{}, err
	}
	var listing model.FileListing
	err = json.NewDecoder(body).Decode(&listing)
	body.Close()
	if err != nil {
		return model.FileListing{}, &MalformedManifestError{Reason: "decoding config blob", Err: err}
	}
	return listing, nil
}

// FetchBlob opens a blob by digest, following redirects to external content
// locations. The caller owns the returned body. Size is -1 when the server
// does not announce a content length.
func (c *Client) FetchBlob(ctx context.Context, art model.RepositoryArtifact, repositoryID, digest, op string) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.blobURL(art, digest), repositoryID, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.do(c.client, op, req)
	if err != nil {
		return nil, 0, err
	}
	if !is2xx(resp.StatusCode) {
		return nil, 0, registryError(op, resp)
	}
	return resp.Body, resp.ContentLength, nil
}
