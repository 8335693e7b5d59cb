package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/regstow/regstow/pkg/model"
	"github.com/regstow/regstow/pkg/progress"
	"go.uber.org/zap"
)

// BeginUpload opens a blob upload session and returns the upload URL. The URL
// is opaque and may be rewritten by the server on every subsequent response.
func (c *Client) BeginUpload(ctx context.Context, art model.RepositoryArtifact, repositoryID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.uploadsURL(art), repositoryID, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(c.client, "beginUpload", req)
	if err != nil {
		return "", err
	}
	if !is2xx(resp.StatusCode) {
		return "", registryError("beginUpload", resp)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resolveLocation(resp)
}

// UploadFile transfers the file at localPath as one blob: bounded chunks via
// range requests, then a finalize request that carries the tail bytes together
// with the digest of the complete content. The digest is computed in a second
// read pass running concurrently with the transfer. Returns the blob digest
// and the file size.
func (c *Client) UploadFile(ctx context.Context, art model.RepositoryArtifact, repositoryID, localPath string, listener progress.Listener) (string, int64, error) {
	uploadURL, err := c.BeginUpload(ctx, art, repositoryID)
	if err != nil {
		return "", 0, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	size := info.Size()

	type hashResult struct {
		digest string
		err    error
	}
	hashCh := make(chan hashResult, 1)
	go func() {
		digest, _, err := model.DigestFile(localPath)
		hashCh <- hashResult{digest: digest, err: err}
	}()

	// The strict comparison always leaves a non-empty remainder, possibly a
	// full chunk, for the finalize request to carry.
	var offset int64
	for size-offset > c.chunkSize {
		req, err := c.newRequest(ctx, http.MethodPatch, uploadURL, repositoryID, io.LimitReader(f, c.chunkSize))
		if err != nil {
			return "", 0, err
		}
		req.ContentLength = c.chunkSize
		req.Header.Set(model.HeaderContentType, model.MediaTypeOctetStream)
		req.Header.Set(model.HeaderContentRange, fmt.Sprintf("%d-%d", offset, offset+c.chunkSize-1))

		resp, err := c.do(c.client, "chunkUpload", req)
		if err != nil {
			return "", 0, err
		}
		if !is2xx(resp.StatusCode) {
			err := registryError("chunkUpload", resp)
			c.abortUpload(ctx, uploadURL, repositoryID)
			return "", 0, fmt.Errorf("chunk [%d,%d): %w", offset, offset+c.chunkSize, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if uploadURL, err = resolveLocation(resp); err != nil {
			return "", 0, err
		}
		offset += c.chunkSize
		transferBytes.WithLabelValues("upload").Add(float64(c.chunkSize))
	}

	hashed := <-hashCh
	if hashed.err != nil {
		c.abortUpload(ctx, uploadURL, repositoryID)
		return "", 0, hashed.err
	}

	finalizeURL, err := withDigest(uploadURL, hashed.digest)
	if err != nil {
		return "", 0, err
	}
	req, err := c.newRequest(ctx, http.MethodPut, finalizeURL, repositoryID, f)
	if err != nil {
		return "", 0, err
	}
	req.ContentLength = size - offset
	req.Header.Set(model.HeaderContentType, model.MediaTypeOctetStream)

	resp, err := c.do(c.client, "finalizeUpload", req)
	if err != nil {
		return "", 0, err
	}
	if !is2xx(resp.StatusCode) {
		return "", 0, registryError("finalizeUpload", resp)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	transferBytes.WithLabelValues("upload").Add(float64(size - offset))

	listener.OnSuccess(size)
	return hashed.digest, size, nil
}

// UploadConfig uploads a small in-memory blob in a single finalize request and
// returns its digest.
func (c *Client) UploadConfig(ctx context.Context, art model.RepositoryArtifact, repositoryID string, content []byte) (string, error) {
	uploadURL, err := c.BeginUpload(ctx, art, repositoryID)
	if err != nil {
		return "", err
	}
	digest := model.DigestBytes(content)
	finalizeURL, err := withDigest(uploadURL, digest)
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPut, finalizeURL, repositoryID, bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	req.ContentLength = int64(len(content))
	req.Header.Set(model.HeaderContentType, model.MediaTypeOctetStream)

	resp, err := c.do(c.client, "uploadConfig", req)
	if err != nil {
		return "", err
	}
	if !is2xx(resp.StatusCode) {
		return "", registryError("uploadConfig", resp)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return digest, nil
}

// abortUpload asks the server to reap a failed upload session. Best effort:
// the triggering error is what the caller sees.
func (c *Client) abortUpload(ctx context.Context, uploadURL, repositoryID string) {
	req, err := c.newRequest(ctx, http.MethodDelete, uploadURL, repositoryID, nil)
	if err != nil {
		return
	}
	resp, err := c.do(c.client, "abortUpload", req)
	if err != nil {
		c.log.Debug("upload abort failed", zap.Error(err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if !is2xx(resp.StatusCode) {
		c.log.Debug("upload abort refused", zap.Int("status", resp.StatusCode), zap.String("url", uploadURL))
	}
}

// WriteManifest serializes and PUTs the native manifest for the repository's
// single mutable tag.
func (c *Client) WriteManifest(ctx context.Context, art model.RepositoryArtifact, repositoryID string, manifest model.Manifest) error {
	body, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, c.manifestURL(art), repositoryID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(body))
	req.Header.Set(model.HeaderContentType, model.MediaTypeManifest)

	resp, err := c.do(c.client, "commit", req)
	if err != nil {
		return err
	}
	if !is2xx(resp.StatusCode) {
		return registryError("commit", resp)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	c.log.Debug("manifest committed",
		zap.String("repository", repositoryID),
		zap.Int("layers", len(manifest.Layers)))
	return nil
}
