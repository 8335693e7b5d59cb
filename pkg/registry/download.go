package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/regstow/regstow/pkg/model"
	"github.com/regstow/regstow/pkg/progress"
)

// progressInterval is the cadence at which Pull reports received bytes.
const progressInterval = 500 * time.Millisecond

// Pull downloads a blob by digest into localPath, following redirects to
// external content locations. Received bytes are hashed on the way through
// and the result checked against the requested digest.
func (c *Client) Pull(ctx context.Context, art model.RepositoryArtifact, repositoryID, digest, localPath string, listener progress.Listener) error {
	body, total, err := c.FetchBlob(ctx, art, repositoryID, digest, "pull")
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}

	h := sha256.New()
	received, err := copyWithProgress(io.MultiWriter(f, h), body, total, listener)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return err
	}

	if got := "sha256:" + hex.EncodeToString(h.Sum(nil)); got != digest {
		os.Remove(localPath)
		return &DigestMismatchError{Want: digest, Got: got}
	}

	transferBytes.WithLabelValues("download").Add(float64(received))
	listener.OnSuccess(received)
	return nil
}

// copyWithProgress copies src to dst, reporting the running byte count at a
// fixed interval.
func copyWithProgress(dst io.Writer, src io.Reader, total int64, listener progress.Listener) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	last := time.Now()
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
			if time.Since(last) >= progressInterval {
				listener.OnProgress(written, total)
				last = time.Now()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}

// Link returns the external content URL a blob request redirects to, without
// downloading the blob.
func (c *Client) Link(ctx context.Context, art model.RepositoryArtifact, repositoryID, digest string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.blobURL(art, digest), repositoryID, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(c.noRedirect, "link", req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return "", registryError("link", resp)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.Header.Get(model.HeaderLocation), nil
}
