// Package blobcache provides a local content-addressed cache for blobs pulled
// from registries. Keys are registry digests, so cache hits are implicitly
// verified.
package blobcache

import (
	"io"
	"path/filepath"
	"strings"
)

// Service looks up a blob by digest. On a hit the returned Blob is non-nil; on
// a miss it is nil and the Writer may be used to populate the entry.
type Service interface {
	Get(digest string) (Blob, Writer, error)
}

// Blob is a cached blob ready for reading.
type Blob interface {
	GetReader() (io.ReadCloser, error)
	Size() int64
}

// Writer ingests one blob into the cache. Write as many times as needed, then
// Close to commit; Cleanup discards a partial entry.
type Writer interface {
	io.Writer
	Close() error
	Cleanup()
}

// blobKey spreads digests over two-character shards, "blobs/ab/ab12..".
func blobKey(digest string) string {
	hex := strings.TrimPrefix(digest, "sha256:")
	if len(hex) < 2 {
		return filepath.Join("blobs", hex)
	}
	return filepath.Join("blobs", hex[:2], hex)
}
