package blobcache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// FileStore caches blobs under a local directory.
type FileStore struct {
	CacheDirectory string
}

var _ Service = &FileStore{}

func (c *FileStore) Get(digest string) (Blob, Writer, error) {
	path := filepath.Join(c.CacheDirectory, blobKey(digest))
	writer := &fileWriter{
		cacheDirectory: c.CacheDirectory,
		path:           path,
	}

	stat, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, writer, nil
	} else if err != nil {
		return nil, nil, err
	}

	return &fileBlob{path: path, size: stat.Size()}, writer, nil
}

type fileBlob struct {
	path string
	size int64
}

func (b *fileBlob) GetReader() (io.ReadCloser, error) {
	return os.Open(b.path)
}

func (b *fileBlob) Size() int64 {
	return b.size
}

// fileWriter streams into a temporary file and moves it into place on Close.
type fileWriter struct {
	cacheDirectory string
	path           string
	file           *os.File
}

var _ Writer = &fileWriter{}

func (w *fileWriter) Write(b []byte) (n int, err error) {
	if w.file == nil {
		if err := os.MkdirAll(w.cacheDirectory, 0755); err != nil {
			return 0, err
		}
		file, err := os.CreateTemp(w.cacheDirectory, "ingest-*")
		if err != nil {
			return 0, err
		}
		w.file = file
	}
	return w.file.Write(b)
}

func (w *fileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return err
	}
	return os.Rename(w.file.Name(), w.path)
}

func (w *fileWriter) Cleanup() {
	if w.file != nil {
		_ = w.file.Close()
		_ = os.Remove(w.file.Name())
	}
}
