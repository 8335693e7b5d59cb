package model

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// DigestBytes returns the registry digest of the given content.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DigestReader consumes r and returns the registry digest of its content and
// the number of bytes read.
func DigestReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestFile returns the registry digest of a file's content in a single
// streaming pass.
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return DigestReader(f)
}
