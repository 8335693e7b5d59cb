package registry

import (
	"fmt"
	"strconv"
)

// RegistryError is returned for any registry response outside [200,300) that
// is not handled specially (the 404-as-empty-listing case in List).
type RegistryError struct {
	Op         string // list, beginUpload, chunkUpload, finalizeUpload, uploadConfig, commit, pull, link
	StatusCode int
	Body       string // response body snippet
}

func (e *RegistryError) Error() string {
	msg := "registry " + e.Op + ": received status " + strconv.Itoa(e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RegistryError) Is(tgt error) bool {
	_, ok := tgt.(*RegistryError)
	return ok
}

// MalformedManifestError is returned when a manifest or config blob does not
// decode into the expected schema.
type MalformedManifestError struct {
	Reason string
	Err    error
}

func (e *MalformedManifestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed manifest: %s: %v", e.Reason, e.Err)
	}
	return "malformed manifest: " + e.Reason
}

func (e *MalformedManifestError) Unwrap() error { return e.Err }

func (e *MalformedManifestError) Is(tgt error) bool {
	_, ok := tgt.(*MalformedManifestError)
	return ok
}

// DigestMismatchError is returned when downloaded content does not hash to the
// digest it was requested by.
type DigestMismatchError struct {
	Want string
	Got  string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: want %s, got %s", e.Want, e.Got)
}

func (e *DigestMismatchError) Is(tgt error) bool {
	_, ok := tgt.(*DigestMismatchError)
	return ok
}
