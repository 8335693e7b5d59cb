// Package registrytest implements an in-memory registry speaking the API
// surface the client consumes: manifest get/put, blob get, and the blob
// upload session flow. Test support only.
package registrytest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/regstow/regstow/pkg/model"
)

// Based off the result of remoteName from https://github.com/distribution/distribution/
const namePattern = "[a-z0-9]+(?:(?:[._]|__|[-]+)[a-z0-9]+)*(?:/[a-z0-9]+(?:(?:[._]|__|[-]+)[a-z0-9]+)*)*"

// Request is one recorded API call.
type Request struct {
	Method       string
	Path         string
	ContentRange string
}

// Registry is an in-memory registry holding one manifest per repository (the
// `latest` tag) and a shared blob store. Safe for concurrent use.
type Registry struct {
	// RedirectBlobs makes blob GETs answer with a redirect to an external
	// content path served by the same handler.
	RedirectBlobs bool

	mu        sync.Mutex
	manifests map[string][]byte
	blobs     map[string][]byte
	uploads   map[string]*upload
	requests  []Request
}

type upload struct {
	name string
	data []byte
}

func New() *Registry {
	return &Registry{
		manifests: map[string][]byte{},
		blobs:     map[string][]byte{},
		uploads:   map[string]*upload{},
	}
}

// Handler returns the registry's route table.
func (r *Registry) Handler() http.Handler {
	m := mux.NewRouter()
	m.Use(r.record)

	m.HandleFunc("/v2/{name:"+namePattern+"}/manifests/latest", r.handleManifestGet).Methods(http.MethodGet)
	m.HandleFunc("/v2/{name:"+namePattern+"}/manifests/latest", r.handleManifestPut).Methods(http.MethodPut)
	m.HandleFunc("/v2/{name:"+namePattern+"}/blobs/uploads/", r.handleUploadStart).Methods(http.MethodPost)
	m.HandleFunc("/v2/{name:"+namePattern+"}/blobs/uploads/{uuid}", r.handleUploadChunk).Methods(http.MethodPatch)
	m.HandleFunc("/v2/{name:"+namePattern+"}/blobs/uploads/{uuid}", r.handleUploadFinalize).Methods(http.MethodPut)
	m.HandleFunc("/v2/{name:"+namePattern+"}/blobs/uploads/{uuid}", r.handleUploadCancel).Methods(http.MethodDelete)
	m.HandleFunc("/v2/{name:"+namePattern+"}/blobs/{digest}", r.handleBlobGet).Methods(http.MethodGet)
	m.HandleFunc("/external/blobs/{digest}", r.handleExternalBlob).Methods(http.MethodGet)
	return m
}

// Requests returns a copy of every recorded /v2 call, in order.
func (r *Registry) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, len(r.requests))
	copy(out, r.requests)
	return out
}

// CountRequests returns how many recorded calls match the method and path
// substring.
func (r *Registry) CountRequests(method, pathPart string) int {
	n := 0
	for _, req := range r.Requests() {
		if req.Method == method && strings.Contains(req.Path, pathPart) {
			n++
		}
	}
	return n
}

// ResetRequests clears the recorded call log.
func (r *Registry) ResetRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}

// BlobCount returns how many distinct blobs the registry holds.
func (r *Registry) BlobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// Manifest returns the stored manifest for a repository, nil if absent.
func (r *Registry) Manifest(name string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manifests[name]
}

func (r *Registry) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.requests = append(r.requests, Request{
			Method:       req.Method,
			Path:         req.URL.Path,
			ContentRange: req.Header.Get(model.HeaderContentRange),
		})
		r.mu.Unlock()
		next.ServeHTTP(w, req)
	})
}

func (r *Registry) handleManifestGet(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	r.mu.Lock()
	manifest, ok := r.manifests[name]
	r.mu.Unlock()
	if !ok {
		http.Error(w, `{"errors":[{"code":"MANIFEST_UNKNOWN"}]}`, http.StatusNotFound)
		return
	}
	w.Header().Set(model.HeaderContentType, model.MediaTypeManifest)
	w.WriteHeader(http.StatusOK)
	w.Write(manifest)
}

func (r *Registry) handleManifestPut(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.manifests[name] = body
	r.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (r *Registry) handleUploadStart(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	id := uuid.NewString()
	r.mu.Lock()
	r.uploads[id] = &upload{name: name}
	r.mu.Unlock()

	// relative Location, clients must resolve it
	w.Header().Set(model.HeaderLocation, fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, id))
	w.Header().Set("Range", "0-0")
	w.Header().Set("Docker-Upload-UUID", id)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Registry) handleUploadChunk(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	id := mux.Vars(req)["uuid"]
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	up, ok := r.uploads[id]
	var written int
	if ok {
		up.data = append(up.data, body...)
		written = len(up.data)
	}
	r.mu.Unlock()
	if !ok {
		http.Error(w, `{"errors":[{"code":"BLOB_UPLOAD_UNKNOWN"}]}`, http.StatusNotFound)
		return
	}

	w.Header().Set(model.HeaderLocation, fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, id))
	w.Header().Set("Range", fmt.Sprintf("0-%d", written-1))
	w.WriteHeader(http.StatusAccepted)
}

func (r *Registry) handleUploadFinalize(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	id := mux.Vars(req)["uuid"]
	expected := req.URL.Query().Get("digest")
	if expected == "" {
		http.Error(w, `{"errors":[{"code":"DIGEST_INVALID"}]}`, http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.uploads[id]
	if !ok {
		http.Error(w, `{"errors":[{"code":"BLOB_UPLOAD_UNKNOWN"}]}`, http.StatusNotFound)
		return
	}
	content := append(up.data, body...)
	sum := sha256.Sum256(content)
	got := "sha256:" + hex.EncodeToString(sum[:])
	if got != expected {
		http.Error(w, `{"errors":[{"code":"DIGEST_INVALID"}]}`, http.StatusBadRequest)
		return
	}
	r.blobs[got] = content
	delete(r.uploads, id)

	w.Header().Set(model.HeaderLocation, fmt.Sprintf("/v2/%s/blobs/%s", name, got))
	w.Header().Set("Docker-Content-Digest", got)
	w.WriteHeader(http.StatusCreated)
}

func (r *Registry) handleUploadCancel(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["uuid"]
	r.mu.Lock()
	_, ok := r.uploads[id]
	delete(r.uploads, id)
	r.mu.Unlock()
	if !ok {
		http.Error(w, `{"errors":[{"code":"BLOB_UPLOAD_UNKNOWN"}]}`, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Registry) handleBlobGet(w http.ResponseWriter, req *http.Request) {
	digest := mux.Vars(req)["digest"]
	if r.RedirectBlobs {
		w.Header().Set(model.HeaderLocation, "/external/blobs/"+digest)
		w.WriteHeader(http.StatusTemporaryRedirect)
		return
	}
	r.serveBlob(w, digest)
}

func (r *Registry) handleExternalBlob(w http.ResponseWriter, req *http.Request) {
	r.serveBlob(w, mux.Vars(req)["digest"])
}

func (r *Registry) serveBlob(w http.ResponseWriter, digest string) {
	r.mu.Lock()
	content, ok := r.blobs[digest]
	r.mu.Unlock()
	if !ok {
		http.Error(w, `{"errors":[{"code":"BLOB_UNKNOWN"}]}`, http.StatusNotFound)
		return
	}
	w.Header().Set(model.HeaderContentType, model.MediaTypeOctetStream)
	w.Header().Set("Docker-Content-Digest", digest)
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
