// Package session holds the mutable working state for one repository
// interaction: open a session, mutate its file listing, commit. Listings are
// cached per repository until a commit invalidates them.
package session

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/regstow/regstow/pkg/blobcache"
	"github.com/regstow/regstow/pkg/model"
	"github.com/regstow/regstow/pkg/progress"
	"github.com/regstow/regstow/pkg/registry"
	"go.uber.org/zap"
)

// Engine opens sessions and owns the process-wide listing cache.
type Engine struct {
	client *registry.Client
	cache  *listingCache
	blobs  blobcache.Service
	log    *zap.Logger
}

// EngineOptions configures an Engine. Client is required; Blobs is an optional
// local cache consulted by name-based pulls.
type EngineOptions struct {
	Client *registry.Client
	Blobs  blobcache.Service
	Logger *zap.Logger
}

func NewEngine(opts EngineOptions) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		client: opts.Client,
		cache:  newListingCache(),
		blobs:  opts.Blobs,
		log:    log,
	}
}

// Session is the working state for one logical transaction on a repository.
// Owned by a single caller from Begin to Commit; not safe for concurrent use.
type Session struct {
	Server       string
	Name         string
	RepositoryID string
	Listing      model.FileListing

	engine   *Engine
	artifact model.RepositoryArtifact
}

// Begin resolves the repository id and returns a session populated with the
// current file listing, fetching it from the registry unless cached. The
// session owns its copy of the listing.
func (e *Engine) Begin(ctx context.Context, repositoryID string) (*Session, error) {
	art, err := model.ParseRepository(repositoryID)
	if err != nil {
		return nil, err
	}
	listing, err := e.cache.getOrLoad(repositoryID, func() (model.FileListing, error) {
		return e.client.List(ctx, art, repositoryID)
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		Server:       art.Server,
		Name:         art.Name,
		RepositoryID: repositoryID,
		Listing:      model.FileListing{FileItems: slices.Clone(listing.FileItems)},
		engine:       e,
		artifact:     art,
	}, nil
}

// Upload transfers the file at localPath as a blob and appends it to the
// session's listing under the given name. Nothing is visible to other readers
// until Commit.
func (s *Session) Upload(ctx context.Context, name, localPath string, listener progress.Listener) error {
	digest, size, err := s.engine.client.UploadFile(ctx, s.artifact, s.RepositoryID, localPath, listener)
	if err != nil {
		return err
	}
	s.Listing.FileItems = append(s.Listing.FileItems, model.FileItem{
		Name:   name,
		Size:   size,
		Digest: digest,
	})
	return nil
}

// Remove deletes the first file with the given name from the listing. Pure
// in-memory mutation until Commit.
func (s *Session) Remove(name string) error {
	for i, item := range s.Listing.FileItems {
		if item.Name == name {
			s.Listing.FileItems = append(s.Listing.FileItems[:i], s.Listing.FileItems[i+1:]...)
			return nil
		}
	}
	return &NotFoundError{Name: name}
}

// Commit serializes the listing into a config blob, uploads it, and writes a
// manifest referencing every file digest as a layer. The cache entry is
// dropped only after the manifest write succeeded.
func (s *Session) Commit(ctx context.Context) error {
	content, err := json.Marshal(s.Listing)
	if err != nil {
		return err
	}
	configDigest, err := s.engine.client.UploadConfig(ctx, s.artifact, s.RepositoryID, content)
	if err != nil {
		return err
	}
	manifest := model.NewManifest(s.Listing, configDigest, int64(len(content)))
	if err := s.engine.client.WriteManifest(ctx, s.artifact, s.RepositoryID, manifest); err != nil {
		return err
	}
	s.engine.cache.invalidate(s.RepositoryID)
	return nil
}

// find returns the first listing entry with the given name.
func (s *Session) find(name string) (model.FileItem, error) {
	for _, item := range s.Listing.FileItems {
		if item.Name == name {
			return item, nil
		}
	}
	return model.FileItem{}, &NotFoundError{Name: name}
}

// Pull downloads the named file to localPath, serving from the local blob
// cache when it already holds the digest.
func (s *Session) Pull(ctx context.Context, name, localPath string, listener progress.Listener) error {
	item, err := s.find(name)
	if err != nil {
		return err
	}

	var writer blobcache.Writer
	if s.engine.blobs != nil {
		cached, w, err := s.engine.blobs.Get(item.Digest)
		if err != nil {
			s.engine.log.Warn("blob cache lookup failed", zap.String("digest", item.Digest), zap.Error(err))
		} else if cached != nil {
			return s.pullCached(cached, localPath, listener)
		} else {
			writer = w
		}
	}

	if err := s.engine.client.Pull(ctx, s.artifact, s.RepositoryID, item.Digest, localPath, listener); err != nil {
		if writer != nil {
			writer.Cleanup()
		}
		return err
	}
	if writer != nil {
		s.storeInCache(writer, item.Digest, localPath)
	}
	return nil
}

// pullCached copies a cache hit into place. Content is keyed by digest, so a
// hit needs no further verification.
func (s *Session) pullCached(cached blobcache.Blob, localPath string, listener progress.Listener) error {
	r, err := cached.GetReader()
	if err != nil {
		return err
	}
	defer r.Close()
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return err
	}
	listener.OnSuccess(n)
	return nil
}

// storeInCache copies a freshly pulled file into the blob cache. Failures are
// logged, never surfaced: the pull already succeeded.
func (s *Session) storeInCache(writer blobcache.Writer, digest, localPath string) {
	f, err := os.Open(localPath)
	if err != nil {
		writer.Cleanup()
		return
	}
	defer f.Close()
	if _, err := io.Copy(writer, f); err != nil {
		writer.Cleanup()
		s.engine.log.Warn("blob cache write failed", zap.String("digest", digest), zap.Error(err))
		return
	}
	if err := writer.Close(); err != nil {
		s.engine.log.Warn("blob cache commit failed", zap.String("digest", digest), zap.Error(err))
	}
}

// Link returns the external download URL the registry redirects to for the
// named file, without transferring its content.
func (s *Session) Link(ctx context.Context, name string) (string, error) {
	item, err := s.find(name)
	if err != nil {
		return "", err
	}
	return s.engine.client.Link(ctx, s.artifact, s.RepositoryID, item.Digest)
}
