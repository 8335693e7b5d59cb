package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/regstow/regstow/pkg/blobcache"
	"github.com/regstow/regstow/pkg/model"
	"github.com/regstow/regstow/pkg/progress"
	"github.com/regstow/regstow/pkg/registry"
	"github.com/regstow/regstow/pkg/registrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	reg    *registrytest.Registry
	engine *Engine
	repoID string
	name   string
}

func newTestEnv(t *testing.T, blobs blobcache.Service) *testEnv {
	t.Helper()
	reg := registrytest.New()
	srv := httptest.NewServer(reg.Handler())
	t.Cleanup(srv.Close)

	server := strings.TrimPrefix(srv.URL, "http://")
	client := registry.NewClient(registry.Options{
		PlainHTTP: true,
		ChunkSize: 1_000_000,
	})
	return &testEnv{
		reg: reg,
		engine: NewEngine(EngineOptions{
			Client: client,
			Blobs:  blobs,
		}),
		repoID: server + "/test/repo",
		name:   "test/repo",
	}
}

func writeTestFile(t *testing.T, content []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(p, content, os.ModePerm))
	return p
}

func TestRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	content := []byte("some file content")

	s, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	assert.Empty(t, s.Listing.FileItems)

	err = s.Upload(ctx, "data.bin", writeTestFile(t, content), progress.Nop{})
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	// commit invalidated the cache, this Begin re-reads the registry
	s2, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.Len(t, s2.Listing.FileItems, 1)
	item := s2.Listing.FileItems[0]
	assert.Equal(t, "data.bin", item.Name)
	assert.Equal(t, int64(len(content)), item.Size)
	assert.Equal(t, model.DigestBytes(content), item.Digest)
}

func TestBeginUsesCache(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	_, err = env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)

	assert.Equal(t, 1, env.reg.CountRequests(http.MethodGet, "/manifests/latest"))
}

func TestCommitInvalidatesCache(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	s, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	_, err = env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	assert.Equal(t, 2, env.reg.CountRequests(http.MethodGet, "/manifests/latest"))
}

func TestManifestLayersFollowListingOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	s, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.NoError(t, s.Upload(ctx, "first", writeTestFile(t, []byte("first content")), progress.Nop{}))
	require.NoError(t, s.Upload(ctx, "second", writeTestFile(t, []byte("second content")), progress.Nop{}))
	require.NoError(t, s.Commit(ctx))

	var manifest model.Manifest
	require.NoError(t, json.Unmarshal(env.reg.Manifest(env.name), &manifest))
	assert.Equal(t, 2, manifest.SchemaVersion)
	assert.Equal(t, model.MediaTypeManifest, manifest.MediaType)
	assert.Equal(t, model.MediaTypeConfig, manifest.Config.MediaType)
	require.Len(t, manifest.Layers, 2)
	assert.Equal(t, model.DigestBytes([]byte("first content")), manifest.Layers[0].Digest)
	assert.Equal(t, model.DigestBytes([]byte("second content")), manifest.Layers[1].Digest)
	for _, layer := range manifest.Layers {
		assert.Equal(t, model.MediaTypeLayer, layer.MediaType)
	}
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	s, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.NoError(t, s.Upload(ctx, "keep", writeTestFile(t, []byte("keep me")), progress.Nop{}))
	require.NoError(t, s.Upload(ctx, "drop", writeTestFile(t, []byte("drop me")), progress.Nop{}))

	require.NoError(t, s.Remove("drop"))
	require.NoError(t, s.Commit(ctx))

	s2, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.Len(t, s2.Listing.FileItems, 1)
	assert.Equal(t, "keep", s2.Listing.FileItems[0].Name)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	s, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.NoError(t, s.Upload(ctx, "present", writeTestFile(t, []byte("content")), progress.Nop{}))
	before := len(s.Listing.FileItems)

	err = s.Remove("absent")
	assert.True(t, errors.Is(err, &NotFoundError{}))
	assert.Len(t, s.Listing.FileItems, before)

	err = s.Pull(ctx, "absent", filepath.Join(t.TempDir(), "out"), progress.Nop{})
	assert.True(t, errors.Is(err, &NotFoundError{}))

	_, err = s.Link(ctx, "absent")
	assert.True(t, errors.Is(err, &NotFoundError{}))
}

func TestInvalidRepository(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Begin(context.Background(), "a/b/c/d")
	assert.True(t, errors.Is(err, &model.InvalidRepositoryError{}))
}

func TestPullByName(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	content := []byte("pull me back")

	s, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.NoError(t, s.Upload(ctx, "data.bin", writeTestFile(t, content), progress.Nop{}))
	require.NoError(t, s.Commit(ctx))

	dest := filepath.Join(t.TempDir(), "out")
	s2, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.NoError(t, s2.Pull(ctx, "data.bin", dest, progress.Nop{}))

	pulled, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, pulled)
}

func TestPullServedFromBlobCache(t *testing.T) {
	blobs := &blobcache.FileStore{CacheDirectory: t.TempDir()}
	env := newTestEnv(t, blobs)
	ctx := context.Background()
	content := []byte("cache this blob")

	s, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.NoError(t, s.Upload(ctx, "data.bin", writeTestFile(t, content), progress.Nop{}))
	require.NoError(t, s.Commit(ctx))

	first := filepath.Join(t.TempDir(), "first")
	require.NoError(t, s.Pull(ctx, "data.bin", first, progress.Nop{}))

	// the second pull must not touch the network blob endpoint
	env.reg.ResetRequests()
	second := filepath.Join(t.TempDir(), "second")
	require.NoError(t, s.Pull(ctx, "data.bin", second, progress.Nop{}))
	assert.Equal(t, 0, env.reg.CountRequests(http.MethodGet, "/blobs/"))

	pulled, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, content, pulled)
}

func TestLinkByName(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	content := []byte("linked content")

	s, err := env.engine.Begin(ctx, env.repoID)
	require.NoError(t, err)
	require.NoError(t, s.Upload(ctx, "data.bin", writeTestFile(t, content), progress.Nop{}))
	require.NoError(t, s.Commit(ctx))
	env.reg.RedirectBlobs = true

	url, err := s.Link(ctx, "data.bin")
	require.NoError(t, err)
	assert.Equal(t, "/external/blobs/"+model.DigestBytes(content), url)
}
