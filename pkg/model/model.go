package model

// DefaultServer is the registry used when a repository id carries no server segment.
const DefaultServer = "registry-1.docker.io"

const (
	// MediaTypeManifest is the Docker distribution manifest v2 media type.
	MediaTypeManifest = "application/vnd.docker.distribution.manifest.v2+json"
	// MediaTypeConfig is the media type declared for the config blob.
	MediaTypeConfig = "application/vnd.docker.container.image.v1+json"
	// MediaTypeLayer is the media type declared for file layers. Files are stored
	// as-is; the gzip tar type only satisfies registry manifest validation.
	MediaTypeLayer = "application/vnd.docker.image.rootfs.diff.tar.gzip"
	// MediaTypeOctetStream is used for blob upload bodies.
	MediaTypeOctetStream = "application/octet-stream"
)

const (
	HeaderRepository   = "repository"
	HeaderContentType  = "Content-Type"
	HeaderContentRange = "Content-Range"
	HeaderAccept       = "Accept"
	HeaderLocation     = "Location"
)

// FileItem is one logical file stored as one registry blob.
type FileItem struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// FileListing is the config blob payload: the ordered set of files in a
// repository. Order is significant, it becomes the manifest layer order.
type FileListing struct {
	FileItems []FileItem `json:"fileItems"`
}

// RepositoryArtifact is the resolved addressing target for a repository id.
type RepositoryArtifact struct {
	Server string
	Name   string
}
