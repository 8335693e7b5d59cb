package model

// Descriptor references a blob by media type, size and digest.
type Descriptor struct {
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"`
}

// Manifest is the registry-native image manifest (schemaVersion 2) written at
// commit time. One layer per FileItem, in listing order.
type Manifest struct {
	SchemaVersion int          `json:"schemaVersion"`
	MediaType     string       `json:"mediaType"`
	Config        Descriptor   `json:"config"`
	Layers        []Descriptor `json:"layers"`
}

// NewManifest builds the manifest referencing the given config blob and one
// layer per file in listing order.
func NewManifest(listing FileListing, configDigest string, configSize int64) Manifest {
	layers := make([]Descriptor, 0, len(listing.FileItems))
	for _, item := range listing.FileItems {
		layers = append(layers, Descriptor{
			MediaType: MediaTypeLayer,
			Size:      item.Size,
			Digest:    item.Digest,
		})
	}
	return Manifest{
		SchemaVersion: 2,
		MediaType:     MediaTypeManifest,
		Config: Descriptor{
			MediaType: MediaTypeConfig,
			Size:      configSize,
			Digest:    configDigest,
		},
		Layers: layers,
	}
}
