package model

import "strings"

// InvalidRepositoryError reports a repository id with an unsupported number of
// `/` separated segments.
type InvalidRepositoryError struct {
	ID string
}

func (e *InvalidRepositoryError) Error() string {
	return "invalid repository format: " + e.ID
}

func (e *InvalidRepositoryError) Is(tgt error) bool {
	_, ok := tgt.(*InvalidRepositoryError)
	return ok
}

// ParseRepository resolves a repository id into a server and repository name:
//
//	"alpine"              -> registry-1.docker.io, library/alpine
//	"user/repo"           -> registry-1.docker.io, user/repo
//	"host.example/user/repo" -> host.example, user/repo
func ParseRepository(id string) (RepositoryArtifact, error) {
	parts := strings.Split(id, "/")
	switch len(parts) {
	case 1:
		return RepositoryArtifact{Server: DefaultServer, Name: "library/" + parts[0]}, nil
	case 2:
		return RepositoryArtifact{Server: DefaultServer, Name: id}, nil
	case 3:
		return RepositoryArtifact{Server: parts[0], Name: parts[1] + "/" + parts[2]}, nil
	default:
		return RepositoryArtifact{}, &InvalidRepositoryError{ID: id}
	}
}
