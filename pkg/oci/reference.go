package oci

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// NormalizeReference parses an image reference, defaulting the registry the
// way container tooling does:
//   - "python:3.8" (defaults to docker.io/library)
//   - "fastsurvey/backend:main" (defaults to docker.io)
//   - "ghcr.io/owner/repo:tag" (unchanged)
//   - "localhost:5000/image:tag" (unchanged)
func NormalizeReference(imageRef string) (name.Reference, error) {
	// Add docker.io default if no registry specified
	normalized := imageRef
	if !strings.Contains(imageRef, "/") {
		normalized = "docker.io/library/" + imageRef
	} else if first := strings.Split(imageRef, "/")[0]; !strings.Contains(first, ".") && !strings.Contains(first, ":") {
		// If first component has no dots or colons, prepend docker.io
		normalized = "docker.io/" + imageRef
	}

	ref, err := name.ParseReference(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", imageRef, err)
	}

	return ref, nil
}
