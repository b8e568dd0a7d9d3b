package oci

import (
	"github.com/opencontainers/go-digest"
)

// Artifact is the metadata surface of an exported image: everything a caller
// may query without running it.
type Artifact struct {
	Digest       digest.Digest
	MediaType    string
	Size         int64 // config blob + layer blobs, per the manifest
	LayerCount   int
	RepoTags     []string
	Labels       map[string]string
	Env          []string
	Entrypoint   []string
	Cmd          []string
	ExposedPorts []string // "8000/tcp" form, sorted
	WorkingDir   string
	User         string
}
