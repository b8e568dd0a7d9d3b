package engine

import (
	"context"
	"io"
)

// CreateOptions describe a container to create from an image.
type CreateOptions struct {
	Image        string
	Cmd          []string
	Env          []string
	Labels       map[string]string
	ExposedPorts []string          // "8000/tcp" form
	PortBindings map[string]string // container port spec -> host port, "" for ephemeral
	Name         string
}

// CommitOptions turn a stopped container into a new image. Changes carry
// Dockerfile-form config instructions (LABEL, ENV, EXPOSE, CMD).
type CommitOptions struct {
	Changes []string
	Comment string
}

// ImageInfo is the engine-side view of an image's identity and runtime config.
type ImageInfo struct {
	ID           string
	RepoTags     []string
	RepoDigests  []string
	Labels       map[string]string
	Env          []string
	Cmd          []string
	Entrypoint   []string
	ExposedPorts []string
	WorkingDir   string
}

// PortBinding reports where a published container port landed on the host.
type PortBinding struct {
	ContainerPort string // "8000/tcp"
	HostPort      string
}

// Engine is the container-engine surface the build pipeline and the launcher
// use. Implementations must be safe for concurrent use.
type Engine interface {
	PullImage(ctx context.Context, imageRef string) (imageID string, err error)
	InspectImage(ctx context.Context, imageRef string) (*ImageInfo, error)
	TagImage(ctx context.Context, imageID, imageRef string) error
	// SaveImage streams the image as a tarball; the caller closes the reader.
	SaveImage(ctx context.Context, imageRef string) (io.ReadCloser, error)

	CreateContainer(ctx context.Context, opts CreateOptions) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	// WaitContainer blocks until the container stops and returns its exit code.
	WaitContainer(ctx context.Context, containerID string) (int64, error)
	// CopyToContainer extracts a tar stream at destPath inside the container.
	CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader) error
	CommitContainer(ctx context.Context, containerID string, opts CommitOptions) (imageID string, err error)
	RemoveContainer(ctx context.Context, containerID string) error
	// ContainerLogs demuxes the container's output into stdout and stderr,
	// following until the stream ends.
	ContainerLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error
	PortBindings(ctx context.Context, containerID string) ([]PortBinding, error)
}
