package oci

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/go-containerregistry/pkg/authn"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/opencontainers/go-digest"
)

// InspectArtifact reads an exported image tarball (engine save format) and
// returns its metadata surface.
func InspectArtifact(path string) (*Artifact, error) {
	opener := func() (io.ReadCloser, error) { return os.Open(path) }

	img, err := tarball.Image(opener, nil)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}

	art, err := describeImage(img)
	if err != nil {
		return nil, fmt.Errorf("describe artifact %s: %w", path, err)
	}

	manifest, err := tarball.LoadManifest(opener)
	if err != nil {
		return nil, fmt.Errorf("load artifact manifest %s: %w", path, err)
	}
	for _, desc := range manifest {
		art.RepoTags = append(art.RepoTags, desc.RepoTags...)
	}

	return art, nil
}

// PushArtifact uploads an exported image tarball to the registry named in
// imageRef, authenticating with the ambient docker credential keychain.
func PushArtifact(ctx context.Context, path, imageRef string) (*Resolved, error) {
	ref, err := NormalizeReference(imageRef)
	if err != nil {
		return nil, err
	}

	img, err := tarball.ImageFromPath(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}

	err = remote.Write(ref, img,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	)
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", ref.String(), err)
	}

	dgst, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get image digest: %w", err)
	}

	return &Resolved{
		Reference: ref.String(),
		Digest:    digest.Digest(dgst.String()),
		Pinned:    ref.Context().Name() + "@" + dgst.String(),
	}, nil
}

func describeImage(img v1.Image) (*Artifact, error) {
	dgst, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get image digest: %w", err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("get config file: %w", err)
	}
	if cfgFile == nil {
		return nil, fmt.Errorf("no config file in image")
	}
	cfg := cfgFile.Config

	// Calculate image size from config descriptor plus layer descriptors
	size := manifest.Config.Size
	for _, layer := range manifest.Layers {
		size += layer.Size
	}

	ports := make([]string, 0, len(cfg.ExposedPorts))
	for port := range cfg.ExposedPorts {
		ports = append(ports, port)
	}
	sort.Strings(ports)

	return &Artifact{
		Digest:       digest.Digest(dgst.String()),
		MediaType:    string(manifest.MediaType),
		Size:         size,
		LayerCount:   len(manifest.Layers),
		Labels:       cfg.Labels,
		Env:          cfg.Env,
		Entrypoint:   cfg.Entrypoint,
		Cmd:          cfg.Cmd,
		ExposedPorts: ports,
		WorkingDir:   cfg.WorkingDir,
		User:         cfg.User,
	}, nil
}
