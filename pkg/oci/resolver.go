package oci

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/opencontainers/go-digest"
)

// Resolved pins a mutable image reference to the digest the registry served
// at resolution time. Builds pull the pinned form, so two builds of the same
// descriptor start from byte-identical bases even if the tag moved between
// them.
type Resolved struct {
	Reference string        // normalized tag form, for messages
	Digest    digest.Digest // manifest (or index) digest
	Pinned    string        // repository@digest form handed to the engine
}

// Resolver turns an image reference into a digest-pinned one.
type Resolver interface {
	Resolve(ctx context.Context, imageRef string) (*Resolved, error)
}

// RegistryResolver resolves against the registry named in the reference,
// authenticating with the ambient docker credential keychain.
type RegistryResolver struct{}

func NewRegistryResolver() *RegistryResolver {
	return &RegistryResolver{}
}

func (r *RegistryResolver) Resolve(ctx context.Context, imageRef string) (*Resolved, error) {
	ref, err := NormalizeReference(imageRef)
	if err != nil {
		return nil, err
	}

	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	}

	dgst, err := headDigest(ref, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref.String(), err)
	}

	return &Resolved{
		Reference: ref.String(),
		Digest:    dgst,
		Pinned:    ref.Context().Name() + "@" + dgst.String(),
	}, nil
}

func headDigest(ref name.Reference, opts []remote.Option) (digest.Digest, error) {
	desc, err := remote.Head(ref, opts...)
	if err == nil {
		return digest.Digest(desc.Digest.String()), nil
	}

	// Some registries reject HEAD requests; a full GET carries the same digest.
	full, getErr := remote.Get(ref, opts...)
	if getErr != nil {
		return "", err
	}

	return digest.Digest(full.Digest.String()), nil
}

// StaticResolver returns a fixed resolution. For tests, and for air-gapped
// hosts where the engine already holds the base image.
type StaticResolver struct {
	Digest digest.Digest
	Err    error
}

func (s *StaticResolver) Resolve(ctx context.Context, imageRef string) (*Resolved, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	ref, err := NormalizeReference(imageRef)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		Reference: ref.String(),
		Digest:    s.Digest,
		Pinned:    ref.Context().Name() + "@" + s.Digest.String(),
	}, nil
}
