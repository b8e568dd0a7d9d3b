package builder

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/fastsurvey/slipway/internal/engine"
	"github.com/fastsurvey/slipway/internal/spec"
	"github.com/fastsurvey/slipway/pkg/fs"
	"github.com/fastsurvey/slipway/pkg/oci"
)

const (
	toolchainCommand   = "pip install --upgrade pip && pip install poetry"
	disableVenvCommand = "poetry config virtualenvs.create false"
	installCommand     = "poetry install --no-dev"
)

// State carries the image lineage through the pipeline. Each layer step
// replaces ImageID with its commit, which becomes the next step's parent.
type State struct {
	ImageID    string
	BaseDigest digest.Digest
}

// Step is one operation of the descriptor. CacheKey returns the material
// identifying the step's effect on its parent image; steps returning ""
// always execute.
type Step interface {
	Name() string
	CacheKey() string
	Apply(ctx context.Context, eng engine.Engine, state *State) error
}

// resolveBaseStep pins the base reference to the digest the registry serves
// now and pulls that exact image.
type resolveBaseStep struct {
	resolver oci.Resolver
	imageRef string
}

func (s *resolveBaseStep) Name() string     { return "resolve base" }
func (s *resolveBaseStep) CacheKey() string { return "" }

func (s *resolveBaseStep) Apply(ctx context.Context, eng engine.Engine, state *State) error {
	resolved, err := s.resolver.Resolve(ctx, s.imageRef)
	if err != nil {
		return fmt.Errorf("resolve base image: %w", err)
	}

	imageID, err := eng.PullImage(ctx, resolved.Pinned)
	if err != nil {
		return fmt.Errorf("pull base image: %w", err)
	}

	state.ImageID = imageID
	state.BaseDigest = resolved.Digest

	return nil
}

// acceptArgsStep binds the build arguments. They are free-form and may be
// empty; their values reach the image only through later steps.
type acceptArgsStep struct {
	args spec.Args
}

func (s *acceptArgsStep) Name() string     { return "accept build args" }
func (s *acceptArgsStep) CacheKey() string { return "" }

func (s *acceptArgsStep) Apply(ctx context.Context, eng engine.Engine, state *State) error {
	return nil
}

// configStep commits config-only changes (LABEL, ENV, EXPOSE, CMD) without
// running anything.
type configStep struct {
	name    string
	changes []string
}

func (s *configStep) Name() string     { return s.name }
func (s *configStep) CacheKey() string { return strings.Join(s.changes, "\n") }

func (s *configStep) Apply(ctx context.Context, eng engine.Engine, state *State) error {
	return commitStep(ctx, eng, state, stepContainer{
		comment: s.name,
		changes: s.changes,
	})
}

// runStep executes a shell command in the current image and commits the
// resulting filesystem.
type runStep struct {
	name    string
	command string
}

func (s *runStep) Name() string     { return s.name }
func (s *runStep) CacheKey() string { return "RUN " + s.command }

func (s *runStep) Apply(ctx context.Context, eng engine.Engine, state *State) error {
	return commitStep(ctx, eng, state, stepContainer{
		comment: s.name,
		command: s.command,
	})
}

// copyStep ships a packed archive into the image root and optionally runs a
// command against it. The archive digest is part of the cache key, so equal
// content reuses the cached layer regardless of file timestamps.
type copyStep struct {
	name        string
	instruction string
	archive     *fs.Archive
	command     string
}

func (s *copyStep) Name() string { return s.name }

func (s *copyStep) CacheKey() string {
	key := s.instruction + "@" + s.archive.Digest.String()
	if s.command != "" {
		key += "\nRUN " + s.command
	}

	return key
}

func (s *copyStep) Apply(ctx context.Context, eng engine.Engine, state *State) error {
	return commitStep(ctx, eng, state, stepContainer{
		comment: s.name,
		archive: s.archive,
		command: s.command,
	})
}

// stepContainer describes the single container a layer step runs through:
// create, optionally copy content in, optionally execute, commit, remove.
type stepContainer struct {
	comment string
	archive *fs.Archive
	command string
	changes []string
}

func commitStep(ctx context.Context, eng engine.Engine, state *State, c stepContainer) error {
	cmd := []string{"true"}
	if c.command != "" {
		cmd = []string{"/bin/sh", "-c", c.command}
	}

	ctr, err := eng.CreateContainer(ctx, engine.CreateOptions{Image: state.ImageID, Cmd: cmd})
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	defer func() { _ = eng.RemoveContainer(ctx, ctr) }()

	if c.archive != nil {
		if err := eng.CopyToContainer(ctx, ctr, "/", c.archive.Reader()); err != nil {
			return fmt.Errorf("copy build context: %w", err)
		}
	}

	if c.command != "" {
		if err := eng.StartContainer(ctx, ctr); err != nil {
			return fmt.Errorf("start container: %w", err)
		}

		code, err := eng.WaitContainer(ctx, ctr)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("%s: exit code %d%s", c.command, code, containerOutput(ctx, eng, ctr))
		}
	}

	imageID, err := eng.CommitContainer(ctx, ctr, engine.CommitOptions{
		Comment: c.comment,
		Changes: c.changes,
	})
	if err != nil {
		return fmt.Errorf("commit container: %w", err)
	}

	state.ImageID = imageID

	return nil
}

// containerOutput collects a failed command's output for the build error, so
// the cause reaches the report verbatim.
func containerOutput(ctx context.Context, eng engine.Engine, containerID string) string {
	var buf bytes.Buffer
	if err := eng.ContainerLogs(ctx, containerID, &buf, &buf); err != nil {
		return ""
	}

	out := strings.TrimSpace(buf.String())
	if out == "" {
		return ""
	}

	return ": " + out
}

func labelChange(key, value string) string {
	return fmt.Sprintf("LABEL %s=%s", key, strconv.Quote(value))
}

func envChange(key, value string) string {
	return fmt.Sprintf("ENV %s=%s", key, strconv.Quote(value))
}
