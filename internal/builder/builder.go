// Package builder evaluates a build descriptor against a context directory
// and publishes the resulting image as an immutable tarball artifact.
//
// A build is a linear pipeline over the engine: resolve and pull the pinned
// base, then commit one layer per descriptor step. Steps whose cache material
// matches a previous run on the same parent image reuse the committed layer
// instead of executing again. The first failing step aborts the build; no
// artifact is published and no containers are left behind.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"github.com/fastsurvey/slipway/internal/engine"
	"github.com/fastsurvey/slipway/internal/metrics"
	"github.com/fastsurvey/slipway/internal/spec"
	"github.com/fastsurvey/slipway/pkg/fs"
	"github.com/fastsurvey/slipway/pkg/lock"
	"github.com/fastsurvey/slipway/pkg/oci"
)

type BuildOptions struct {
	// ContextDir holds the dependency manifest and the app source tree.
	ContextDir string
	// OutputDir receives the exported image tarball.
	OutputDir string
	// Tag is an optional engine-side name for the built image. It is only
	// applied once the whole pipeline has succeeded.
	Tag  string
	Args spec.Args
}

type StepResult struct {
	Name     string        `json:"name"`
	ImageID  string        `json:"image_id"`
	Cached   bool          `json:"cached"`
	Duration time.Duration `json:"duration"`
}

type Result struct {
	ImageID      string            `json:"image_id"`
	BaseDigest   digest.Digest     `json:"base_digest"`
	ArtifactPath string            `json:"artifact_path"`
	Tag          string            `json:"tag,omitempty"`
	Labels       map[string]string `json:"labels"`
	Steps        []StepResult      `json:"steps"`
	BuildTime    time.Duration     `json:"build_time"`
}

type Builder struct {
	engine   engine.Engine
	resolver oci.Resolver
	cache    StepCache
	locker   lock.Locker
	logger   zerolog.Logger
}

func NewBuilder(eng engine.Engine, resolver oci.Resolver, cache StepCache, locker lock.Locker, logger zerolog.Logger) *Builder {
	return &Builder{
		engine:   eng,
		resolver: resolver,
		cache:    cache,
		locker:   locker,
		logger:   logger,
	}
}

// Build runs the descriptor's steps in order and exports the final image to
// OutputDir. On failure the returned error names the step and carries its
// cause; nothing is published.
func (b *Builder) Build(ctx context.Context, s spec.Spec, opts BuildOptions) (*Result, error) {
	startTime := time.Now()

	logger := b.logger.With().Str("context", opts.ContextDir).Logger()
	logger.Info().
		Str("base", s.BaseImage).
		Str("commit_sha", opts.Args.CommitSHA).
		Str("branch_name", opts.Args.BranchName).
		Msg("starting build")

	result, err := b.run(ctx, logger, s, opts)
	if err != nil {
		metrics.ObserveBuild("failed", time.Since(startTime))
		logger.Error().Err(err).Msg("build failed")
		return nil, err
	}

	result.BuildTime = time.Since(startTime)
	metrics.ObserveBuild("built", result.BuildTime)
	logger.Info().
		Str("image", shortID(result.ImageID)).
		Str("artifact", result.ArtifactPath).
		Dur("duration", result.BuildTime).
		Msg("build completed")

	return result, nil
}

func (b *Builder) run(ctx context.Context, logger zerolog.Logger, s spec.Spec, opts BuildOptions) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid build descriptor: %w", err)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// serializes builds that publish the same artifact identity
	buildLock, err := b.locker.AcquireLock(ctx, lockKey(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire build lock: %w", err)
	}
	defer buildLock.Release()

	pipeline, err := NewPipeline(opts.ContextDir, s, opts.Args, b.resolver)
	if err != nil {
		return nil, err
	}

	state := &State{}
	result := &Result{Tag: opts.Tag, Labels: s.Labels(opts.Args)}
	for _, step := range pipeline.Steps {
		stepResult, err := b.runStep(ctx, logger, step, state)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name(), err)
		}
		result.Steps = append(result.Steps, stepResult)
	}

	artifactPath, err := b.publish(ctx, state.ImageID, opts)
	if err != nil {
		return nil, err
	}

	result.ImageID = state.ImageID
	result.BaseDigest = state.BaseDigest
	result.ArtifactPath = artifactPath

	return result, nil
}

// runStep applies one step, going through the cache for steps that declare
// cache material. A cached image id the engine no longer knows is evicted and
// the step re-executes.
func (b *Builder) runStep(ctx context.Context, logger zerolog.Logger, step Step, state *State) (StepResult, error) {
	startTime := time.Now()
	parent := state.ImageID

	key := step.CacheKey()
	if key != "" && parent != "" {
		cachedID, err := b.cache.CachedImage(ctx, parent, key)
		if err != nil {
			return StepResult{}, fmt.Errorf("cache lookup: %w", err)
		}
		if cachedID != "" {
			if _, err := b.engine.InspectImage(ctx, cachedID); err == nil {
				state.ImageID = cachedID
				metrics.ObserveStep(step.Name(), "cached")
				logger.Info().Str("step", step.Name()).Str("image", shortID(cachedID)).Msg("step cached")
				return StepResult{Name: step.Name(), ImageID: cachedID, Cached: true, Duration: time.Since(startTime)}, nil
			}

			if err := b.cache.EvictCachedImage(ctx, parent, key); err != nil {
				return StepResult{}, fmt.Errorf("evict stale cache entry: %w", err)
			}
		}
	}

	if err := step.Apply(ctx, b.engine, state); err != nil {
		metrics.ObserveStep(step.Name(), "failed")
		return StepResult{}, err
	}

	if key != "" && parent != "" {
		if err := b.cache.PutCachedImage(ctx, parent, key, state.ImageID); err != nil {
			return StepResult{}, fmt.Errorf("store cache entry: %w", err)
		}
	}

	metrics.ObserveStep(step.Name(), "executed")
	logger.Info().
		Str("step", step.Name()).
		Str("image", shortID(state.ImageID)).
		Dur("duration", time.Since(startTime)).
		Msg("step executed")

	return StepResult{Name: step.Name(), ImageID: state.ImageID, Duration: time.Since(startTime)}, nil
}

// publish tags the final image and exports it as a digest-named tarball. The
// write is atomic, so a crashed export never leaves a partial artifact.
func (b *Builder) publish(ctx context.Context, imageID string, opts BuildOptions) (string, error) {
	exportRef := imageID
	if opts.Tag != "" {
		if err := b.engine.TagImage(ctx, imageID, opts.Tag); err != nil {
			return "", fmt.Errorf("failed to tag image: %w", err)
		}
		exportRef = opts.Tag
	}

	reader, err := b.engine.SaveImage(ctx, exportRef)
	if err != nil {
		return "", fmt.Errorf("failed to export image: %w", err)
	}
	defer reader.Close()

	artifactPath := filepath.Join(opts.OutputDir, artifactName(imageID))
	if _, err := fs.WriteStreamAtomic(artifactPath, reader, 0o644); err != nil {
		return "", fmt.Errorf("error publishing artifact: %w", err)
	}

	return artifactPath, nil
}

// lockKey derives the artifact identity two concurrent builds must not share:
// the tag when one is requested, the context directory otherwise.
func lockKey(opts BuildOptions) digest.Digest {
	identity := opts.Tag
	if identity == "" {
		identity = opts.ContextDir
	}

	return digest.FromString(identity)
}

func artifactName(imageID string) string {
	name := imageID
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}

	return name + ".tar"
}

func shortID(imageID string) string {
	id := strings.TrimPrefix(imageID, "sha256:")
	if len(id) > 12 {
		id = id[:12]
	}

	return id
}
