// Package worker drains the build queue: claim the oldest queued build, load
// its context's descriptor, run the pipeline, record the outcome.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fastsurvey/slipway/internal/builder"
	"github.com/fastsurvey/slipway/internal/db"
	"github.com/fastsurvey/slipway/internal/spec"
)

// Runner runs one build to completion. *builder.Builder implements it.
type Runner interface {
	Build(ctx context.Context, s spec.Spec, opts builder.BuildOptions) (*builder.Result, error)
}

type Worker struct {
	store        *db.Store
	runner       Runner
	outputDir    string
	pollInterval time.Duration
	logger       zerolog.Logger
}

func New(store *db.Store, runner Runner, outputDir string, pollInterval time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		store:        store,
		runner:       runner,
		outputDir:    outputDir,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run processes builds until ctx is cancelled. An empty queue is polled at
// the configured interval; claim errors are logged and retried on the next
// tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if err := w.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("draining build queue failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain claims and processes builds until the queue is empty.
func (w *Worker) drain(ctx context.Context) error {
	for {
		build, err := w.store.ClaimNextBuild(ctx)
		if err != nil {
			return err
		}
		if build == nil {
			return nil
		}

		w.process(ctx, build)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (w *Worker) process(ctx context.Context, job *db.Build) {
	logger := w.logger.With().Str("build", job.ID).Logger()
	logger.Info().Str("context", job.ContextDir).Msg("processing build")

	// the outcome is recorded even when shutdown cancels the build
	recordCtx := context.WithoutCancel(ctx)

	s, err := spec.FromContext(job.ContextDir)
	if err != nil {
		w.fail(recordCtx, logger, job.ID, err)
		return
	}

	result, err := w.runner.Build(ctx, s, builder.BuildOptions{
		ContextDir: job.ContextDir,
		OutputDir:  w.outputDir,
		Tag:        job.Tag,
		Args:       spec.Args{CommitSHA: job.CommitSHA, BranchName: job.BranchName},
	})
	if err != nil {
		w.fail(recordCtx, logger, job.ID, err)
		return
	}

	err = w.store.MarkBuildBuilt(recordCtx, job.ID, result.ImageID, result.BaseDigest.String(), result.ArtifactPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record build result")
		return
	}

	logger.Info().Str("image", result.ImageID).Str("artifact", result.ArtifactPath).Msg("build recorded")
}

func (w *Worker) fail(ctx context.Context, logger zerolog.Logger, id string, cause error) {
	logger.Error().Err(cause).Msg("build failed")

	if err := w.store.MarkBuildFailed(ctx, id, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to record build failure")
	}
}
