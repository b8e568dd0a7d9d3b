package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/fastsurvey/slipway/internal/api"
	"github.com/fastsurvey/slipway/internal/builder"
	"github.com/fastsurvey/slipway/internal/config"
	"github.com/fastsurvey/slipway/internal/db"
	"github.com/fastsurvey/slipway/internal/engine"
	"github.com/fastsurvey/slipway/internal/logging"
	"github.com/fastsurvey/slipway/internal/worker"
	"github.com/fastsurvey/slipway/pkg/lock"
	"github.com/fastsurvey/slipway/pkg/oci"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	eng, err := engine.NewDocker(cfg.DockerHost)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to container engine")
	}
	defer eng.Close()

	locker, err := lock.NewFileLocker(cfg.LockDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare lock directory")
	}

	b := builder.NewBuilder(eng, oci.NewRegistryResolver(), store, locker, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	srv := api.NewServer(logger, store)
	group.Go(func() error {
		return srv.Run(ctx, cfg.HTTPListenAddr)
	})

	for i := range cfg.Workers {
		w := worker.New(store, b, cfg.OutputDir, cfg.PollInterval, logger.With().Int("worker", i).Logger())
		group.Go(func() error {
			return w.Run(ctx)
		})
	}

	logger.Info().Int("workers", cfg.Workers).Str("addr", cfg.HTTPListenAddr).Msg("slipwayd started")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon failed")
	}

	logger.Info().Msg("slipwayd stopped")
}
