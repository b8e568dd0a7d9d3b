package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPListenAddr string
	DBPath         string
	OutputDir      string
	LockDir        string
	// DockerHost overrides the engine endpoint; empty uses the environment
	// (DOCKER_HOST et al).
	DockerHost   string
	LogLevel     string
	Workers      int
	PollInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPListenAddr: getEnv("SLIPWAY_HTTP_LISTEN_ADDR", ":8090"),
		DBPath:         getEnv("SLIPWAY_DB_PATH", "/var/lib/slipway/slipway.db"),
		OutputDir:      getEnv("SLIPWAY_OUTPUT_DIR", "/var/lib/slipway/artifacts"),
		LockDir:        getEnv("SLIPWAY_LOCK_DIR", "/var/lib/slipway/locks"),
		DockerHost:     getEnv("SLIPWAY_DOCKER_HOST", ""),
		LogLevel:       getEnv("SLIPWAY_LOG_LEVEL", "info"),
	}

	workers, err := strconv.Atoi(getEnv("SLIPWAY_WORKERS", "1"))
	if err != nil || workers < 1 {
		return nil, fmt.Errorf("SLIPWAY_WORKERS must be a positive integer, got %q", getEnv("SLIPWAY_WORKERS", "1"))
	}
	cfg.Workers = workers

	interval, err := time.ParseDuration(getEnv("SLIPWAY_POLL_INTERVAL", "2s"))
	if err != nil {
		return nil, fmt.Errorf("SLIPWAY_POLL_INTERVAL: %w", err)
	}
	cfg.PollInterval = interval

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
