package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/config"
	"github.com/abdul-hamid-achik/batchpress/internal/job"
	"github.com/abdul-hamid-achik/batchpress/internal/logger"
)

// defaultTTL applies when JOB_RETENTION is unset.
const defaultTTL = 24 * time.Hour

// cleanup removes job workspaces and staged uploads left behind by a server
// that is no longer running, e.g. after a crash. Job state lives in memory,
// so nothing on disk is referenced once the server is gone.
func main() {
	if err := run(); err != nil {
		slog.Error("cleanup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	ttl := cfg.JobRetention
	if ttl <= 0 {
		ttl = defaultTTL
	}

	log.Info("starting cleanup", "data_dir", cfg.DataDir, "ttl", ttl)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	stats, err := job.SweepOrphans(logger.WithLogger(ctx, log), job.SweepOptions{
		JobsDir:    cfg.JobsDir(),
		UploadsDir: cfg.UploadsDir(),
		TTL:        ttl,
	})
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	log.Info("cleanup completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"workspaces", stats.Workspaces,
		"uploads", stats.Uploads,
		"errors", stats.Errors,
	)
	return nil
}
