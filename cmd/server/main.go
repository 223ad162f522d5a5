package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/api"
	"github.com/abdul-hamid-achik/batchpress/internal/archive"
	"github.com/abdul-hamid-achik/batchpress/internal/config"
	"github.com/abdul-hamid-achik/batchpress/internal/health"
	"github.com/abdul-hamid-achik/batchpress/internal/intake"
	"github.com/abdul-hamid-achik/batchpress/internal/job"
	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
	"github.com/abdul-hamid-achik/batchpress/internal/progress"
	"github.com/abdul-hamid-achik/batchpress/internal/tracing"
	"github.com/abdul-hamid-achik/batchpress/internal/version"
	"github.com/abdul-hamid-achik/batchpress/internal/worker"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
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

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("configuration loaded", "data_dir", cfg.DataDir, "worker", cfg.WorkerBinary)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
			ServiceName:    "batchpress",
			ServiceVersion: version.Short(),
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			Enabled:        true,
			SampleRate:     cfg.TraceSampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()
		log.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.TraceSampleRate)
	}

	metrics.SetAppInfo(version.Short(), cfg.Environment, "server")

	for _, dir := range []string{cfg.UploadsDir(), cfg.JobsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	var (
		redisClient *redis.Client
		events      progress.Broadcaster
	)
	if cfg.RedisURL != "" {
		log.Info("connecting to redis")
		redisOpt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpt)
		defer func() { _ = redisClient.Close() }()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		if cfg.ProgressReplay > 0 {
			log.Warn("PROGRESS_REPLAY is ignored with redis progress broadcasting")
		}
		events = progress.NewRedisHub(redisClient, 0)
		log.Info("progress broadcast over redis")
	} else {
		events = progress.NewHub(progress.HubConfig{Replay: cfg.ProgressReplay})
	}

	runner := worker.NewRunner(worker.Config{
		Binary:    cfg.WorkerBinary,
		Args:      cfg.WorkerArgs,
		StopGrace: cfg.WorkerStopGrace,
	}, metrics.NewPrometheusCollector())
	if err := runner.Check(); err != nil {
		return fmt.Errorf("worker unavailable: %w", err)
	}

	orch := job.NewOrchestrator(job.Config{
		JobsDir:       cfg.JobsDir(),
		MaxConcurrent: cfg.MaxConcurrentJobs,
		Timeouts: map[intake.Category]time.Duration{
			intake.CategoryImage: cfg.ImageJobTimeout,
			intake.CategoryVideo: cfg.VideoJobTimeout,
		},
		LogLimit: cfg.ProgressLog,
	}, runner, archive.New(), events)

	if cfg.JobRetention > 0 {
		orch.StartJanitor(ctx, cfg.JobRetention, 0, cfg.UploadsDir())
		log.Info("retention janitor started", "retention", cfg.JobRetention)
	}

	checker := health.NewChecker(redisClient).
		WithCheck("data_dir", health.DirWritable(cfg.DataDir)).
		WithCheck("worker", func(context.Context) error { return runner.Check() })

	mux := api.NewRouter(&api.Config{
		Intake:         intake.NewValidator(cfg.UploadsDir(), cfg.MaxImageSize, cfg.MaxVideoSize),
		Jobs:           orch,
		Events:         events,
		Health:         checker,
		MaxRequestSize: cfg.MaxRequestSize,
		Metrics:        true,
	})

	handler := api.SecurityHeaders(api.CORS(cfg.CORSOrigins)(metrics.HTTPMetricsMiddleware(api.Recovery(api.RequestID(api.RequestLogger(mux))))))
	if cfg.TracingEnabled {
		handler = tracing.HTTPMiddleware("batchpress")(handler)
	}

	// No write timeout: progress streams and archive downloads run as long
	// as the job or transfer does.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Running jobs get the chance to finish and report before progress
	// streams are closed and the listener stops.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("jobs cancelled at shutdown", "error", err)
	}
	_ = events.Close()

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	if err := server.Shutdown(httpCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}
