package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	Environment string
	LogLevel    string

	// DataDir holds uploads/ and jobs/<id>/ workspaces.
	DataDir string

	// WorkerBinary is the compression worker executable. WorkerArgs are
	// prepended before the category argument.
	WorkerBinary string
	WorkerArgs   []string

	MaxImageSize int64
	MaxVideoSize int64

	// MaxConcurrentJobs bounds running jobs; 0 means unbounded.
	MaxConcurrentJobs int
	ImageJobTimeout   time.Duration
	VideoJobTimeout   time.Duration
	WorkerStopGrace   time.Duration

	// JobRetention removes workspaces of terminal jobs that were never
	// downloaded; 0 keeps them until downloaded.
	JobRetention   time.Duration
	ProgressReplay int
	ProgressLog    int

	// CORSOrigins lists browser origins allowed to call the API; "*"
	// allows any.
	CORSOrigins []string
	// MaxRequestSize caps a whole upload request body.
	MaxRequestSize int64

	RedisURL string

	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64
}

// LoadDotEnv reads a .env file in the working directory when one exists.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvInt("PORT", 3000)
	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.DataDir, err = filepath.Abs(getEnvString("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("invalid DATA_DIR: %w", err)
	}

	cfg.WorkerBinary = getEnvString("WORKER_BINARY", "compressor")
	cfg.WorkerArgs = strings.Fields(os.Getenv("WORKER_ARGS"))

	cfg.MaxImageSize = getEnvInt64("MAX_IMAGE_SIZE", 50*1024*1024)
	cfg.MaxVideoSize = getEnvInt64("MAX_VIDEO_SIZE", 2*1024*1024*1024)

	cfg.MaxConcurrentJobs = getEnvInt("MAX_CONCURRENT_JOBS", 0)
	cfg.ImageJobTimeout, err = getEnvDuration("IMAGE_JOB_TIMEOUT", "0")
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_JOB_TIMEOUT: %w", err)
	}
	cfg.VideoJobTimeout, err = getEnvDuration("VIDEO_JOB_TIMEOUT", "0")
	if err != nil {
		return nil, fmt.Errorf("invalid VIDEO_JOB_TIMEOUT: %w", err)
	}
	cfg.WorkerStopGrace, err = getEnvDuration("WORKER_STOP_GRACE", "10s")
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_STOP_GRACE: %w", err)
	}
	cfg.JobRetention, err = getEnvDuration("JOB_RETENTION", "0")
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_RETENTION: %w", err)
	}

	cfg.ProgressReplay = getEnvInt("PROGRESS_REPLAY", 0)
	cfg.ProgressLog = getEnvInt("PROGRESS_LOG", 200)

	cfg.CORSOrigins = strings.Split(getEnvString("CORS_ORIGINS", "*"), ",")
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.MaxRequestSize = getEnvInt64("MAX_REQUEST_SIZE", 8*1024*1024*1024)

	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getEnvString("OTLP_ENDPOINT", "localhost:4317")
	cfg.TraceSampleRate = getEnvFloat("TRACE_SAMPLE_RATE", 1.0)

	return cfg, nil
}

func (c *Config) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

func (c *Config) JobsDir() string {
	return filepath.Join(c.DataDir, "jobs")
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.WorkerBinary == "" {
		return fmt.Errorf("worker binary is required")
	}

	if c.MaxImageSize < 1 || c.MaxVideoSize < 1 {
		return fmt.Errorf("invalid max upload size: image=%d video=%d", c.MaxImageSize, c.MaxVideoSize)
	}

	if c.MaxRequestSize < c.MaxImageSize || c.MaxRequestSize < c.MaxVideoSize {
		return fmt.Errorf("max request size %d is below a per-file limit", c.MaxRequestSize)
	}

	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("invalid max concurrent jobs: %d", c.MaxConcurrentJobs)
	}

	if c.ImageJobTimeout < 0 || c.VideoJobTimeout < 0 || c.JobRetention < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	if c.ProgressReplay < 0 || c.ProgressLog < 0 {
		return fmt.Errorf("invalid progress buffer sizes: replay=%d log=%d", c.ProgressReplay, c.ProgressLog)
	}

	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("invalid trace sample rate: %v", c.TraceSampleRate)
	}

	return nil
}
