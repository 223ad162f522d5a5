// Package api exposes job submission, progress streaming, status, cancel
// and download over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/health"
	"github.com/abdul-hamid-achik/batchpress/internal/intake"
	"github.com/abdul-hamid-achik/batchpress/internal/job"
	"github.com/abdul-hamid-achik/batchpress/internal/progress"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Jobs is the part of the orchestrator the handlers drive.
type Jobs interface {
	Submit(ctx context.Context, category intake.Category, files []intake.File) (string, error)
	Get(id string) (job.Job, error)
	Cancel(ctx context.Context, id string) error
	Fetch(ctx context.Context, id string) (*job.Delivery, error)
}

var _ Jobs = (*job.Orchestrator)(nil)

type Config struct {
	Intake *intake.Validator
	Jobs   Jobs
	Events progress.Broadcaster
	Health *health.Checker

	// MaxRequestSize caps an upload request body. Zero means no cap beyond
	// the per-file limits.
	MaxRequestSize int64
	// KeepAlive is the interval between keepalive events on progress
	// streams.
	KeepAlive time.Duration
	// Metrics mounts /metrics when set.
	Metrics bool
}

const defaultKeepAlive = 30 * time.Second

func NewRouter(cfg *Config) http.Handler {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", pingHandler())
	if cfg.Health != nil {
		mux.HandleFunc("GET /health", health.LivenessHandler())
		mux.HandleFunc("GET /health/ready", health.ReadinessHandler(cfg.Health))
	}
	if cfg.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("POST /upload/{type}", uploadHandler(cfg))
	mux.HandleFunc("GET /progress/{id}", progressHandler(cfg))
	mux.HandleFunc("GET /jobs/{id}", getJobHandler(cfg))
	mux.HandleFunc("DELETE /jobs/{id}", cancelJobHandler(cfg))
	mux.HandleFunc("GET /download/{id}", downloadHandler(cfg))

	return mux
}

func pingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ping": "pong"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
