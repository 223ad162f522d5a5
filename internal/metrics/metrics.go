package metrics

import (
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method"},
	)

	UploadFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_files_total",
			Help: "Total number of uploaded files by category and outcome",
		},
		[]string{"category", "status"},
	)

	UploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upload_file_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10),
		},
		[]string{"category"},
	)

	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_submitted_total",
			Help: "Total number of jobs accepted",
		},
		[]string{"category"},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"category", "status"},
	)

	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Number of jobs by current status",
		},
		[]string{"status"},
	)

	JobPhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_phase_duration_seconds",
			Help:    "Duration of job phases in seconds",
			Buckets: []float64{.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"category", "phase"},
	)

	WorkerProcessesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_processes_active",
			Help: "Number of running compression worker processes",
		},
	)

	WorkerExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_exits_total",
			Help: "Total number of worker process exits by result",
		},
		[]string{"category", "result"},
	)

	WorkerOutputLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_output_lines_total",
			Help: "Total number of worker output lines forwarded as progress",
		},
		[]string{"stream"},
	)

	ArchiveBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_bytes",
			Help:    "Size of produced result archives in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 12),
		},
	)

	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Total number of download attempts by outcome",
		},
		[]string{"result"},
	)

	ProgressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_events_total",
			Help: "Total number of progress events published",
		},
		[]string{"kind"},
	)

	ProgressEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_events_dropped_total",
			Help: "Total number of progress events dropped for slow subscribers",
		},
	)

	ProgressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "progress_subscribers",
			Help: "Number of connected progress subscribers",
		},
	)

	WorkspacesSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workspaces_swept_total",
			Help: "Total number of expired workspaces removed by the janitor",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_up",
			Help: "Whether the application is up",
		},
	)
)

func NormalizePath(path string) string {
	return uuidRegex.ReplaceAllString(path, ":id")
}

func RecordUpload(category, status string, sizeBytes int64) {
	UploadFilesTotal.WithLabelValues(category, status).Inc()
	if status == "accepted" {
		UploadBytes.WithLabelValues(category).Observe(float64(sizeBytes))
	}
}

func RecordJobSubmitted(category string) {
	JobsSubmittedTotal.WithLabelValues(category).Inc()
}

func RecordJobFinished(category, status string) {
	JobsFinishedTotal.WithLabelValues(category, status).Inc()
}

// RecordTransition moves one job between status gauges; from may be empty
// for a new job and to may be empty for a forgotten one.
func RecordTransition(from, to string) {
	if from != "" {
		JobsActive.WithLabelValues(from).Dec()
	}
	if to != "" {
		JobsActive.WithLabelValues(to).Inc()
	}
}

func RecordJobPhase(category, phase string, durationSeconds float64) {
	JobPhaseDuration.WithLabelValues(category, phase).Observe(durationSeconds)
}

func RecordWorkerExit(category, result string) {
	WorkerExitsTotal.WithLabelValues(category, result).Inc()
}

func RecordWorkerLine(stream string) {
	WorkerOutputLinesTotal.WithLabelValues(stream).Inc()
}

func RecordArchive(sizeBytes int64) {
	ArchiveBytes.Observe(float64(sizeBytes))
}

func RecordDownload(result string) {
	DownloadsTotal.WithLabelValues(result).Inc()
}

func RecordProgressEvent(kind string) {
	ProgressEventsTotal.WithLabelValues(kind).Inc()
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}
