package metrics

import (
	"time"
)

// PrometheusCollector records worker process lifecycle statistics.
type PrometheusCollector struct{}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{}
}

// ProcessStarted is called after a worker process has been spawned.
func (c *PrometheusCollector) ProcessStarted(category string) {
	WorkerProcessesActive.Inc()
}

// ProcessExited is called once the worker process has been reaped.
func (c *PrometheusCollector) ProcessExited(category string, exitCode int, duration time.Duration) {
	WorkerProcessesActive.Dec()
	result := "success"
	if exitCode != 0 {
		result = "failure"
	}
	RecordWorkerExit(category, result)
	RecordJobPhase(category, "worker", duration.Seconds())
}

// LineForwarded is called for every output line relayed as progress.
func (c *PrometheusCollector) LineForwarded(stream string) {
	RecordWorkerLine(stream)
}
