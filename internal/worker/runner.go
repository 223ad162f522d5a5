// Package worker runs compression batches in a separate process and relays
// the process output as progress events.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/progress"
)

var (
	ErrAlreadyRunning = errors.New("worker: a process is already running for this job")
	ErrStartFailed    = errors.New("worker: failed to start process")
	ErrBinaryNotFound = errors.New("worker: binary not found")
	ErrStopped        = errors.New("worker: stopped before completion")
)

// ProcessFailure reports a worker that ran and exited unsuccessfully.
// ExitCode is -1 when the process was killed by a signal.
type ProcessFailure struct {
	ExitCode int
	Err      error
}

func (e *ProcessFailure) Error() string {
	return fmt.Sprintf("worker: process exited with code %d", e.ExitCode)
}

func (e *ProcessFailure) Unwrap() error {
	return e.Err
}

// Collector receives process lifecycle statistics.
type Collector interface {
	ProcessStarted(category string)
	ProcessExited(category string, exitCode int, duration time.Duration)
	LineForwarded(stream string)
}

type nopCollector struct{}

func (nopCollector) ProcessStarted(string)                     {}
func (nopCollector) ProcessExited(string, int, time.Duration) {}
func (nopCollector) LineForwarded(string)                      {}

type Config struct {
	// Binary is the worker executable, resolved through PATH.
	Binary string
	// Args are placed before the category argument.
	Args []string
	// StopGrace is how long a worker may take to exit after SIGTERM
	// before it is killed.
	StopGrace time.Duration
}

// Task is one batch handed to a worker process.
type Task struct {
	JobID     string
	Category  string
	Inputs    []string
	OutputDir string
}

// Argv returns the worker arguments for t, excluding the binary.
func (c Config) Argv(t Task) []string {
	args := make([]string, 0, len(c.Args)+len(t.Inputs)+2)
	args = append(args, c.Args...)
	args = append(args, t.Category)
	args = append(args, t.Inputs...)
	return append(args, t.OutputDir)
}

type Runner struct {
	cfg       Config
	collector Collector

	mu     sync.Mutex
	active map[string]struct{}
}

func NewRunner(cfg Config, collector Collector) *Runner {
	if collector == nil {
		collector = nopCollector{}
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	return &Runner{
		cfg:       cfg,
		collector: collector,
		active:    make(map[string]struct{}),
	}
}

// Check verifies the worker binary can be found.
func (r *Runner) Check() error {
	if _, err := exec.LookPath(r.cfg.Binary); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, r.cfg.Binary, err)
	}
	return nil
}

func (r *Runner) running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}

func (r *Runner) claim(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[jobID]; ok {
		return false
	}
	r.active[jobID] = struct{}{}
	return true
}

func (r *Runner) release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
}

// Run executes the worker for t and blocks until it exits. Every stdout
// line is published as a progress event and every stderr line as an error
// event. It returns nil only when the process exits with status 0.
//
// Cancelling ctx sends SIGTERM; a worker still alive after StopGrace is
// killed. In that case the returned error wraps ErrStopped and the context
// error.
func (r *Runner) Run(ctx context.Context, t Task, sink progress.Publisher) error {
	if !r.claim(t.JobID) {
		return ErrAlreadyRunning
	}
	defer r.release(t.JobID)

	log := logger.FromContext(ctx).With("job_id", t.JobID, "category", t.Category)
	publishCtx := context.WithoutCancel(ctx)

	stdout := newLineWriter(func(line string) {
		r.forward(publishCtx, sink, progress.Progress(t.JobID, line), "stdout")
	})
	stderr := newLineWriter(func(line string) {
		r.forward(publishCtx, sink, progress.Error(t.JobID, line), "stderr")
	})

	cmd := exec.CommandContext(ctx, r.cfg.Binary, r.cfg.Argv(t)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.cfg.StopGrace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Error("failed to start worker", "binary", r.cfg.Binary, "error", err)
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	r.collector.ProcessStarted(t.Category)
	log.Info("worker started", "pid", cmd.Process.Pid, "inputs", len(t.Inputs))

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	duration := time.Since(start)
	exitCode := cmd.ProcessState.ExitCode()
	r.collector.ProcessExited(t.Category, exitCode, duration)

	if errors.Is(err, exec.ErrWaitDelay) && exitCode == 0 {
		log.Warn("worker exited but left its output open", "duration_ms", duration.Milliseconds())
		err = nil
	}
	if err == nil {
		log.Info("worker exited", "exit_code", 0, "duration_ms", duration.Milliseconds())
		return nil
	}

	if ctx.Err() != nil {
		log.Warn("worker stopped", "exit_code", exitCode, "cause", context.Cause(ctx))
		return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Warn("worker failed", "exit_code", exitErr.ExitCode(), "duration_ms", duration.Milliseconds())
		return &ProcessFailure{ExitCode: exitErr.ExitCode(), Err: err}
	}
	log.Error("worker wait failed", "error", err)
	return &ProcessFailure{ExitCode: exitCode, Err: err}
}

func (r *Runner) forward(ctx context.Context, sink progress.Publisher, ev progress.Event, stream string) {
	r.collector.LineForwarded(stream)
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, ev); err != nil {
		logger.FromContext(ctx).Debug("progress publish failed", "job_id", ev.JobID, "error", err)
	}
}
