package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/archive"
	"github.com/abdul-hamid-achik/batchpress/internal/intake"
	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
	"github.com/abdul-hamid-achik/batchpress/internal/progress"
	"github.com/abdul-hamid-achik/batchpress/internal/tracing"
	"github.com/abdul-hamid-achik/batchpress/internal/worker"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

type Runner interface {
	Run(ctx context.Context, t worker.Task, sink progress.Publisher) error
}

type Archiver interface {
	Archive(ctx context.Context, jobID, outputDir, dest string) (*archive.Result, error)
}

type Config struct {
	// JobsDir holds one workspace directory per job.
	JobsDir string
	// MaxConcurrent bounds jobs past QUEUED. Zero means unbounded.
	MaxConcurrent int
	// Timeouts caps the worker run per category. Missing or zero means none.
	Timeouts map[intake.Category]time.Duration
	// LogLimit bounds the per-job progress log.
	LogLimit int
}

// Orchestrator accepts jobs and drives each one through
// QUEUED -> RUNNING -> ARCHIVING -> DONE, or to FAILED, in the background.
type Orchestrator struct {
	cfg      Config
	store    *Store
	runner   Runner
	archiver Archiver
	events   progress.Broadcaster
	slots    *semaphore.Weighted

	wg sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	claimed map[string]bool
	closed  bool
}

func NewOrchestrator(cfg Config, runner Runner, archiver Archiver, events progress.Broadcaster) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    NewStore(cfg.LogLimit),
		runner:   runner,
		archiver: archiver,
		events:   events,
		cancels:  make(map[string]context.CancelCauseFunc),
		claimed:  make(map[string]bool),
	}
	if cfg.MaxConcurrent > 0 {
		o.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return o
}

func (o *Orchestrator) Store() *Store {
	return o.store
}

// Submit creates the job workspace, records the job as QUEUED and starts
// it in the background. It returns as soon as the job is recorded.
func (o *Orchestrator) Submit(ctx context.Context, category intake.Category, files []intake.File) (string, error) {
	if len(files) == 0 {
		return "", ErrNoInputs
	}

	id := uuid.NewString()
	workspace := filepath.Join(o.cfg.JobsDir, id)
	outputDir := filepath.Join(workspace, "output")

	inputs := make([]intake.File, len(files))
	for i, f := range files {
		abs, err := filepath.Abs(f.Path)
		if err != nil {
			return "", fmt.Errorf("job: resolve input %s: %w", f.StoredName, err)
		}
		f.Path = abs
		inputs[i] = f
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", ErrShuttingDown
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("job: create workspace: %w", err)
	}

	j := &Job{
		ID:        id,
		Type:      category,
		Workspace: workspace,
		OutputDir: outputDir,
		Inputs:    inputs,
	}
	if err := o.store.Create(j); err != nil {
		_ = os.RemoveAll(workspace)
		return "", err
	}
	metrics.RecordJobSubmitted(string(category))

	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	jobCtx = logger.WithJobID(jobCtx, id)
	o.cancels[id] = cancel

	logger.FromContext(jobCtx).Info("job submitted", "job_id", id, "category", category, "inputs", len(inputs))

	o.wg.Add(1)
	go o.run(jobCtx, id)

	return id, nil
}

func (o *Orchestrator) run(ctx context.Context, id string) {
	defer o.wg.Done()
	defer o.forgetCancel(id)

	j, err := o.store.Get(id)
	if err != nil {
		return
	}
	category := string(j.Type)
	log := logger.FromContext(ctx).With("job_id", id, "category", category)

	ctx, span := tracing.StartJobSpan(ctx, category, id)
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	if o.slots != nil {
		if err := o.slots.Acquire(ctx, 1); err != nil {
			spanErr = o.fail(ctx, j, stopReason(ctx), nil)
			return
		}
		defer o.slots.Release(1)
	}

	if _, err := o.store.Transition(id, StatusRunning, nil); err != nil {
		log.Error("cannot start job", "error", err)
		spanErr = err
		return
	}
	log.Info("job running")

	runCtx := ctx
	if timeout := o.cfg.Timeouts[j.Type]; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, timeout, fmt.Errorf("job: timed out after %s", timeout))
		defer cancel()
	}

	phaseCtx, phase := tracing.StartPhaseSpan(runCtx, "worker")
	err = o.runner.Run(phaseCtx, worker.Task{
		JobID:     id,
		Category:  category,
		Inputs:    j.InputPaths(),
		OutputDir: j.OutputDir,
	}, &jobSink{o: o, id: id})
	tracing.EndSpan(phase, err)
	if err != nil {
		spanErr = o.fail(ctx, j, o.failureReason(runCtx, err), err)
		return
	}

	if _, err := o.store.Transition(id, StatusArchiving, nil); err != nil {
		log.Error("cannot archive job", "error", err)
		spanErr = err
		return
	}

	start := time.Now()
	phaseCtx, phase = tracing.StartPhaseSpan(ctx, "archive")
	dest := filepath.Join(j.Workspace, archive.FileName(id))
	res, err := o.archiver.Archive(phaseCtx, id, j.OutputDir, dest)
	tracing.EndSpan(phase, err)
	metrics.RecordJobPhase(category, "archive", time.Since(start).Seconds())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrArchiveFailed, err)
		reason := "archiving failed"
		if ctx.Err() != nil {
			reason = stopReason(ctx)
		}
		spanErr = o.fail(ctx, j, reason, err)
		return
	}

	if _, err := o.store.Transition(id, StatusDone, func(j *Job) {
		j.ArchivePath = res.Path
		zero := 0
		j.ExitCode = &zero
	}); err != nil {
		log.Error("cannot complete job", "error", err)
		spanErr = err
		return
	}

	o.removeInputs(ctx, j.Inputs)
	metrics.RecordJobFinished(category, "done")
	o.publish(ctx, progress.Done(id))
	log.Info("job done", "archive", res.Path, "files", res.Files, "bytes", res.Bytes)
}

// fail moves a job to FAILED and emits the terminal failure event. Inputs
// are kept so the job can be resubmitted.
func (o *Orchestrator) fail(ctx context.Context, j Job, reason string, cause error) error {
	log := logger.FromContext(ctx).With("job_id", j.ID)

	var failure *worker.ProcessFailure
	_, err := o.store.Transition(j.ID, StatusFailed, func(j *Job) {
		j.Error = reason
		if errors.As(cause, &failure) {
			code := failure.ExitCode
			j.ExitCode = &code
		}
	})
	if err != nil {
		log.Error("cannot fail job", "error", err)
		return err
	}

	metrics.RecordJobFinished(string(j.Type), "failed")
	o.publish(ctx, progress.Failed(j.ID, reason))
	log.Warn("job failed", "reason", reason, "error", cause)

	if cause == nil {
		return errors.New(reason)
	}
	return cause
}

func (o *Orchestrator) failureReason(ctx context.Context, err error) string {
	var failure *worker.ProcessFailure
	switch {
	case errors.As(err, &failure):
		return fmt.Sprintf("worker exited with code %d", failure.ExitCode)
	case errors.Is(err, worker.ErrStopped):
		return stopReason(ctx)
	default:
		return err.Error()
	}
}

func stopReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	switch {
	case cause == nil:
		return "stopped"
	case errors.Is(cause, ErrCancelled):
		return "cancelled"
	case errors.Is(cause, ErrShuttingDown):
		return "server shutting down"
	default:
		return cause.Error()
	}
}

func (o *Orchestrator) removeInputs(ctx context.Context, inputs []intake.File) {
	log := logger.FromContext(ctx)
	for _, f := range inputs {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove input", "file", f.StoredName, "error", err)
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev progress.Event) {
	o.store.AppendLog(ev.JobID, LogEntry{Time: time.Now(), Kind: ev.Kind, Message: ev.Message})
	if o.events == nil {
		return
	}
	if err := o.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.FromContext(ctx).Warn("failed to publish progress", "job_id", ev.JobID, "kind", ev.Kind, "error", err)
	}
}

func (o *Orchestrator) forgetCancel(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.cancels[id]; ok {
		cancel(nil)
		delete(o.cancels, id)
	}
}

// jobSink records worker output in the job log and forwards it to
// subscribers.
type jobSink struct {
	o  *Orchestrator
	id string
}

func (s *jobSink) Publish(ctx context.Context, ev progress.Event) error {
	s.o.publish(ctx, ev)
	return nil
}

func (o *Orchestrator) Get(id string) (Job, error) {
	return o.store.Get(id)
}

// Cancel stops a queued or running job. The job ends FAILED with reason
// "cancelled".
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	j, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if j.Status.Terminal() || j.Status == StatusArchiving {
		return fmt.Errorf("%w: status %s", ErrAlreadyFinished, j.Status)
	}

	o.mu.Lock()
	cancel, ok := o.cancels[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: status %s", ErrAlreadyFinished, j.Status)
	}

	logger.FromContext(ctx).Info("cancelling job", "job_id", id, "status", j.Status)
	cancel(ErrCancelled)
	return nil
}

// Shutdown stops accepting jobs and waits for running ones. If ctx ends
// first, remaining jobs are cancelled and waited for.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel(ErrShuttingDown)
	}
	o.mu.Unlock()

	<-done
	return ctx.Err()
}
