package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
)

// Delivery is an exclusive claim on a finished job's archive. Exactly one
// of Complete or Release takes effect.
type Delivery struct {
	o    *Orchestrator
	once sync.Once

	Job  Job
	Path string
	Name string
	Size int64
}

// Fetch claims the archive of a DONE job for download. Unknown jobs, jobs
// already collected and jobs claimed by another download are ErrNotFound;
// jobs that exist but are not DONE yield a *NotReadyError.
func (o *Orchestrator) Fetch(ctx context.Context, id string) (*Delivery, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.claimed[id] {
		return nil, ErrNotFound
	}
	j, err := o.store.Get(id)
	if err != nil {
		return nil, ErrNotFound
	}
	if j.Status != StatusDone {
		return nil, &NotReadyError{Status: j.Status}
	}

	info, err := os.Stat(j.ArchivePath)
	if err != nil || !info.Mode().IsRegular() {
		logger.FromContext(ctx).Warn("archive missing for finished job", "job_id", id, "path", j.ArchivePath, "error", err)
		return nil, ErrNotFound
	}

	o.claimed[id] = true
	return &Delivery{
		o:    o,
		Job:  j,
		Path: j.ArchivePath,
		Name: filepath.Base(j.ArchivePath),
		Size: info.Size(),
	}, nil
}

func (d *Delivery) Open() (*os.File, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("job: open archive: %w", err)
	}
	return f, nil
}

// Complete tears the job down after a successful transfer: the workspace
// is removed and the job forgotten.
func (d *Delivery) Complete(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		err = d.o.collect(ctx, d.Job)
		metrics.RecordDownload("complete")
	})
	return err
}

// Release gives up the claim after a failed transfer so the client can
// try again.
func (d *Delivery) Release() {
	d.once.Do(func() {
		d.o.mu.Lock()
		delete(d.o.claimed, d.Job.ID)
		d.o.mu.Unlock()
		metrics.RecordDownload("released")
	})
}

// collect removes a job's workspace and forgets it. The caller must hold
// the claim for j.
func (o *Orchestrator) collect(ctx context.Context, j Job) error {
	log := logger.FromContext(ctx).With("job_id", j.ID)

	err := os.RemoveAll(j.Workspace)
	if err != nil {
		log.Error("failed to remove workspace", "workspace", j.Workspace, "error", err)
		err = fmt.Errorf("job: remove workspace: %w", err)
	}

	o.store.Delete(j.ID)
	if o.events != nil {
		o.events.Forget(j.ID)
	}

	o.mu.Lock()
	delete(o.claimed, j.ID)
	o.mu.Unlock()

	log.Info("job collected")
	return err
}
