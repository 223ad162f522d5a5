package job

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
)

type SweepStats struct {
	Jobs       int `json:"jobs"`
	Workspaces int `json:"workspaces"`
	Uploads    int `json:"uploads"`
	Errors     int `json:"errors"`
}

type SweepOptions struct {
	JobsDir    string
	UploadsDir string
	// TTL is the minimum age of anything removed.
	TTL time.Duration
	// Keep reports names that must survive regardless of age: job ids for
	// workspaces, stored names for uploads.
	Keep func(name string) bool
	Now  time.Time
}

// SweepOrphans removes job workspaces and uploaded files that nothing
// refers to once they are older than opts.TTL. A workspace's age is that of
// the newest entry inside it.
func SweepOrphans(ctx context.Context, opts SweepOptions) (SweepStats, error) {
	log := logger.FromContext(ctx)
	var stats SweepStats

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-opts.TTL)
	keep := opts.Keep
	if keep == nil {
		keep = func(string) bool { return false }
	}

	if opts.JobsDir != "" {
		entries, err := os.ReadDir(opts.JobsDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return stats, err
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if !e.IsDir() || keep(e.Name()) {
				continue
			}
			path := filepath.Join(opts.JobsDir, e.Name())
			if newest(path).After(cutoff) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				log.Warn("failed to remove workspace", "path", path, "error", err)
				stats.Errors++
				continue
			}
			metrics.WorkspacesSweptTotal.Inc()
			stats.Workspaces++
		}
	}

	if opts.UploadsDir != "" {
		entries, err := os.ReadDir(opts.UploadsDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return stats, err
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if !e.Type().IsRegular() || keep(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(opts.UploadsDir, e.Name())
			if err := os.Remove(path); err != nil {
				log.Warn("failed to remove upload", "path", path, "error", err)
				stats.Errors++
				continue
			}
			stats.Uploads++
		}
	}

	return stats, nil
}

func newest(root string) time.Time {
	var latest time.Time
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest
}

// Sweep collects finished jobs older than ttl that were never downloaded,
// deleting the inputs retained by failed ones, then removes orphaned
// workspaces and uploads.
func (o *Orchestrator) Sweep(ctx context.Context, ttl time.Duration, uploadsDir string) (SweepStats, error) {
	log := logger.FromContext(ctx)
	cutoff := time.Now().Add(-ttl)
	var stats SweepStats

	for _, j := range o.store.List() {
		if !j.Status.Terminal() || j.FinishedAt == nil || j.FinishedAt.After(cutoff) {
			continue
		}

		o.mu.Lock()
		if o.claimed[j.ID] {
			o.mu.Unlock()
			continue
		}
		o.claimed[j.ID] = true
		o.mu.Unlock()

		if j.Status == StatusFailed {
			o.removeInputs(ctx, j.Inputs)
		}
		if err := o.collect(ctx, j); err != nil {
			stats.Errors++
			continue
		}
		metrics.WorkspacesSweptTotal.Inc()
		stats.Jobs++
	}

	keep := make(map[string]bool)
	for _, j := range o.store.List() {
		keep[j.ID] = true
		for _, f := range j.Inputs {
			keep[f.StoredName] = true
		}
	}

	orphans, err := SweepOrphans(ctx, SweepOptions{
		JobsDir:    o.cfg.JobsDir,
		UploadsDir: uploadsDir,
		TTL:        ttl,
		Keep:       func(name string) bool { return keep[name] },
	})
	stats.Workspaces = orphans.Workspaces
	stats.Uploads = orphans.Uploads
	stats.Errors += orphans.Errors

	if stats != (SweepStats{}) {
		log.Info("sweep finished", "jobs", stats.Jobs, "workspaces", stats.Workspaces, "uploads", stats.Uploads, "errors", stats.Errors)
	}
	return stats, err
}

// StartJanitor sweeps every interval until ctx is done.
func (o *Orchestrator) StartJanitor(ctx context.Context, ttl, interval time.Duration, uploadsDir string) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = max(ttl/4, time.Minute)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := o.Sweep(ctx, ttl, uploadsDir); err != nil && ctx.Err() == nil {
					logger.FromContext(ctx).Error("sweep failed", "error", err)
				}
			}
		}
	}()
}
