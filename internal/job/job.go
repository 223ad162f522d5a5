// Package job owns the lifecycle of compression jobs: workspace creation,
// worker dispatch, archiving, delivery and teardown.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/intake"
	"github.com/abdul-hamid-achik/batchpress/internal/progress"
)

var (
	ErrNotFound          = errors.New("job: not found")
	ErrNotReady          = errors.New("job: result not ready")
	ErrNoInputs          = errors.New("job: no input files")
	ErrInvalidTransition = errors.New("job: invalid status transition")
	ErrAlreadyFinished   = errors.New("job: already finished")
	ErrArchiveFailed     = errors.New("job: archiving failed")
	ErrCancelled         = errors.New("job: cancelled")
	ErrShuttingDown      = errors.New("job: orchestrator shutting down")
)

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusArchiving Status = "ARCHIVING"
	StatusDone      Status = "DONE"
	StatusFailed    Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusFailed},
	StatusRunning:   {StatusArchiving, StatusFailed},
	StatusArchiving: {StatusDone, StatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
// Status only moves forward; DONE and FAILED are final.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

type LogEntry struct {
	Time    time.Time     `json:"time"`
	Kind    progress.Kind `json:"kind"`
	Message string        `json:"message"`
}

type Job struct {
	ID          string          `json:"id"`
	Type        intake.Category `json:"type"`
	Status      Status          `json:"status"`
	Workspace   string          `json:"-"`
	Inputs      []intake.File   `json:"inputs"`
	OutputDir   string          `json:"-"`
	ArchivePath string          `json:"-"`
	Log         []LogEntry      `json:"log,omitempty"`
	Error       string          `json:"error,omitempty"`
	ExitCode    *int            `json:"exitCode,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// InputPaths returns the absolute paths of the job's input files.
func (j *Job) InputPaths() []string {
	paths := make([]string, len(j.Inputs))
	for i, f := range j.Inputs {
		paths[i] = f.Path
	}
	return paths
}

func (j *Job) clone() Job {
	c := *j
	c.Inputs = append([]intake.File(nil), j.Inputs...)
	c.Log = append([]LogEntry(nil), j.Log...)
	if j.ExitCode != nil {
		code := *j.ExitCode
		c.ExitCode = &code
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// NotReadyError is returned by Fetch for a job whose result cannot be
// downloaded (yet). It matches ErrNotReady.
type NotReadyError struct {
	Status Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job: result not ready (status %s)", e.Status)
}

func (e *NotReadyError) Unwrap() error {
	return ErrNotReady
}
