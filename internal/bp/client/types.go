package client

import (
	"fmt"
	"time"
)

const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusArchiving = "ARCHIVING"
	StatusDone      = "DONE"
	StatusFailed    = "FAILED"
)

type UploadResponse struct {
	JobID string `json:"jobId"`
}

type InputFile struct {
	OriginalName string `json:"originalName"`
	StoredName   string `json:"storedName"`
	Size         int64  `json:"size"`
}

type LogEntry struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

type Job struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Status      string      `json:"status"`
	Inputs      []InputFile `json:"inputs"`
	Log         []LogEntry  `json:"log,omitempty"`
	Error       string      `json:"error,omitempty"`
	ExitCode    *int        `json:"exitCode,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
	DownloadURL string      `json:"downloadUrl,omitempty"`
}

// Finished reports whether the job reached DONE or FAILED.
func (j *Job) Finished() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

type CancelResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type PingResponse struct {
	Success bool   `json:"success"`
	Ping    string `json:"ping"`
}

// Event is one message of a job's progress stream. Kind is "status",
// "progress", "error", "done" or "failed".
type Event struct {
	Seq     uint64 `json:"seq"`
	Kind    string `json:"kind"`
	JobID   string `json:"jobId"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Kind == "done" || e.Kind == "failed"
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Status  string `json:"status,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	File       string
	// Status is the job status for not_ready and conflict responses.
	Status string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}
