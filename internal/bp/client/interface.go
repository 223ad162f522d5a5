package client

import (
	"context"
	"io"
	"time"
)

// ClientInterface defines all client operations for mocking in tests.
// The Client struct implements this interface.
type ClientInterface interface {
	Ping(ctx context.Context) error

	// Submit uploads files as one job of the given type ("image" or "video").
	Submit(ctx context.Context, jobType string, paths []string) (*UploadResponse, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	Cancel(ctx context.Context, jobID string) (*CancelResponse, error)

	// Download returns the job's archive. The server deletes the job once
	// the body has been read to the end.
	Download(ctx context.Context, jobID string) (io.ReadCloser, string, int64, error)

	// Stream calls fn for every progress event until a terminal event,
	// the end of the stream, or an error from fn.
	Stream(ctx context.Context, jobID string, fn func(Event) error) error

	WaitForJob(ctx context.Context, jobID string, pollInterval time.Duration) (*Job, error)
}

// Ensure Client implements ClientInterface at compile time
var _ ClientInterface = (*Client)(nil)
