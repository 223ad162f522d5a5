package client

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of ClientInterface for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Submit(ctx context.Context, jobType string, paths []string) (*UploadResponse, error) {
	args := m.Called(ctx, jobType, paths)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*UploadResponse), args.Error(1)
}

func (m *MockClient) GetJob(ctx context.Context, jobID string) (*Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Job), args.Error(1)
}

func (m *MockClient) Cancel(ctx context.Context, jobID string) (*CancelResponse, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CancelResponse), args.Error(1)
}

func (m *MockClient) Download(ctx context.Context, jobID string) (io.ReadCloser, string, int64, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Get(2).(int64), args.Error(3)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Get(2).(int64), args.Error(3)
}

// Stream replays the []Event given as the first return value through fn.
func (m *MockClient) Stream(ctx context.Context, jobID string, fn func(Event) error) error {
	args := m.Called(ctx, jobID, fn)
	if events, ok := args.Get(0).([]Event); ok {
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}

func (m *MockClient) WaitForJob(ctx context.Context, jobID string, pollInterval time.Duration) (*Job, error) {
	args := m.Called(ctx, jobID, pollInterval)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Job), args.Error(1)
}

// Ensure MockClient implements ClientInterface
var _ ClientInterface = (*MockClient)(nil)
