// Package progress fans worker output out to the clients watching a job.
//
// Delivery is best-effort: a subscriber that cannot keep up loses events
// rather than slowing the publisher down. Nothing is persisted; a client
// that connects late sees only what is published after it subscribed,
// unless the hub keeps a replay buffer.
package progress

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("progress: broadcaster closed")

type Kind string

const (
	KindProgress Kind = "progress"
	KindError    Kind = "error"
	KindDone     Kind = "done"
	KindFailed   Kind = "failed"
)

// Terminal reports whether no further events follow this kind for a job.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindFailed
}

// DoneMessage is the payload of the terminal success event.
const DoneMessage = "DONE"

type Event struct {
	JobID   string    `json:"jobId"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Broadcaster is a per-job publish/subscribe channel. The returned cancel
// function releases the subscription and closes the event channel; it is
// also called when ctx is done.
type Broadcaster interface {
	Publisher
	Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error)
	// Forget drops any per-job state once the job is gone.
	Forget(jobID string)
	Close() error
}

func Progress(jobID, msg string) Event {
	return Event{JobID: jobID, Kind: KindProgress, Message: msg}
}

func Error(jobID, msg string) Event {
	return Event{JobID: jobID, Kind: KindError, Message: msg}
}

func Done(jobID string) Event {
	return Event{JobID: jobID, Kind: KindDone, Message: DoneMessage}
}

func Failed(jobID, reason string) Event {
	return Event{JobID: jobID, Kind: KindFailed, Message: reason}
}
