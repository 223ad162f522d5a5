package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/apperror"
	"github.com/abdul-hamid-achik/batchpress/internal/job"
	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/progress"
)

// SSEMessage is one server-sent event. ID is omitted when zero.
type SSEMessage struct {
	ID    uint64
	Event string
	Data  any
}

type StatusEvent struct {
	JobID  string     `json:"jobId"`
	Status job.Status `json:"status"`
}

// progressHandler streams a job's progress as server-sent events: a status
// event first, then progress and error events, ending with done or failed.
func progressHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")
		log := logger.FromContext(ctx).With("job_id", id)

		flusher, ok := w.(http.Flusher)
		if !ok {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(nil, "streaming_unsupported",
				"Streaming not supported", http.StatusInternalServerError))
			return
		}

		// Subscribe before reading the status so a job finishing in between
		// still delivers its terminal event.
		events, unsubscribe, err := cfg.Events.Subscribe(ctx, id)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrServiceUnavailable))
			return
		}
		defer unsubscribe()

		j, err := cfg.Jobs.Get(id)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrNotFound))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		log.Debug("progress client connected", "status", j.Status)

		sendSSEMessage(w, flusher, SSEMessage{
			Event: "status",
			Data:  StatusEvent{JobID: j.ID, Status: j.Status},
		})

		switch j.Status {
		case job.StatusDone:
			sendEvent(w, flusher, progress.Done(j.ID))
			return
		case job.StatusFailed:
			sendEvent(w, flusher, progress.Failed(j.ID, j.Error))
			return
		}

		ticker := time.NewTicker(cfg.KeepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Debug("progress client disconnected")
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				sendEvent(w, flusher, ev)
				if ev.Kind.Terminal() {
					return
				}
			case <-ticker.C:
				sendSSEMessage(w, flusher, SSEMessage{
					Event: "keepalive",
					Data:  map[string]int64{"timestamp": time.Now().Unix()},
				})
			}
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, ev progress.Event) {
	sendSSEMessage(w, flusher, SSEMessage{ID: ev.Seq, Event: string(ev.Kind), Data: ev})
}

func sendSSEMessage(w http.ResponseWriter, flusher http.Flusher, msg SSEMessage) {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return
	}

	if msg.ID > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", msg.ID)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", msg.Event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
