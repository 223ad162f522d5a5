package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/logger"
	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "progress:"

// RedisHub is a Broadcaster over Redis Pub/Sub so that a progress stream can
// be served by any process sharing the Redis instance. It never replays.
type RedisHub struct {
	client *redis.Client
	buffer int

	mu     sync.Mutex
	seq    map[string]uint64
	subs   map[uint64]func()
	nextID uint64
	closed bool
}

var _ Broadcaster = (*RedisHub)(nil)

func NewRedisHub(client *redis.Client, buffer int) *RedisHub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &RedisHub{
		client: client,
		buffer: buffer,
		seq:    make(map[string]uint64),
		subs:   make(map[uint64]func()),
	}
}

func Channel(jobID string) string {
	return channelPrefix + jobID
}

func (h *RedisHub) Publish(ctx context.Context, ev Event) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.seq[ev.JobID]++
	ev.Seq = h.seq[ev.JobID]
	h.mu.Unlock()

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("progress: encode event: %w", err)
	}
	if err := h.client.Publish(ctx, Channel(ev.JobID), data).Err(); err != nil {
		return fmt.Errorf("progress: publish: %w", err)
	}
	metrics.RecordProgressEvent(string(ev.Kind))
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}

	pubsub := h.client.Subscribe(ctx, Channel(jobID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("progress: subscribe: %w", err)
	}

	out := make(chan Event, h.buffer)
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	metrics.ProgressSubscribers.Inc()

	go func() {
		defer close(done)
		defer close(out)
		defer metrics.ProgressSubscribers.Dec()

		log := logger.FromContext(ctx)
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn("dropping malformed progress event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					metrics.ProgressEventsDropped.Inc()
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		stop()
		return nil, nil, ErrClosed
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = stop
	h.mu.Unlock()

	return out, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		stop()
	}, nil
}

func (h *RedisHub) Forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.seq, jobID)
}

// Close ends every live subscription. Publish and Subscribe fail afterwards.
// The Redis client belongs to the caller and stays open.
func (h *RedisHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	stops := make([]func(), 0, len(h.subs))
	for id, stop := range h.subs {
		stops = append(stops, stop)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	return nil
}
