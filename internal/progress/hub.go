package progress

import (
	"context"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
)

const DefaultBuffer = 64

type HubConfig struct {
	// Buffer is the per-subscriber channel capacity.
	Buffer int
	// Replay is how many recent events per job a new subscriber receives
	// before live ones. Zero disables replay.
	Replay int
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// Hub is the in-process Broadcaster.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	seq     map[string]uint64
	history map[string][]Event
	buffer  int
	replay  int
	closed  bool
}

var _ Broadcaster = (*Hub)(nil)

func NewHub(cfg HubConfig) *Hub {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if cfg.Replay > buffer {
		buffer = cfg.Replay
	}
	return &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		seq:     make(map[string]uint64),
		history: make(map[string][]Event),
		buffer:  buffer,
		replay:  max(cfg.Replay, 0),
	}
}

func (h *Hub) Publish(ctx context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.seq[ev.JobID]++
	ev.Seq = h.seq[ev.JobID]
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	if h.replay > 0 {
		hist := append(h.history[ev.JobID], ev)
		if len(hist) > h.replay {
			hist = hist[len(hist)-h.replay:]
		}
		h.history[ev.JobID] = hist
	}

	metrics.RecordProgressEvent(string(ev.Kind))

	for sub := range h.subs[ev.JobID] {
		select {
		case sub.ch <- ev:
		default:
			// Subscriber buffer full, skip
			metrics.ProgressEventsDropped.Inc()
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, ErrClosed
	}

	sub := &subscriber{ch: make(chan Event, h.buffer)}
	for _, ev := range h.history[jobID] {
		sub.ch <- ev
	}

	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*subscriber]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	metrics.ProgressSubscribers.Inc()

	cancel := func() { h.unsubscribe(jobID, sub) }
	stop := context.AfterFunc(ctx, cancel)

	return sub.ch, func() {
		stop()
		cancel()
	}, nil
}

func (h *Hub) unsubscribe(jobID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.release(jobID, sub)
}

// release must be called with h.mu held.
func (h *Hub) release(jobID string, sub *subscriber) {
	sub.once.Do(func() {
		if set, ok := h.subs[jobID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		close(sub.ch)
		metrics.ProgressSubscribers.Dec()
	})
}

func (h *Hub) subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.seq, jobID)
	delete(h.history, jobID)
}

// Close ends every subscription. Publish and Subscribe fail afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for jobID, set := range h.subs {
		for sub := range set {
			h.release(jobID, sub)
		}
	}
	return nil
}
