package job

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/batchpress/internal/metrics"
)

const DefaultLogLimit = 200

// Store keeps jobs in memory. It hands out copies; all mutation goes
// through its methods.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	logLimit int
}

func NewStore(logLimit int) *Store {
	if logLimit <= 0 {
		logLimit = DefaultLogLimit
	}
	return &Store{jobs: make(map[string]*Job), logLimit: logLimit}
}

func (s *Store) Create(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job: duplicate id %s", j.ID)
	}
	now := time.Now()
	j.Status = StatusQueued
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[j.ID] = j
	metrics.RecordTransition("", string(StatusQueued))
	return nil
}

func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.clone(), nil
}

// List returns all jobs ordered by creation time.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Transition moves a job to status to. mutate, if set, runs under the lock
// before the new status is applied.
func (s *Store) Transition(id string, to Status, mutate func(*Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	from := j.Status
	if !CanTransition(from, to) {
		return j.clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if mutate != nil {
		mutate(j)
	}
	now := time.Now()
	j.Status = to
	j.UpdatedAt = now
	if to.Terminal() {
		j.FinishedAt = &now
	}
	metrics.RecordTransition(string(from), string(to))
	return j.clone(), nil
}

// AppendLog adds an entry to the job log, dropping the oldest entries
// beyond the store's limit.
func (s *Store) AppendLog(id string, entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Log = append(j.Log, entry)
	if over := len(j.Log) - s.logLimit; over > 0 {
		j.Log = append(j.Log[:0:0], j.Log[over:]...)
	}
}

// Delete forgets a job and returns its last state.
func (s *Store) Delete(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	delete(s.jobs, id)
	metrics.RecordTransition(string(j.Status), "")
	return j.clone(), true
}
