package processor

import (
	"fmt"
	"sync"
)

type Registry struct {
	processors map[string]Processor
	mu         sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]Processor),
	}
}

// Register makes processor available under its Name, which is the job
// category it serves. A later registration with the same name wins.
func (r *Registry) Register(processor Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processors[processor.Name()] = processor
}

func (r *Registry) Get(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processors[name]
	return p, ok
}

// GetOrError returns a processor by name, or an error if not found.
func (r *Registry) GetOrError(name string) (Processor, error) {
	processor, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, name)
	}
	return processor, nil
}
