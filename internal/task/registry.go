package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Processor executes a claimed (IN_PROGRESS) task and drives it to a terminal
// state through the Service.
type Processor interface {
	Process(ctx context.Context, t *Task) error
}

// Registry maps task types to the processor that runs them in-process. Types
// without a processor are driven by external workers through the API.
type Registry struct {
	mu         sync.RWMutex
	processors map[Type]Processor
}

func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[Type]Processor),
	}
}

func (r *Registry) Register(typ Type, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[typ] = p
}

func (r *Registry) Get(typ Type) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[typ]
	if !ok {
		return nil, fmt.Errorf("no processor registered for task type: %s", typ)
	}
	return p, nil
}

func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.processors))
	for typ := range r.processors {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
