package service

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownHandler is returned by Lookup for ids that were never registered.
var ErrUnknownHandler = errors.New("unknown submission handler")

// HandlerRegistry maps handler ids from configuration to instances.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]SubmissionHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]SubmissionHandler)}
}

// Register adds h under id. Ids are unique.
func (r *HandlerRegistry) Register(id string, h SubmissionHandler) error {
	if id == "" || h == nil {
		return errors.New("handler id and instance are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("handler %q already registered", id)
	}
	r.handlers[id] = h
	return nil
}

func (r *HandlerRegistry) Lookup(id string) (SubmissionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, id)
	}
	return h, nil
}

// IDs returns the registered ids in lexical order.
func (r *HandlerRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
