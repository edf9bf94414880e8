package task

import (
	"slices"
	"sync"
)

// Registry maps task types to handlers. It is normally populated once at
// startup; a later Register for the same type replaces the earlier one.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]Handler)}
}

// Register binds fn to taskType. Last registration wins.
func (r *Registry) Register(taskType Type, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = fn
}

// Resolve returns the handler for taskType, or a *NoHandlerError.
func (r *Registry) Resolve(taskType Type) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[taskType]
	if !ok || fn == nil {
		return nil, &NoHandlerError{Type: taskType}
	}
	return fn, nil
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
