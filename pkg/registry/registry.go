package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/convengine/pkg/domain"
)

// TaskFunc is a named side effect a rule can delegate to with SET_TASK.
// args are the comma-separated arguments following the task name.
type TaskFunc func(ctx context.Context, s *domain.Session, args []string) (any, error)

// Registry manages the tasks available to rules.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tasks: make(map[string]TaskFunc),
	}
}

// Register adds a task. An existing task with the same name is overwritten.
func (r *Registry) Register(name string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[strings.TrimSpace(name)] = fn
}

// Has reports whether a task is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[strings.TrimSpace(name)]
	return ok
}

// Names returns the registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Execute runs a task by name.
// Returns an EngineError with CodeUnknownTask when the task is not registered.
func (r *Registry) Execute(ctx context.Context, name string, s *domain.Session, args []string) (any, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	fn, ok := r.tasks[name]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.NewEngineError(domain.CodeUnknownTask,
			fmt.Sprintf("task not found: %s", name),
			map[string]any{"task": name})
	}
	return fn(ctx, s, args)
}
