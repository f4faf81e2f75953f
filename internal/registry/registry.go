// Package registry maps job-type strings to handler functions.
//
// Handlers are supplied by the embedding application before the scheduler
// loop starts. Resolution failure is a fatal execution error for that run
// (recorded as failed, never retried) but never crashes the loop.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"jobtick/internal/job"
)

var ErrNotFound = errors.New("no handler registered for job type")

// Handler performs a job's actual work.
//
// The context carries the job's timeout deadline; handlers are expected to
// honor ctx cancellation but the executor tolerates ones that do not (such a
// run is finalized as failed/timeout and its late result is discarded).
// The returned payload is stored on the execution as the opaque result.
type Handler func(ctx context.Context, j job.Job) (map[string]any, error)

// Registry is a concurrency-safe job-type -> handler map.
// The zero value is not usable; call New.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register installs a handler for jobType. Registering the same type twice
// is a programming error and returns an error rather than silently replacing
// a live handler.
func (r *Registry) Register(jobType string, h Handler) error {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return fmt.Errorf("job type is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", jobType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[jobType]; dup {
		return fmt.Errorf("handler for %q already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Resolve returns the handler for jobType or ErrNotFound.
func (r *Registry) Resolve(jobType string) (Handler, error) {
	r.mu.RLock()
	h := r.handlers[strings.TrimSpace(jobType)]
	r.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, jobType)
	}
	return h, nil
}

// Types returns the registered job types (unordered).
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
