// Package cancel maps cancel keys to the contexts of in-flight operations so
// that an external request can abort every operation tagged with a key.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled is the cause of every context canceled through a Registry
var ErrCanceled = errors.New("operation canceled")

// IsCanceled reports whether err is the result of a cancellation rather than a real failure
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// Cause returns ErrCanceled when ctx was canceled, nil otherwise
func Cause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), ErrCanceled) {
		return ErrCanceled
	}
	return ctx.Err()
}

type entry struct {
	id     uint64
	cancel context.CancelCauseFunc
}

// Registry tracks the cancel functions of live operations by key
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[string][]entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]entry)}
}

// WithKey derives a context that is canceled when Cancel(key) is called.
// release must be called once the operation is done.
func (r *Registry) WithKey(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries[key] = append(r.entries[key], entry{id: id, cancel: cancel})
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		list := r.entries[key]
		for i, e := range list {
			if e.id == id {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(r.entries, key)
		} else {
			r.entries[key] = list
		}
		r.mu.Unlock()
		cancel(nil)
	}
	return ctx, release
}

// Cancel aborts every operation registered under key and returns how many were aborted
func (r *Registry) Cancel(key string) int {
	r.mu.Lock()
	list := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	for _, e := range list {
		e.cancel(ErrCanceled)
	}
	return len(list)
}

// Active returns the number of live operations registered under key
func (r *Registry) Active(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[key])
}
