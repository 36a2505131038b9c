package broker

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/neoclaw-ai/herald/internal/logging"
)

// DefaultTimeout applies when a wait is registered without a positive timeout.
const DefaultTimeout = 60 * time.Second

// Registry holds the outstanding expectations for one event category and
// matches published events against them on a single dispatch goroutine.
//
// Expectations are offered each event in registration order. The first
// expectation whose predicate matches and whose outcome is still unset
// consumes the event; no other expectation sees it.
type Registry[T any] struct {
	name           string
	defaultTimeout time.Duration
	logger         *slog.Logger
	loop           *dispatchLoop[T]

	mu     sync.Mutex
	waits  []*expectation[T]
	closed bool
}

// NewRegistry creates a registry for one event category. A non-positive
// defaultTimeout falls back to DefaultTimeout.
func NewRegistry[T any](name string, defaultTimeout time.Duration) *Registry[T] {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	r := &Registry[T]{
		name:           name,
		defaultTimeout: defaultTimeout,
		logger:         logging.Logger().With("registry", name),
	}
	r.loop = newDispatchLoop(r.dispatch)
	return r
}

// Name returns the event category name.
func (r *Registry[T]) Name() string {
	return r.name
}

// Start launches the dispatch loop. Canceling ctx stops it; pending
// expectations are then left to their own timeouts until Shutdown.
func (r *Registry[T]) Start(ctx context.Context) {
	if r.loop.start(ctx) {
		r.logger.Debug("dispatch loop started")
	}
}

// Register adds an expectation for the next event matching predicate and arms
// its timeout. A nil predicate matches every event. It returns immediately.
func (r *Registry[T]) Register(predicate func(T) bool, timeout time.Duration) *Future[T] {
	if predicate == nil {
		predicate = func(T) bool { return true }
	}
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	e := &expectation[T]{
		predicate: predicate,
		future:    newFuture[T](),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		var zero T
		e.future.set(zero, ErrShutdown)
		return e.future
	}
	e.timer = time.AfterFunc(timeout, func() {
		var zero T
		if e.future.set(zero, &TimeoutError{Category: r.name, After: timeout}) {
			r.logger.Debug("wait timed out", "timeout", timeout)
		}
		r.remove(e)
	})
	e.future.cancel = func() bool {
		var zero T
		if !e.settle(zero, ErrCanceled) {
			return false
		}
		r.remove(e)
		return true
	}
	r.waits = append(r.waits, e)
	return e.future
}

// Publish enqueues an event for dispatch. It never blocks the caller.
func (r *Registry[T]) Publish(event T) {
	if !r.loop.queue.push(event) {
		r.logger.Debug("event dropped after shutdown")
	}
}

// Pending returns the number of unresolved expectations.
func (r *Registry[T]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waits)
}

// Queued returns the number of published events not yet dispatched.
func (r *Registry[T]) Queued() int {
	return r.loop.queue.len()
}

// Shutdown stops the dispatch loop and fails every pending expectation with
// ErrShutdown. It must not be called from inside a predicate.
func (r *Registry[T]) Shutdown() {
	r.loop.stop()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.waits
	r.waits = nil
	r.mu.Unlock()

	var zero T
	for _, e := range pending {
		e.settle(zero, ErrShutdown)
	}
	if len(pending) > 0 {
		r.logger.Debug("released pending waits on shutdown", "count", len(pending))
	}
}

func (r *Registry[T]) dispatch(event T) {
	for _, e := range r.snapshot() {
		if e.future.Resolved() || !r.matches(e, event) {
			continue
		}
		if e.settle(event, nil) {
			r.remove(e)
			return
		}
	}
}

func (r *Registry[T]) snapshot() []*expectation[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.waits)
}

// matches evaluates the predicate outside the registry lock. A panicking
// predicate counts as a non-match for this event only.
func (r *Registry[T]) matches(e *expectation[T], event T) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("wait predicate panicked", "panic", rec)
			ok = false
		}
	}()
	return e.predicate(event)
}

func (r *Registry[T]) remove(e *expectation[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.Index(r.waits, e); i >= 0 {
		r.waits = slices.Delete(r.waits, i, i+1)
	}
}
