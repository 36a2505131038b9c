package broker

import (
	"context"
	"sync"
	"time"
)

// Future is a single-assignment result slot. The first set wins; later sets
// are no-ops that report false.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error

	// cancel releases the owning wait; nil for futures not backed by a registry.
	cancel func() bool
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) set(value T, err error) bool {
	won := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		won = true
	})
	return won
}

// Done is closed once the future holds a value or an error.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has been assigned.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx is done. Canceling ctx does not
// resolve the future; the owning timeout still does.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel resolves the future with ErrCanceled and releases its registry slot
// and timer. It reports false when the future was already resolved.
func (f *Future[T]) Cancel() bool {
	if f.cancel != nil {
		return f.cancel()
	}
	var zero T
	return f.set(zero, ErrCanceled)
}

// expectation is one outstanding wait registered with a Registry.
type expectation[T any] struct {
	predicate func(T) bool
	future    *Future[T]
	// timer is assigned under the registry lock before the expectation becomes
	// visible to the dispatch loop.
	timer *time.Timer
}

// settle attempts the single terminal write and cancels the pending timeout on success.
func (e *expectation[T]) settle(value T, err error) bool {
	if !e.future.set(value, err) {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}
