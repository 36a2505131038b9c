package broker

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO with one consumer. push never blocks; pop blocks
// while the queue is empty until an item arrives or the queue is closed.
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends item and wakes the consumer. It reports false once the queue is closed.
func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// pop returns the oldest item. ok is false once the queue is closed; items
// still buffered at close time are discarded.
func (q *queue[T]) pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		var zero T
		return zero, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// dispatchLoop drains a queue on a single goroutine.
type dispatchLoop[T any] struct {
	queue  *queue[T]
	handle func(T)

	stateMu sync.Mutex
	started bool
	done    chan struct{}
}

func newDispatchLoop[T any](handle func(T)) *dispatchLoop[T] {
	return &dispatchLoop[T]{
		queue:  newQueue[T](),
		handle: handle,
		done:   make(chan struct{}),
	}
}

// start launches the consumer once. Canceling ctx stops the loop.
func (l *dispatchLoop[T]) start(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	l.stateMu.Lock()
	if l.started {
		l.stateMu.Unlock()
		return false
	}
	l.started = true
	l.stateMu.Unlock()

	stop := context.AfterFunc(ctx, l.queue.close)
	go func() {
		defer close(l.done)
		defer stop()
		for {
			item, ok := l.queue.pop()
			if !ok {
				return
			}
			l.handle(item)
		}
	}()
	return true
}

// stop closes the queue and waits for the consumer to exit if it was started.
func (l *dispatchLoop[T]) stop() {
	l.queue.close()
	l.stateMu.Lock()
	started := l.started
	l.stateMu.Unlock()
	if started {
		<-l.done
	}
}
