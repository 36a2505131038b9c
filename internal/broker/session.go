package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/herald/internal/chat"
)

// Selection is the outcome of a component session: the raw interaction and
// the caller identifier registered for its token.
type Selection[K any] struct {
	Event chat.ComponentEvent
	ID    K
}

// Session correlates the affordances rendered for one dialog step with a
// single outcome. Create it with NewSession, attach registrations, send the
// prompt, then call StartTimeout. Always Close it when the step finishes.
type Session[K any] struct {
	hub     *ComponentHub
	outcome *Future[Selection[K]]

	mu     sync.Mutex
	regs   map[string]K
	accept func(chat.ComponentEvent) bool
	timer  *time.Timer
	closed bool
}

// NewSession creates a session and indexes it in hub so matching component
// events are routed to it.
func NewSession[K any](hub *ComponentHub) *Session[K] {
	s := &Session[K]{
		hub:     hub,
		outcome: newFuture[Selection[K]](),
		regs:    make(map[string]K),
	}
	hub.add(s)
	return s
}

// SetFilter restricts which interactions may resolve the session, for example
// only clicks from the invoking user. Rejected interactions are still claimed
// so they do not reach other sessions.
func (s *Session[K]) SetFilter(accept func(chat.ComponentEvent) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accept = accept
}

// AddRegistration allocates a fresh correlation token bound to id.
func (s *Session[K]) AddRegistration(id K) string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[token] = id
	return token
}

// Lookup returns the identifier registered for token.
func (s *Session[K]) Lookup(token string) (K, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.regs[token]
	return id, ok
}

// StartTimeout arms the session timeout. Only the first call has an effect,
// and nothing expires before it is called. A session that already resolved or
// closed is never armed. A non-positive d uses the hub default.
func (s *Session[K]) StartTimeout(d time.Duration) {
	if d <= 0 {
		d = s.hub.defaultTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.timer != nil || s.outcome.Resolved() {
		return
	}
	s.timer = time.AfterFunc(d, func() {
		if s.outcome.set(Selection[K]{}, &TimeoutError{Category: "component", After: d}) {
			s.hub.remove(s)
		}
	})
}

// Resolve claims the interaction when token belongs to this session. It
// reports true for every known token so the hub stops propagating the event.
func (s *Session[K]) Resolve(token string, event chat.ComponentEvent) bool {
	id, ok := s.Lookup(token)
	if !ok {
		return false
	}
	s.mu.Lock()
	accept := s.accept
	s.mu.Unlock()
	if accept != nil && !accept(event) {
		return true
	}
	if s.outcome.set(Selection[K]{Event: event, ID: id}, nil) {
		s.stopTimer()
		s.hub.remove(s)
	}
	return true
}

// Outcome returns the future holding the selection.
func (s *Session[K]) Outcome() *Future[Selection[K]] {
	return s.outcome
}

// Wait blocks until the session resolves, times out, is closed, or ctx is done.
func (s *Session[K]) Wait(ctx context.Context) (Selection[K], error) {
	return s.outcome.Wait(ctx)
}

// Close cancels the timeout and removes the session from the hub. An
// unresolved outcome fails with ErrSessionClosed. Close is idempotent.
func (s *Session[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stopTimer()
	s.hub.remove(s)
	s.outcome.set(Selection[K]{}, ErrSessionClosed)
}

func (s *Session[K]) stopTimer() {
	s.mu.Lock()
	timer := s.timer
	s.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (s *Session[K]) abort(err error) {
	s.stopTimer()
	s.outcome.set(Selection[K]{}, err)
}
