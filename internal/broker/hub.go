package broker

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/neoclaw-ai/herald/internal/chat"
	"github.com/neoclaw-ai/herald/internal/logging"
)

// router is the hub's view of a Session of any identifier type.
type router interface {
	Resolve(token string, event chat.ComponentEvent) bool
	abort(err error)
}

// ComponentHub routes component interactions to the live sessions that
// issued their correlation tokens.
type ComponentHub struct {
	defaultTimeout time.Duration
	logger         *slog.Logger
	loop           *dispatchLoop[chat.ComponentEvent]

	mu       sync.Mutex
	sessions []router
	closed   bool
}

// NewComponentHub creates a hub. A non-positive defaultTimeout falls back to DefaultTimeout.
func NewComponentHub(defaultTimeout time.Duration) *ComponentHub {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	h := &ComponentHub{
		defaultTimeout: defaultTimeout,
		logger:         logging.Logger().With("registry", "component"),
	}
	h.loop = newDispatchLoop(h.dispatch)
	return h
}

// Start launches the dispatch loop.
func (h *ComponentHub) Start(ctx context.Context) {
	if h.loop.start(ctx) {
		h.logger.Debug("dispatch loop started")
	}
}

// Publish enqueues an interaction for routing. It never blocks the caller.
func (h *ComponentHub) Publish(event chat.ComponentEvent) {
	if !h.loop.queue.push(event) {
		h.logger.Debug("component event dropped after shutdown")
	}
}

// Sessions returns the number of live sessions.
func (h *ComponentHub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown stops routing and fails every live session with ErrShutdown.
func (h *ComponentHub) Shutdown() {
	h.loop.stop()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	live := h.sessions
	h.sessions = nil
	h.mu.Unlock()

	for _, s := range live {
		s.abort(ErrShutdown)
	}
}

func (h *ComponentHub) add(s router) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.abort(ErrShutdown)
		return
	}
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
}

func (h *ComponentHub) remove(s router) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := slices.Index(h.sessions, s); i >= 0 {
		h.sessions = slices.Delete(h.sessions, i, i+1)
	}
}

func (h *ComponentHub) dispatch(event chat.ComponentEvent) {
	h.mu.Lock()
	live := slices.Clone(h.sessions)
	h.mu.Unlock()

	for _, s := range live {
		if h.resolve(s, event) {
			return
		}
	}
	h.logger.Debug("component event matched no session", "chat_id", event.ChatID, "user_id", event.UserID)
}

func (h *ComponentHub) resolve(s router, event chat.ComponentEvent) (claimed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Warn("component session panicked", "panic", rec)
			claimed = false
		}
	}()
	return s.Resolve(event.Token, event)
}
