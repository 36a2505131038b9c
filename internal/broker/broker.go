// Package broker correlates inbound chat events with the waits raised by running dialogs.
//
// A Broker owns one dispatch loop per event category: messages, reactions,
// and component interactions. Transports publish events without blocking;
// dialogs register predicate-guarded waits or component sessions and block on
// the returned futures. Every wait carries exactly one timeout, and every
// outcome is written at most once.
package broker

import (
	"context"
	"time"

	"github.com/neoclaw-ai/herald/internal/chat"
)

// Options configures the default wait windows per category.
type Options struct {
	MessageTimeout   time.Duration
	ReactionTimeout  time.Duration
	ComponentTimeout time.Duration
}

// Broker is the coordinator shared by every dialog of one application.
type Broker struct {
	Messages   *Registry[chat.MessageEvent]
	Reactions  *Registry[chat.ReactionEvent]
	Components *ComponentHub
}

// Stats is a point-in-time view of outstanding waits.
type Stats struct {
	PendingMessages  int
	PendingReactions int
	Sessions         int
	Queued           int
}

// New creates a broker. Call Start before publishing events.
func New(opts Options) *Broker {
	return &Broker{
		Messages:   NewRegistry[chat.MessageEvent]("message", opts.MessageTimeout),
		Reactions:  NewRegistry[chat.ReactionEvent]("reaction", opts.ReactionTimeout),
		Components: NewComponentHub(opts.ComponentTimeout),
	}
}

// Start launches all dispatch loops.
func (b *Broker) Start(ctx context.Context) {
	b.Messages.Start(ctx)
	b.Reactions.Start(ctx)
	b.Components.Start(ctx)
}

// Shutdown stops all dispatch loops and fails outstanding waits with ErrShutdown.
func (b *Broker) Shutdown() {
	b.Messages.Shutdown()
	b.Reactions.Shutdown()
	b.Components.Shutdown()
}

// Stats reports outstanding waits across all categories.
func (b *Broker) Stats() Stats {
	return Stats{
		PendingMessages:  b.Messages.Pending(),
		PendingReactions: b.Reactions.Pending(),
		Sessions:         b.Components.Sessions(),
		Queued:           b.Messages.Queued() + b.Reactions.Queued() + b.Components.loop.queue.len(),
	}
}

// FromAuthorIn matches messages written by userID in chatID.
func FromAuthorIn(userID string, chatID int64) func(chat.MessageEvent) bool {
	return func(ev chat.MessageEvent) bool {
		return ev.AuthorID == userID && ev.ChatID == chatID
	}
}

// ReactionBy matches reactions by userID on the message ref.
func ReactionBy(ref chat.MessageRef, userID string) func(chat.ReactionEvent) bool {
	return func(ev chat.ReactionEvent) bool {
		return ev.Ref == ref && ev.UserID == userID
	}
}

// FromUser matches component interactions by userID.
func FromUser(userID string) func(chat.ComponentEvent) bool {
	return func(ev chat.ComponentEvent) bool {
		return ev.UserID == userID
	}
}
