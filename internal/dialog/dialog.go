// Package dialog runs multi-step conversational flows on top of the broker.
//
// A Dialog binds one command invocation (chat, invoking user) to the broker
// and the chat transport. Steps send prompts through the Dialog so every
// produced message lands in the shared Context ledger, then block on a
// broker wait or component session for exactly one outcome.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
	"github.com/neoclaw-ai/herald/internal/logging"
)

// closeOutTimeout bounds the visual close-out edit, which may run after the
// step's own context is already done.
const closeOutTimeout = 10 * time.Second

// Timeouts are the default wait windows of a dialog. Steps may override them.
type Timeouts struct {
	Message   time.Duration
	Reaction  time.Duration
	Component time.Duration
}

// Options configures a Dialog.
type Options struct {
	Broker    *broker.Broker
	Transport chat.Transport
	ChatID    int64
	UserID    string
	Timeouts  Timeouts
	// Blocked reports whether dialogs are disallowed in a chat.
	Blocked func(chatID int64) bool
}

// Dialog orchestrates the steps of one command invocation.
type Dialog struct {
	broker    *broker.Broker
	transport chat.Transport
	chatID    int64
	userID    string
	timeouts  Timeouts
	logger    *slog.Logger
	ctx       *Context

	closeMu   sync.Mutex
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// New creates a dialog for one invocation.
func New(opts Options) (*Dialog, error) {
	if opts.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Blocked != nil && opts.Blocked(opts.ChatID) {
		return nil, fmt.Errorf("%w: chat %d", ErrChatBlocked, opts.ChatID)
	}
	return &Dialog{
		broker:    opts.Broker,
		transport: opts.Transport,
		chatID:    opts.ChatID,
		userID:    opts.UserID,
		timeouts:  opts.Timeouts,
		logger:    logging.Logger().With("chat_id", opts.ChatID, "user_id", opts.UserID),
		ctx:       newContext(),
	}, nil
}

// Context returns the state shared by all steps of the dialog.
func (d *Dialog) Context() *Context {
	return d.ctx
}

// ChatID returns the invoking chat.
func (d *Dialog) ChatID() int64 {
	return d.chatID
}

// UserID returns the invoking user.
func (d *Dialog) UserID() string {
	return d.userID
}

// Logger returns a logger scoped to the dialog.
func (d *Dialog) Logger() *slog.Logger {
	return d.logger
}

// Send delivers prompt to the invoking chat and records it in the ledger.
func (d *Dialog) Send(ctx context.Context, prompt chat.Prompt) (chat.MessageRef, error) {
	ref, err := d.transport.Send(ctx, d.chatID, prompt)
	if err != nil {
		return chat.MessageRef{}, aborted("send prompt", err)
	}
	d.ctx.Record(ref)
	return ref, nil
}

// Edit replaces a previously sent prompt.
func (d *Dialog) Edit(ctx context.Context, ref chat.MessageRef, prompt chat.Prompt) error {
	return aborted("edit prompt", d.transport.Edit(ctx, ref, prompt))
}

// React attaches reaction glyphs to a previously sent prompt.
func (d *Dialog) React(ctx context.Context, ref chat.MessageRef, emojis []string) error {
	return aborted("add reactions", d.transport.React(ctx, ref, emojis))
}

// OnClose registers a release function for a per-dialog resource. Functions
// run once, in reverse registration order, when the dialog closes.
func (d *Dialog) OnClose(fn func() error) {
	if fn == nil {
		return
	}
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	d.closers = append(d.closers, fn)
}

// Close releases per-dialog resources exactly once. Later calls return the
// first result.
func (d *Dialog) Close() error {
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		closers := d.closers
		d.closers = nil
		d.closeMu.Unlock()

		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

// Cleanup deletes every ledger message, attempting each exactly once. A
// failed deletion is logged and does not stop the remaining ones.
func (d *Dialog) Cleanup(ctx context.Context) error {
	refs := d.ctx.drain()
	var errs []error
	for _, ref := range refs {
		if err := d.transport.Delete(ctx, ref); err != nil {
			d.logger.Warn("failed to delete dialog message", "message_id", ref.MessageID, "err", err)
			errs = append(errs, fmt.Errorf("delete message %d: %w", ref.MessageID, err))
		}
	}
	if len(errs) > 0 {
		return aborted("cleanup", errors.Join(errs...))
	}
	return nil
}

// Run executes one step against the dialog and returns its typed result.
func Run[T any](ctx context.Context, d *Dialog, step Step[T]) (T, error) {
	if step == nil {
		var zero T
		return zero, errors.New("step is required")
	}
	start := time.Now()
	before := len(d.ctx.Messages())
	result, err := step.Run(ctx, d)
	attrs := append(stepAttrs[T](step),
		"duration", time.Since(start),
		"messages", len(d.ctx.Messages())-before,
		"err", err,
	)
	d.logger.Debug("dialog step finished", attrs...)
	return result, err
}

// stepAttrs describes step by the capabilities it declares.
func stepAttrs[T any](step Step[T]) []any {
	attrs := []any{"step", fmt.Sprintf("%T", step)}
	if m, ok := step.(HasSelectMenu); ok {
		attrs = append(attrs, "options", len(m.MenuOptions()))
	}
	if r, ok := step.(HasReactions); ok {
		attrs = append(attrs, "reactions", r.Reactions())
	}
	if def, ok := step.(HasDefault[T]); ok {
		attrs = append(attrs, "has_default", def.DeclaresDefault())
	}
	return attrs
}

func (d *Dialog) messageTimeout(override time.Duration) time.Duration {
	return pick(override, d.timeouts.Message)
}

func (d *Dialog) reactionTimeout(override time.Duration) time.Duration {
	return pick(override, d.timeouts.Reaction)
}

func (d *Dialog) componentTimeout(override time.Duration) time.Duration {
	return pick(override, d.timeouts.Component)
}

func pick(override, fallback time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return fallback
}

// closeOut edits ref to prompt on a context detached from ctx's cancellation.
func (d *Dialog) closeOut(ctx context.Context, ref chat.MessageRef, prompt chat.Prompt) {
	editCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeOutTimeout)
	defer cancel()
	if err := d.Edit(editCtx, ref, prompt); err != nil {
		d.logger.Warn("failed to close out prompt", "message_id", ref.MessageID, "err", err)
	}
}
