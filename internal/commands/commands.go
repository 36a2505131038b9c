// Package commands routes slash commands to the admin dialogs.
package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
	"github.com/neoclaw-ai/herald/internal/dialog"
	"github.com/neoclaw-ai/herald/internal/logging"
	"github.com/neoclaw-ai/herald/internal/runtime"
)

const (
	helpText     = "Commands: /help, /rank [member], /report, /settings, /slowmode [interval|off], /status, /cancel"
	timeoutText  = "No answer in time, the dialog was closed."
	abortedText  = "The dialog stopped because the chat could not be reached."
	blockedText  = "Dialogs are disabled in this chat."
	nothingText  = "Nothing to cancel."
	unknownText  = "Unknown command /%s. Try /help."
	canceledText = "Rank change canceled."

	// cleanupTimeout bounds ledger cleanup, which runs after the command
	// context may already be canceled.
	cleanupTimeout = 30 * time.Second
)

// Canceler cancels a user's running commands other than the caller's.
type Canceler interface {
	CancelUser(ctx context.Context, userID string) int
}

// Options configures a Router.
type Options struct {
	Broker    *broker.Broker
	Transport chat.Transport
	Timeouts  dialog.Timeouts
	// Cleanup deletes every dialog message once the dialog finishes.
	Cleanup      bool
	BlockedChats []int64
	Canceler     Canceler
}

// Router dispatches slash commands to their dialogs.
type Router struct {
	broker    *broker.Broker
	transport chat.Transport
	timeouts  dialog.Timeouts
	cleanup   bool
	blocked   []int64
	canceler  Canceler
	records   *Records
}

var _ runtime.Handler = (*Router)(nil)

// New creates a command router.
func New(opts Options) *Router {
	return &Router{
		broker:    opts.Broker,
		transport: opts.Transport,
		timeouts:  opts.Timeouts,
		cleanup:   opts.Cleanup,
		blocked:   slices.Clone(opts.BlockedChats),
		canceler:  opts.Canceler,
		records:   NewRecords(),
	}
}

// Records returns the outcomes stored by completed dialogs.
func (r *Router) Records() *Records {
	return r.records
}

// HandleCommand implements runtime.Handler.
func (r *Router) HandleCommand(ctx context.Context, w runtime.ResponseWriter, cmd *runtime.Command) error {
	if w == nil {
		return errors.New("response writer is required")
	}
	if cmd == nil {
		return errors.New("command is required")
	}

	switch strings.ToLower(cmd.Name) {
	case "help", "start", "commands":
		return w.WriteMessage(ctx, helpText)
	case "cancel":
		return r.handleCancel(ctx, w, cmd)
	case "status":
		return r.handleStatus(ctx, w)
	case "rank":
		return r.runDialog(ctx, w, cmd, r.rankDialog)
	case "report":
		return r.runDialog(ctx, w, cmd, r.reportDialog)
	case "settings":
		return r.runDialog(ctx, w, cmd, r.settingsDialog)
	case "slowmode":
		return r.runDialog(ctx, w, cmd, r.slowmodeDialog)
	default:
		return w.WriteMessage(ctx, fmt.Sprintf(unknownText, cmd.Name))
	}
}

func (r *Router) handleCancel(ctx context.Context, w runtime.ResponseWriter, cmd *runtime.Command) error {
	if r.canceler == nil {
		return errors.New("cancel command is unavailable")
	}
	n := r.canceler.CancelUser(ctx, cmd.UserID)
	if n == 0 {
		return w.WriteMessage(ctx, nothingText)
	}
	return w.WriteMessage(ctx, fmt.Sprintf("Canceled %d running dialog(s).", n))
}

func (r *Router) handleStatus(ctx context.Context, w runtime.ResponseWriter) error {
	if r.broker == nil {
		return errors.New("status command is unavailable")
	}
	stats := r.broker.Stats()
	return w.WriteMessage(ctx, fmt.Sprintf(
		"Waiting on %d message(s), %d reaction(s), %d menu(s). %d event(s) queued.",
		stats.PendingMessages, stats.PendingReactions, stats.Sessions, stats.Queued,
	))
}

// dialogFunc runs the steps of one command and returns the closing reply.
type dialogFunc func(ctx context.Context, d *dialog.Dialog, cmd *runtime.Command) (string, error)

// runDialog owns the dialog lifecycle: creation, release, optional cleanup,
// and mapping of timeouts and aborts to user-visible replies.
func (r *Router) runDialog(ctx context.Context, w runtime.ResponseWriter, cmd *runtime.Command, run dialogFunc) error {
	d, err := dialog.New(dialog.Options{
		Broker:    r.broker,
		Transport: r.transport,
		ChatID:    cmd.ChatID,
		UserID:    cmd.UserID,
		Timeouts:  r.timeouts,
		Blocked:   r.isBlocked,
	})
	if errors.Is(err, dialog.ErrChatBlocked) {
		return w.WriteMessage(ctx, blockedText)
	}
	if err != nil {
		return fmt.Errorf("start %s dialog: %w", cmd.Name, err)
	}
	if r.cleanup {
		d.OnClose(func() error {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			defer cancel()
			return d.Cleanup(cleanupCtx)
		})
	}
	defer func() {
		if err := d.Close(); err != nil {
			d.Logger().Warn("failed to release dialog resources", "command", cmd.Name, "err", err)
		}
	}()

	reply, runErr := run(ctx, d, cmd)

	// Replies after a timeout go out even when ctx ended with the wait.
	replyCtx := context.WithoutCancel(ctx)
	switch {
	case runErr == nil:
		return w.WriteMessage(ctx, reply)
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		return runErr
	case dialog.IsTimeout(runErr):
		logging.Logger().Info("dialog timed out", "command", cmd.Name, "chat_id", cmd.ChatID, "user_id", cmd.UserID)
		return w.WriteMessage(replyCtx, timeoutText)
	case dialog.IsAborted(runErr):
		logging.Logger().Warn("dialog aborted", "command", cmd.Name, "chat_id", cmd.ChatID, "err", runErr)
		if err := w.WriteMessage(replyCtx, abortedText); err != nil {
			return errors.Join(runErr, err)
		}
		return nil
	default:
		return fmt.Errorf("%s dialog: %w", cmd.Name, runErr)
	}
}

func (r *Router) isBlocked(chatID int64) bool {
	return slices.Contains(r.blocked, chatID)
}

func normalizeMember(text string) (string, error) {
	member := strings.TrimPrefix(strings.TrimSpace(text), "@")
	if member == "" || strings.ContainsAny(member, " \t\n") {
		return "", errors.New("member must be a single username")
	}
	return member, nil
}
