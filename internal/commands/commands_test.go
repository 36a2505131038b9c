package commands

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
	"github.com/neoclaw-ai/herald/internal/dialog"
	"github.com/neoclaw-ai/herald/internal/runtime"
)

func TestHelpCommand(t *testing.T) {
	r, _, _ := newTestRouter(t, Options{})
	w := &captureWriter{}

	if err := r.HandleCommand(context.Background(), w, command("help", "")); err != nil {
		t.Fatalf("handle /help: %v", err)
	}
	if len(w.messages) != 1 || w.messages[0] != helpText {
		t.Fatalf("unexpected help output: %#v", w.messages)
	}
}

func TestUnknownCommand(t *testing.T) {
	r, _, tr := newTestRouter(t, Options{})
	w := &captureWriter{}

	if err := r.HandleCommand(context.Background(), w, command("dance", "")); err != nil {
		t.Fatalf("handle unknown: %v", err)
	}
	if len(w.messages) != 1 || w.messages[0] != "Unknown command /dance. Try /help." {
		t.Fatalf("unexpected output: %#v", w.messages)
	}
	if got := tr.sentCount(); got != 0 {
		t.Fatalf("expected no prompts, got %d", got)
	}
}

func TestCancelCommand(t *testing.T) {
	tests := []struct {
		name     string
		canceled int
		expected string
	}{
		{name: "running dialogs", canceled: 2, expected: "Canceled 2 running dialog(s)."},
		{name: "nothing running", canceled: 0, expected: nothingText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			canceler := &fakeCanceler{n: tc.canceled}
			r, _, _ := newTestRouter(t, Options{Canceler: canceler})
			w := &captureWriter{}

			if err := r.HandleCommand(context.Background(), w, command("cancel", "")); err != nil {
				t.Fatalf("handle /cancel: %v", err)
			}
			if !slices.Equal(canceler.users, []string{"7"}) {
				t.Fatalf("expected cancel for invoking user, got %v", canceler.users)
			}
			if len(w.messages) != 1 || w.messages[0] != tc.expected {
				t.Fatalf("unexpected output: %#v", w.messages)
			}
		})
	}
}

func TestCancelCommandWithoutCanceler(t *testing.T) {
	r, _, _ := newTestRouter(t, Options{})
	if err := r.HandleCommand(context.Background(), &captureWriter{}, command("cancel", "")); err == nil {
		t.Fatal("expected error without canceler")
	}
}

func TestStatusCommandReportsPendingWaits(t *testing.T) {
	r, b, _ := newTestRouter(t, Options{})
	wait := b.Messages.Register(broker.FromAuthorIn("9", 42), time.Second)
	defer wait.Cancel()
	w := &captureWriter{}

	if err := r.HandleCommand(context.Background(), w, command("status", "")); err != nil {
		t.Fatalf("handle /status: %v", err)
	}
	if len(w.messages) != 1 || !strings.HasPrefix(w.messages[0], "Waiting on 1 message(s), 0 reaction(s), 0 menu(s).") {
		t.Fatalf("unexpected status: %#v", w.messages)
	}
}

func TestRankDialogAssignsRankAndCleansUp(t *testing.T) {
	r, b, tr := newTestRouter(t, Options{Cleanup: true})
	w := &captureWriter{}
	done := handleAsync(r, w, command("rank", "@alice"))

	menu := tr.awaitSent(t, 1)
	if menu.prompt.Text != "Pick a new rank for alice." || menu.prompt.Menu == nil {
		t.Fatalf("unexpected rank prompt %+v", menu.prompt)
	}
	b.Components.Publish(chat.ComponentEvent{
		Token:  menu.prompt.Menu.Token,
		UserID: "7",
		ChatID: 42,
		Ref:    menu.ref,
		Values: []string{"1"},
	})

	confirm := tr.awaitSent(t, 2)
	if confirm.prompt.Text != "Make alice a moderator?" || len(confirm.prompt.Buttons) != 2 {
		t.Fatalf("unexpected confirm prompt %+v", confirm.prompt)
	}
	b.Components.Publish(chat.ComponentEvent{
		Token:  confirm.prompt.Buttons[0].Token,
		UserID: "7",
		ChatID: 42,
		Ref:    confirm.ref,
	})

	if err := awaitDone(t, done); err != nil {
		t.Fatalf("handle /rank: %v", err)
	}
	if len(w.messages) != 1 || w.messages[0] != "alice is now a moderator." {
		t.Fatalf("unexpected reply: %#v", w.messages)
	}
	if rank, ok := r.Records().Rank(42, "alice"); !ok || rank != "moderator" {
		t.Fatalf("expected stored rank, got %q %v", rank, ok)
	}
	if got := tr.deletedRefs(); !slices.Equal(got, []chat.MessageRef{menu.ref, confirm.ref}) {
		t.Fatalf("expected both prompts deleted in order, got %v", got)
	}
}

func TestRankDialogAsksForMemberAndHonorsCancel(t *testing.T) {
	r, b, tr := newTestRouter(t, Options{})
	w := &captureWriter{}
	done := handleAsync(r, w, command("rank", ""))

	ask := tr.awaitSent(t, 1)
	if ask.prompt.Text != "Which member? Send their username." {
		t.Fatalf("unexpected member prompt %q", ask.prompt.Text)
	}
	b.Messages.Publish(chat.MessageEvent{Ref: chat.MessageRef{ChatID: 42, MessageID: 900}, AuthorID: "7", ChatID: 42, Text: "@bob"})

	menu := tr.awaitSent(t, 2)
	b.Components.Publish(chat.ComponentEvent{Token: menu.prompt.Menu.Token, UserID: "7", ChatID: 42, Values: []string{"2"}})

	confirm := tr.awaitSent(t, 3)
	b.Components.Publish(chat.ComponentEvent{Token: confirm.prompt.Buttons[1].Token, UserID: "7", ChatID: 42})

	if err := awaitDone(t, done); err != nil {
		t.Fatalf("handle /rank: %v", err)
	}
	if len(w.messages) != 1 || w.messages[0] != canceledText {
		t.Fatalf("unexpected reply: %#v", w.messages)
	}
	if _, ok := r.Records().Rank(42, "bob"); ok {
		t.Fatal("expected no rank stored after cancel")
	}
	if got := tr.deletedRefs(); len(got) != 0 {
		t.Fatalf("expected no cleanup when disabled, got %v", got)
	}
}

func TestRankDialogTimeoutIsReported(t *testing.T) {
	r, _, tr := newTestRouter(t, Options{Timeouts: dialog.Timeouts{Component: 30 * time.Millisecond}})
	w := &captureWriter{}

	if err := r.HandleCommand(context.Background(), w, command("rank", "alice")); err != nil {
		t.Fatalf("expected timeout to be reported, got %v", err)
	}
	if len(w.messages) != 1 || w.messages[0] != timeoutText {
		t.Fatalf("unexpected reply: %#v", w.messages)
	}
	edits := tr.editedPrompts()
	if len(edits) != 1 || edits[0].Menu == nil || !edits[0].Menu.Disabled {
		t.Fatalf("expected menu closed out after timeout, got %+v", edits)
	}
}

func TestRankDialogCanceledContext(t *testing.T) {
	r, b, tr := newTestRouter(t, Options{})
	w := &captureWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.HandleCommand(ctx, w, command("rank", "alice"))
	}()

	tr.awaitSent(t, 1)
	cancel()

	if err := awaitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if len(w.messages) != 0 {
		t.Fatalf("expected no reply for a canceled dialog, got %#v", w.messages)
	}
	waitFor(t, time.Second, func() bool { return b.Components.Sessions() == 0 })
}

func TestDialogCleanupRunsOnClose(t *testing.T) {
	r, _, tr := newTestRouter(t, Options{Cleanup: true})
	w := &captureWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.HandleCommand(ctx, w, command("rank", "alice"))
	}()

	menu := tr.awaitSent(t, 1)
	cancel()

	if err := awaitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if got := tr.deletedRefs(); !slices.Equal(got, []chat.MessageRef{menu.ref}) {
		t.Fatalf("expected canceled dialog prompt deleted, got %v", got)
	}
}

func TestReportDialogFilesReport(t *testing.T) {
	r, b, tr := newTestRouter(t, Options{})
	w := &captureWriter{}
	done := handleAsync(r, w, command("report", ""))

	tr.awaitSent(t, 1)
	b.Messages.Publish(chat.MessageEvent{Ref: chat.MessageRef{ChatID: 42, MessageID: 900}, AuthorID: "7", ChatID: 42, Text: "bob"})

	reason := tr.awaitSent(t, 2)
	if reason.prompt.Text != "Why are you reporting bob?" {
		t.Fatalf("unexpected reason prompt %q", reason.prompt.Text)
	}
	b.Components.Publish(chat.ComponentEvent{Token: reason.prompt.Menu.Token, UserID: "7", ChatID: 42, Values: []string{"0"}})

	severity := tr.awaitSent(t, 3)
	waitFor(t, time.Second, func() bool { return len(tr.reactedRefs()) == 1 })
	b.Reactions.Publish(chat.ReactionEvent{Ref: severity.ref, UserID: "7", ChatID: 42, Emoji: "🔴"})

	if err := awaitDone(t, done); err != nil {
		t.Fatalf("handle /report: %v", err)
	}
	if len(w.messages) != 1 || w.messages[0] != "Report filed: bob for spam (high severity)." {
		t.Fatalf("unexpected reply: %#v", w.messages)
	}
	reports := r.Records().Reports()
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	got := reports[0]
	if got.Member != "bob" || got.Reason != "spam" || got.Severity != SeverityHigh || got.ReporterID != "7" || got.ChatID != 42 {
		t.Fatalf("unexpected report %+v", got)
	}
}

func TestSettingsDialog(t *testing.T) {
	t.Run("picks features", func(t *testing.T) {
		r, b, tr := newTestRouter(t, Options{})
		w := &captureWriter{}
		done := handleAsync(r, w, command("settings", ""))

		menu := tr.awaitSent(t, 1)
		if menu.prompt.Menu.MaxValues != len(features) {
			t.Fatalf("expected multi-select menu, got %+v", menu.prompt.Menu)
		}
		b.Components.Publish(chat.ComponentEvent{Token: menu.prompt.Menu.Token, UserID: "7", ChatID: 42, Values: []string{"2", "0"}})

		if err := awaitDone(t, done); err != nil {
			t.Fatalf("handle /settings: %v", err)
		}
		if len(w.messages) != 1 || w.messages[0] != "Enabled: welcome, slowmode." {
			t.Fatalf("unexpected reply: %#v", w.messages)
		}
		if got := r.Records().Features(42); !slices.Equal(got, []string{"welcome", "slowmode"}) {
			t.Fatalf("unexpected stored features %v", got)
		}
	})

	t.Run("timeout keeps current features", func(t *testing.T) {
		r, _, _ := newTestRouter(t, Options{Timeouts: dialog.Timeouts{Component: 30 * time.Millisecond}})
		r.Records().SetFeatures(42, []string{"digest"})
		w := &captureWriter{}

		if err := r.HandleCommand(context.Background(), w, command("settings", "")); err != nil {
			t.Fatalf("handle /settings: %v", err)
		}
		if len(w.messages) != 1 || w.messages[0] != "Enabled: digest." {
			t.Fatalf("unexpected reply: %#v", w.messages)
		}
	})
}

func TestSlowmodeDialog(t *testing.T) {
	t.Run("interval from args", func(t *testing.T) {
		r, _, tr := newTestRouter(t, Options{})
		w := &captureWriter{}

		if err := r.HandleCommand(context.Background(), w, command("slowmode", "2m")); err != nil {
			t.Fatalf("handle /slowmode: %v", err)
		}
		if len(w.messages) != 1 || w.messages[0] != "Slow mode on: one message every 2m0s." {
			t.Fatalf("unexpected reply: %#v", w.messages)
		}
		if got, ok := r.Records().Slowmode(42); !ok || got != 2*time.Minute {
			t.Fatalf("expected 2m stored, got %s %v", got, ok)
		}
		if tr.sentCount() != 0 {
			t.Fatalf("expected no prompt when the interval is given")
		}
	})

	t.Run("asks until the interval parses", func(t *testing.T) {
		r, b, tr := newTestRouter(t, Options{})
		w := &captureWriter{}
		done := handleAsync(r, w, command("slowmode", ""))

		tr.awaitSent(t, 1)
		b.Messages.Publish(chat.MessageEvent{Ref: chat.MessageRef{ChatID: 42, MessageID: 900}, AuthorID: "7", ChatID: 42, Text: "soon"})
		tr.awaitSent(t, 2)
		b.Messages.Publish(chat.MessageEvent{Ref: chat.MessageRef{ChatID: 42, MessageID: 901}, AuthorID: "7", ChatID: 42, Text: "30s"})

		if err := awaitDone(t, done); err != nil {
			t.Fatalf("handle /slowmode: %v", err)
		}
		if got, ok := r.Records().Slowmode(42); !ok || got != 30*time.Second {
			t.Fatalf("expected 30s stored, got %s %v", got, ok)
		}
	})

	t.Run("off disables", func(t *testing.T) {
		r, _, _ := newTestRouter(t, Options{})
		r.Records().SetSlowmode(42, time.Minute)
		w := &captureWriter{}

		if err := r.HandleCommand(context.Background(), w, command("slowmode", "off")); err != nil {
			t.Fatalf("handle /slowmode: %v", err)
		}
		if len(w.messages) != 1 || w.messages[0] != "Slow mode off." {
			t.Fatalf("unexpected reply: %#v", w.messages)
		}
		if _, ok := r.Records().Slowmode(42); ok {
			t.Fatal("expected slow mode cleared")
		}
	})
}

func TestBlockedChatRejectsDialogs(t *testing.T) {
	r, _, tr := newTestRouter(t, Options{BlockedChats: []int64{42}})
	w := &captureWriter{}

	if err := r.HandleCommand(context.Background(), w, command("report", "")); err != nil {
		t.Fatalf("handle /report: %v", err)
	}
	if len(w.messages) != 1 || w.messages[0] != blockedText {
		t.Fatalf("unexpected reply: %#v", w.messages)
	}
	if got := tr.sentCount(); got != 0 {
		t.Fatalf("expected no prompts in a blocked chat, got %d", got)
	}
}

func TestAbortedDialogIsReported(t *testing.T) {
	r, _, tr := newTestRouter(t, Options{})
	tr.sendErr = errors.New("chat not found")
	w := &captureWriter{}

	if err := r.HandleCommand(context.Background(), w, command("settings", "")); err != nil {
		t.Fatalf("expected abort to be reported, got %v", err)
	}
	if len(w.messages) != 1 || w.messages[0] != abortedText {
		t.Fatalf("unexpected reply: %#v", w.messages)
	}
}

func TestNormalizeMember(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
	}{
		{input: "alice", expected: "alice", ok: true},
		{input: " @bob ", expected: "bob", ok: true},
		{input: "", ok: false},
		{input: "@", ok: false},
		{input: "two words", ok: false},
	}
	for _, tc := range tests {
		got, err := normalizeMember(tc.input)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: expected ok=%v, got err %v", tc.input, tc.ok, err)
		}
		if got != tc.expected {
			t.Fatalf("%q: expected %q, got %q", tc.input, tc.expected, got)
		}
	}
}

func newTestRouter(t *testing.T, opts Options) (*Router, *broker.Broker, *fakeTransport) {
	t.Helper()
	b := broker.New(broker.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	t.Cleanup(func() {
		cancel()
		b.Shutdown()
	})

	tr := &fakeTransport{}
	opts.Broker = b
	opts.Transport = tr
	return New(opts), b, tr
}

func command(name, args string) *runtime.Command {
	return &runtime.Command{Name: name, Args: args, ChatID: 42, UserID: "7", Username: "mod"}
}

func handleAsync(r *Router, w runtime.ResponseWriter, cmd *runtime.Command) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- r.HandleCommand(context.Background(), w, cmd)
	}()
	return done
}

func awaitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
		return nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type sentPrompt struct {
	ref    chat.MessageRef
	prompt chat.Prompt
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentPrompt
	edits   []chat.Prompt
	reacted []chat.MessageRef
	deleted []chat.MessageRef
	sendErr error
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, prompt chat.Prompt) (chat.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return chat.MessageRef{}, f.sendErr
	}
	f.nextID++
	ref := chat.MessageRef{ChatID: chatID, MessageID: 100 + f.nextID}
	f.sent = append(f.sent, sentPrompt{ref: ref, prompt: prompt})
	return ref, nil
}

func (f *fakeTransport) Edit(_ context.Context, _ chat.MessageRef, prompt chat.Prompt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, prompt)
	return nil
}

func (f *fakeTransport) React(_ context.Context, ref chat.MessageRef, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacted = append(f.reacted, ref)
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, ref chat.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeTransport) awaitSent(t *testing.T, n int) sentPrompt {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool { return f.sentCount() >= n })
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[n-1]
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) editedPrompts() []chat.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.edits)
}

func (f *fakeTransport) reactedRefs() []chat.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reacted)
}

func (f *fakeTransport) deletedRefs() []chat.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

type captureWriter struct {
	mu       sync.Mutex
	messages []string
}

func (w *captureWriter) WriteMessage(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, text)
	return nil
}

type fakeCanceler struct {
	n     int
	users []string
}

func (c *fakeCanceler) CancelUser(_ context.Context, userID string) int {
	c.users = append(c.users, userID)
	return c.n
}
