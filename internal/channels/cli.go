// Package channels provides the chat platforms herald runs on: Telegram for
// production and a local console for trying dialogs from a terminal.
package channels

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
	"github.com/neoclaw-ai/herald/internal/runtime"
	"golang.org/x/term"
)

const (
	defaultReplPrompt  = "you> "
	defaultConsoleUser = "console"
	defaultConsoleChat = int64(1)

	consoleUsage = "Directives: !react <msg> <emoji>, !click <msg> <button>, !pick <msg> <option>[,<option>...]"
)

var (
	_ runtime.Listener = (*ConsoleListener)(nil)
	_ chat.Transport   = (*ConsoleListener)(nil)
)

// ConsoleOptions configures a ConsoleListener.
type ConsoleOptions struct {
	In     io.Reader
	Out    io.Writer
	Broker *broker.Broker
	// UserID and ChatID identify the single local user. Defaults apply when empty.
	UserID      string
	ChatID      int64
	HistoryFile string
}

// ConsoleListener is a one-user chat over a terminal. Lines starting with "/"
// are commands, lines starting with "!" simulate reactions and component
// clicks on printed prompts, and anything else is a plain chat message.
type ConsoleListener struct {
	in          io.Reader
	out         io.Writer
	broker      *broker.Broker
	userID      string
	chatID      int64
	historyFile string

	rl       *readline.Instance
	fallback *bufio.Reader

	outMu sync.Mutex

	mu       sync.Mutex
	nextID   int
	messages map[int]chat.Prompt
}

// NewConsole creates a console listener over stdin/stdout style streams.
func NewConsole(opts ConsoleOptions) *ConsoleListener {
	c := &ConsoleListener{
		in:          opts.In,
		out:         opts.Out,
		broker:      opts.Broker,
		userID:      strings.TrimSpace(opts.UserID),
		chatID:      opts.ChatID,
		historyFile: opts.HistoryFile,
		messages:    make(map[int]chat.Prompt),
	}
	if c.userID == "" {
		c.userID = defaultConsoleUser
	}
	if c.chatID == 0 {
		c.chatID = defaultConsoleChat
	}
	return c
}

// ChatID returns the chat the console user talks in.
func (c *ConsoleListener) ChatID() int64 {
	return c.chatID
}

// Listen runs the interactive loop until EOF, /quit, /exit, or ctx is done.
func (c *ConsoleListener) Listen(ctx context.Context, sink runtime.CommandSink) error {
	if sink == nil {
		return errors.New("command sink is required")
	}
	if c.broker == nil {
		return errors.New("broker is required")
	}
	c.ensureInputReady()
	if c.rl != nil {
		defer c.rl.Close()
	}

	if err := c.printf("Interactive mode. Type /help for commands, /quit or /exit to stop.\n%s\n\n", consoleUsage); err != nil {
		return err
	}

	inputCh := make(chan inputEvent)
	go c.readInputLoop(ctx, inputCh)

	writer := &consoleWriter{console: c}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-inputCh:
			if !ok {
				return nil
			}
			if event.err != nil {
				if errors.Is(event.err, io.EOF) || errors.Is(event.err, context.Canceled) {
					return nil
				}
				return event.err
			}

			line := strings.TrimSpace(event.line)
			if line == "" {
				continue
			}
			switch strings.ToLower(line) {
			case "/quit", "/exit":
				return nil
			}

			if strings.HasPrefix(line, "!") {
				if err := c.handleDirective(line); err != nil {
					_ = c.printf("%v\n%s\n\n", err, consoleUsage)
				}
				continue
			}
			if cmd, ok := parseCommand(line); ok {
				cmd.ChatID = c.chatID
				cmd.UserID = c.userID
				cmd.Username = c.userID
				if err := sink.Enqueue(ctx, cmd, writer); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				continue
			}

			c.broker.Messages.Publish(chat.MessageEvent{
				Ref:      chat.MessageRef{ChatID: c.chatID, MessageID: c.allocateID()},
				AuthorID: c.userID,
				ChatID:   c.chatID,
				Text:     line,
			})
		}
	}
}

// Send implements chat.Transport by printing the prompt with its message number.
func (c *ConsoleListener) Send(_ context.Context, chatID int64, prompt chat.Prompt) (chat.MessageRef, error) {
	id := c.allocateID()
	c.mu.Lock()
	c.messages[id] = prompt
	c.mu.Unlock()

	if err := c.printf("herald [#%d]> %s\n%s\n", id, prompt.Text, renderConsoleComponents(prompt)); err != nil {
		return chat.MessageRef{}, err
	}
	return chat.MessageRef{ChatID: chatID, MessageID: id}, nil
}

// Edit implements chat.Transport.
func (c *ConsoleListener) Edit(_ context.Context, ref chat.MessageRef, prompt chat.Prompt) error {
	c.mu.Lock()
	_, ok := c.messages[ref.MessageID]
	if ok {
		c.messages[ref.MessageID] = prompt
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown message #%d", ref.MessageID)
	}
	return c.printf("herald [#%d edited]> %s\n%s\n", ref.MessageID, prompt.Text, renderConsoleComponents(prompt))
}

// React implements chat.Transport.
func (c *ConsoleListener) React(_ context.Context, ref chat.MessageRef, emojis []string) error {
	if len(emojis) == 0 {
		return nil
	}
	return c.printf("herald [#%d]> reacted %s\n\n", ref.MessageID, strings.Join(emojis, " "))
}

// Delete implements chat.Transport.
func (c *ConsoleListener) Delete(_ context.Context, ref chat.MessageRef) error {
	c.mu.Lock()
	delete(c.messages, ref.MessageID)
	c.mu.Unlock()
	return c.printf("[#%d deleted]\n\n", ref.MessageID)
}

func (c *ConsoleListener) handleDirective(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return fmt.Errorf("malformed directive %q", line)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(fields[1], "#"))
	if err != nil {
		return fmt.Errorf("invalid message number %q", fields[1])
	}
	ref := chat.MessageRef{ChatID: c.chatID, MessageID: id}

	switch strings.ToLower(fields[0]) {
	case "!react":
		c.broker.Reactions.Publish(chat.ReactionEvent{Ref: ref, UserID: c.userID, ChatID: c.chatID, Emoji: fields[2]})
		return nil
	case "!click":
		prompt, err := c.prompt(id)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil || n < 1 || n > len(prompt.Buttons) {
			return fmt.Errorf("message #%d has no button %q", id, fields[2])
		}
		button := prompt.Buttons[n-1]
		if button.Disabled || button.Token == "" {
			return fmt.Errorf("button %d on message #%d is disabled", n, id)
		}
		c.publishComponent(ref, button.Token, nil)
		return nil
	case "!pick":
		prompt, err := c.prompt(id)
		if err != nil {
			return err
		}
		menu := prompt.Menu
		if menu == nil {
			return fmt.Errorf("message #%d has no menu", id)
		}
		if menu.Disabled || menu.Token == "" {
			return fmt.Errorf("menu on message #%d is disabled", id)
		}
		var values []string
		for _, raw := range strings.Split(fields[2], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 1 || n > len(menu.Options) {
				return fmt.Errorf("message #%d has no option %q", id, raw)
			}
			values = append(values, menu.Options[n-1].Value)
		}
		if minValues := max(menu.MinValues, 1); len(values) < minValues || len(values) > max(menu.MaxValues, minValues) {
			return fmt.Errorf("menu on message #%d takes %d to %d options", id, minValues, max(menu.MaxValues, minValues))
		}
		c.publishComponent(ref, menu.Token, values)
		return nil
	default:
		return fmt.Errorf("unknown directive %q", fields[0])
	}
}

func (c *ConsoleListener) publishComponent(ref chat.MessageRef, token string, values []string) {
	c.broker.Components.Publish(chat.ComponentEvent{
		Token:  token,
		UserID: c.userID,
		ChatID: c.chatID,
		Ref:    ref,
		Values: values,
	})
}

func (c *ConsoleListener) prompt(id int) (chat.Prompt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prompt, ok := c.messages[id]
	if !ok {
		return chat.Prompt{}, fmt.Errorf("unknown message #%d", id)
	}
	return prompt, nil
}

func (c *ConsoleListener) allocateID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// printf writes through readline when it owns the terminal so the input line
// is redrawn below the output.
func (c *ConsoleListener) printf(format string, args ...any) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	var out io.Writer = c.out
	if c.rl != nil {
		out = c.rl.Stdout()
	}
	_, err := fmt.Fprintf(out, format, args...)
	return err
}

func renderConsoleComponents(prompt chat.Prompt) string {
	var b strings.Builder
	for i, button := range prompt.Buttons {
		fmt.Fprintf(&b, "  [%d] %s%s\n", i+1, button.Label, consoleState(button.Disabled, button.Selected))
	}
	if menu := prompt.Menu; menu != nil {
		if menu.Placeholder != "" {
			fmt.Fprintf(&b, "  %s\n", menu.Placeholder)
		}
		for i, opt := range menu.Options {
			label := opt.Label
			if opt.Description != "" {
				label += " (" + opt.Description + ")"
			}
			fmt.Fprintf(&b, "  %d) %s%s\n", i+1, label, consoleState(menu.Disabled, opt.Selected))
		}
		if menu.Multi() && !menu.Disabled {
			fmt.Fprintf(&b, "  pick %d to %d\n", max(menu.MinValues, 1), menu.MaxValues)
		}
	}
	return b.String()
}

func consoleState(disabled, selected bool) string {
	switch {
	case selected:
		return " *"
	case disabled:
		return " (closed)"
	default:
		return ""
	}
}

// consoleWriter prints plain command replies.
type consoleWriter struct {
	console *ConsoleListener
}

// WriteMessage writes one reply line.
func (w *consoleWriter) WriteMessage(_ context.Context, text string) error {
	return w.console.printf("herald> %s\n\n", text)
}

func (c *ConsoleListener) ensureInputReady() {
	if c.rl != nil || c.fallback != nil {
		return
	}

	rl, err := newReadline(c.in, c.out, c.historyFile)
	if err == nil {
		c.rl = rl
		return
	}

	c.fallback = bufio.NewReader(c.in)
}

func (c *ConsoleListener) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if c.rl != nil {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return "", io.EOF
			}
			return "", err
		}
		return line, nil
	}

	line, err := c.fallback.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (c *ConsoleListener) readInputLoop(ctx context.Context, out chan<- inputEvent) {
	defer close(out)
	for {
		line, err := c.readLine(ctx)
		select {
		case out <- inputEvent{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

type inputEvent struct {
	line string
	err  error
}

func newReadline(in io.Reader, out io.Writer, historyFile string) (*readline.Instance, error) {
	stdin, ok := in.(io.ReadCloser)
	if !ok {
		return nil, fmt.Errorf("stdin is not read-closer")
	}
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return nil, fmt.Errorf("stdin is not terminal")
	}
	outFile, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(outFile.Fd())) {
		return nil, fmt.Errorf("stdout is not terminal")
	}

	return readline.NewEx(&readline.Config{
		Prompt:          defaultReplPrompt,
		HistoryFile:     historyFile,
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           stdin,
		Stdout:          out,
		Stderr:          out,
	})
}
