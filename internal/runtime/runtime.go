package runtime

import "context"

// Command is one slash command invocation delivered by a channel transport.
type Command struct {
	// Name is the command without the leading slash or bot mention, lowercased.
	Name     string
	Args     string
	Text     string
	ChatID   int64
	UserID   string
	Username string
}

// ResponseWriter sends handler responses back to the invoking chat.
type ResponseWriter interface {
	WriteMessage(ctx context.Context, text string) error
}

// Handler processes one command. Each invocation runs in its own goroutine.
type Handler interface {
	HandleCommand(ctx context.Context, w ResponseWriter, cmd *Command) error
}

// CommandSink accepts commands for asynchronous handling.
type CommandSink interface {
	Enqueue(ctx context.Context, cmd *Command, writer ResponseWriter) error
}

// Listener receives channel input and hands commands to a CommandSink.
type Listener interface {
	Listen(ctx context.Context, sink CommandSink) error
}
