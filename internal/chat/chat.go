// Package chat defines the platform-neutral events, prompts, and transport contract shared by the broker, dialogs, and channel adapters.
package chat

import "context"

// MaxMenuOptions is the platform ceiling on entries in one select menu.
const MaxMenuOptions = 25

// MessageRef identifies one message in one chat.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// IsZero reports whether the reference points at no message.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// MessageEvent is an inbound "message created" event.
type MessageEvent struct {
	Ref      MessageRef
	AuthorID string
	ChatID   int64
	Text     string
}

// ReactionEvent is an inbound "reaction added" event.
type ReactionEvent struct {
	Ref    MessageRef
	UserID string
	ChatID int64
	Emoji  string
}

// ComponentEvent is an inbound interaction with a rendered button or menu.
// Token is the correlation token embedded in the affordance; Values holds the
// chosen menu values and is empty for buttons.
type ComponentEvent struct {
	Token  string
	UserID string
	ChatID int64
	Ref    MessageRef
	Values []string
}

// Prompt is the content of one outbound message.
type Prompt struct {
	Text    string
	Buttons []Button
	Menu    *Menu
}

// HasComponents reports whether the prompt renders interactive affordances.
func (p Prompt) HasComponents() bool {
	return len(p.Buttons) > 0 || p.Menu != nil
}

// Button is one clickable affordance.
type Button struct {
	Label    string
	Token    string
	Disabled bool
	Selected bool
}

// Menu is a single or multi value select menu.
type Menu struct {
	Token       string
	Placeholder string
	Options     []MenuOption
	MinValues   int
	MaxValues   int
	Disabled    bool
}

// MenuOption is one entry of a Menu. Value is echoed back in ComponentEvent.Values.
type MenuOption struct {
	Label       string
	Value       string
	Description string
	Selected    bool
}

// Multi reports whether the menu accepts more than one value.
func (m *Menu) Multi() bool {
	return m != nil && m.MaxValues > 1
}

// NewMenu builds a menu over options, keeping only the first MaxMenuOptions
// entries in input order. truncated reports whether entries were dropped.
func NewMenu(token, placeholder string, options []MenuOption) (menu *Menu, truncated bool) {
	if len(options) > MaxMenuOptions {
		options = options[:MaxMenuOptions]
		truncated = true
	}
	kept := make([]MenuOption, len(options))
	copy(kept, options)
	return &Menu{
		Token:       token,
		Placeholder: placeholder,
		Options:     kept,
		MinValues:   1,
		MaxValues:   1,
	}, truncated
}

// Transport is the outbound half of a chat platform.
type Transport interface {
	Send(ctx context.Context, chatID int64, prompt Prompt) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, prompt Prompt) error
	React(ctx context.Context, ref MessageRef, emojis []string) error
	Delete(ctx context.Context, ref MessageRef) error
}
