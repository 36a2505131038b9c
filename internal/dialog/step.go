package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neoclaw-ai/herald/internal/chat"
)

// Step is one request/respond exchange producing a T.
type Step[T any] interface {
	// Render builds the prompt the step sends. Component steps render their
	// affordances without correlation tokens; Run attaches them.
	Render(d *Dialog) (chat.Prompt, error)
	// Run sends the prompt and blocks until the step resolves.
	Run(ctx context.Context, d *Dialog) (T, error)
}

// HasDefault is implemented by steps that can produce a result without a response.
type HasDefault[T any] interface {
	DeclaresDefault() bool
	Default(ctx context.Context, d *Dialog) (T, error)
}

// HasReactions is implemented by steps that offer reaction glyphs.
type HasReactions interface {
	Reactions() []string
}

// HasSelectMenu is implemented by steps that render a select menu.
type HasSelectMenu interface {
	MenuOptions() []chat.MenuOption
}

// Text renders prompt text from the dialog context.
type Text func(c *Context) (string, error)

// Static returns a Text that always renders s.
func Static(s string) Text {
	return func(*Context) (string, error) {
		return s, nil
	}
}

// Textf returns a Text that formats format with the values stored under keys.
func Textf(format string, keys ...string) Text {
	return func(c *Context) (string, error) {
		args := make([]any, 0, len(keys))
		for _, key := range keys {
			c.mu.Lock()
			value, ok := c.values[key]
			c.mu.Unlock()
			if !ok {
				return "", fmt.Errorf("%w: %q", ErrMissingValue, key)
			}
			args = append(args, value)
		}
		return fmt.Sprintf(format, args...), nil
	}
}

func (t Text) render(c *Context) (string, error) {
	if t == nil {
		return "", errors.New("prompt text is required")
	}
	return t(c)
}

// ResultFunc produces a step result from the dialog context.
type ResultFunc[T any] func(ctx context.Context, c *Context) (T, error)

// Const returns a ResultFunc that always yields v.
func Const[T any](v T) ResultFunc[T] {
	return func(context.Context, *Context) (T, error) {
		return v, nil
	}
}

func (f ResultFunc[T]) call(ctx context.Context, c *Context) (T, error) {
	if f == nil {
		var zero T
		return zero, errors.New("result function is required")
	}
	return f(ctx, c)
}

// ParseString accepts any non-empty text.
func ParseString(text string) (string, error) {
	if text == "" {
		return "", errors.New("empty input")
	}
	return text, nil
}

// ParseInt accepts a base-10 integer.
func ParseInt(text string) (int, error) {
	return strconv.Atoi(text)
}

// ParseBool accepts yes/no style answers as well as strconv.ParseBool forms.
func ParseBool(text string) (bool, error) {
	switch strings.ToLower(text) {
	case "y", "yes", "on":
		return true, nil
	case "n", "no", "off":
		return false, nil
	}
	return strconv.ParseBool(text)
}

// ParseDuration accepts Go duration strings such as "90m" or "2h".
func ParseDuration(text string) (time.Duration, error) {
	d, err := time.ParseDuration(text)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return d, nil
}
