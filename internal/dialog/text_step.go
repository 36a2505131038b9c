package dialog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
)

// DefaultRetryText is sent when a text answer cannot be parsed.
const DefaultRetryText = "That didn't work, please try again."

// TextStep asks a question and parses the invoking user's next message in
// the invoking chat. Unparseable answers are re-prompted until one parses or
// the wait times out.
type TextStep[T any] struct {
	Prompt    Text
	Parse     func(text string) (T, error)
	RetryText string
	Timeout   time.Duration
}

var _ Step[int] = (*TextStep[int])(nil)

// Render implements Step.
func (s *TextStep[T]) Render(d *Dialog) (chat.Prompt, error) {
	text, err := s.Prompt.render(d.ctx)
	if err != nil {
		return chat.Prompt{}, err
	}
	return chat.Prompt{Text: text}, nil
}

// Run implements Step.
func (s *TextStep[T]) Run(ctx context.Context, d *Dialog) (T, error) {
	var zero T
	if s.Parse == nil {
		return zero, errors.New("text step parser is required")
	}
	prompt, err := s.Render(d)
	if err != nil {
		return zero, err
	}
	retry := s.RetryText
	if retry == "" {
		retry = DefaultRetryText
	}

	for {
		// Register before sending so a fast reply cannot slip past the wait.
		next := d.broker.Messages.Register(broker.FromAuthorIn(d.userID, d.chatID), d.messageTimeout(s.Timeout))
		if _, err := d.Send(ctx, prompt); err != nil {
			next.Cancel()
			return zero, err
		}
		msg, err := next.Wait(ctx)
		if err != nil {
			next.Cancel()
			return zero, err
		}
		d.ctx.Record(msg.Ref)

		value, err := s.Parse(strings.TrimSpace(msg.Text))
		if err == nil {
			return value, nil
		}
		d.logger.Debug("text answer rejected", "err", err)
		prompt = chat.Prompt{Text: retry}
	}
}
