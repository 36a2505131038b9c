package dialog

import (
	"context"
	"errors"
	"time"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
)

// ButtonChoice is one button of a ButtonStep.
type ButtonChoice[T any] struct {
	Label  string
	Result ResultFunc[T]
}

// ButtonStep renders one button per choice and resolves to the choice the
// invoking user clicks. When the step finishes, on any path, the buttons are
// disabled and the clicked one is marked selected.
type ButtonStep[T any] struct {
	Prompt      Text
	Buttons     []ButtonChoice[T]
	DefaultFunc ResultFunc[T]
	Timeout     time.Duration
}

var (
	_ Step[int]       = (*ButtonStep[int])(nil)
	_ HasDefault[int] = (*ButtonStep[int])(nil)
)

// Render implements Step. Buttons carry no tokens until Run attaches them.
func (s *ButtonStep[T]) Render(d *Dialog) (chat.Prompt, error) {
	text, err := s.Prompt.render(d.ctx)
	if err != nil {
		return chat.Prompt{}, err
	}
	buttons := make([]chat.Button, 0, len(s.Buttons))
	for _, choice := range s.Buttons {
		buttons = append(buttons, chat.Button{Label: choice.Label})
	}
	return chat.Prompt{Text: text, Buttons: buttons}, nil
}

// DeclaresDefault implements HasDefault.
func (s *ButtonStep[T]) DeclaresDefault() bool {
	return s.DefaultFunc != nil
}

// Default implements HasDefault.
func (s *ButtonStep[T]) Default(ctx context.Context, d *Dialog) (T, error) {
	return s.DefaultFunc.call(ctx, d.ctx)
}

// Run implements Step.
func (s *ButtonStep[T]) Run(ctx context.Context, d *Dialog) (T, error) {
	var zero T
	if len(s.Buttons) == 0 {
		return zero, errors.New("button step needs at least one button")
	}
	prompt, err := s.Render(d)
	if err != nil {
		return zero, err
	}

	session := broker.NewSession[int](d.broker.Components)
	defer session.Close()
	session.SetFilter(broker.FromUser(d.userID))
	for i := range prompt.Buttons {
		prompt.Buttons[i].Token = session.AddRegistration(i)
	}

	ref, err := d.Send(ctx, prompt)
	if err != nil {
		return zero, err
	}
	chosen := -1
	defer func() {
		d.closeOut(ctx, ref, closeButtons(prompt, chosen))
	}()

	session.StartTimeout(d.componentTimeout(s.Timeout))
	sel, err := session.Wait(ctx)
	switch {
	case err == nil:
	case IsTimeout(err) && s.DeclaresDefault():
		return s.Default(ctx, d)
	default:
		return zero, err
	}
	chosen = sel.ID
	return s.Buttons[chosen].Result.call(ctx, d.ctx)
}

// closeButtons returns prompt with every button disabled and the chosen index
// marked selected. A negative chosen marks none.
func closeButtons(prompt chat.Prompt, chosen int) chat.Prompt {
	buttons := make([]chat.Button, len(prompt.Buttons))
	for i, b := range prompt.Buttons {
		b.Disabled = true
		b.Selected = i == chosen
		buttons[i] = b
	}
	prompt.Buttons = buttons
	return prompt
}
