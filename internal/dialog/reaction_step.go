package dialog

import (
	"context"
	"slices"
	"time"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
)

// ReactionChoice binds one reaction glyph to a result.
type ReactionChoice[T any] struct {
	Emoji  string
	Result ResultFunc[T]
}

// ReactionStep sends a prompt, attaches its glyphs, and waits for the
// invoking user to react.
//
// A reaction with an unbound glyph, or no reaction before the timeout,
// resolves to DefaultFunc. Without a DefaultFunc only bound glyphs are
// accepted and the timeout is returned to the caller.
type ReactionStep[T any] struct {
	Prompt      Text
	Choices     []ReactionChoice[T]
	DefaultFunc ResultFunc[T]
	Timeout     time.Duration
}

var (
	_ Step[int]       = (*ReactionStep[int])(nil)
	_ HasDefault[int] = (*ReactionStep[int])(nil)
	_ HasReactions    = (*ReactionStep[int])(nil)
)

// NewReactionStep creates a reaction step whose default result is defaultValue.
func NewReactionStep[T any](prompt Text, defaultValue T, choices ...ReactionChoice[T]) *ReactionStep[T] {
	return &ReactionStep[T]{
		Prompt:      prompt,
		Choices:     choices,
		DefaultFunc: Const(defaultValue),
	}
}

// Render implements Step.
func (s *ReactionStep[T]) Render(d *Dialog) (chat.Prompt, error) {
	text, err := s.Prompt.render(d.ctx)
	if err != nil {
		return chat.Prompt{}, err
	}
	return chat.Prompt{Text: text}, nil
}

// Reactions implements HasReactions.
func (s *ReactionStep[T]) Reactions() []string {
	emojis := make([]string, 0, len(s.Choices))
	for _, choice := range s.Choices {
		emojis = append(emojis, choice.Emoji)
	}
	return emojis
}

// DeclaresDefault implements HasDefault.
func (s *ReactionStep[T]) DeclaresDefault() bool {
	return s.DefaultFunc != nil
}

// Default implements HasDefault.
func (s *ReactionStep[T]) Default(ctx context.Context, d *Dialog) (T, error) {
	return s.DefaultFunc.call(ctx, d.ctx)
}

// Run implements Step.
func (s *ReactionStep[T]) Run(ctx context.Context, d *Dialog) (T, error) {
	var zero T
	prompt, err := s.Render(d)
	if err != nil {
		return zero, err
	}
	ref, err := d.Send(ctx, prompt)
	if err != nil {
		return zero, err
	}

	emojis := s.Reactions()
	byUser := broker.ReactionBy(ref, d.userID)
	accept := func(ev chat.ReactionEvent) bool {
		return byUser(ev) && (s.DeclaresDefault() || slices.Contains(emojis, ev.Emoji))
	}
	next := d.broker.Reactions.Register(accept, d.reactionTimeout(s.Timeout))
	defer next.Cancel()

	if err := d.React(ctx, ref, emojis); err != nil {
		return zero, err
	}

	ev, err := next.Wait(ctx)
	switch {
	case err == nil:
	case IsTimeout(err) && s.DeclaresDefault():
		return s.Default(ctx, d)
	default:
		return zero, err
	}

	for _, choice := range s.Choices {
		if choice.Emoji == ev.Emoji {
			return choice.Result.call(ctx, d.ctx)
		}
	}
	return s.Default(ctx, d)
}
