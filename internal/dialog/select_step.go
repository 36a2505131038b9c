package dialog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
)

// SelectOption is one menu entry of a select step.
type SelectOption[T any] struct {
	Label       string
	Description string
	Result      ResultFunc[T]
}

// SelectStep renders a single-choice menu. Only the first
// chat.MaxMenuOptions options are offered.
type SelectStep[T any] struct {
	Prompt      Text
	Placeholder string
	Options     []SelectOption[T]
	DefaultFunc ResultFunc[T]
	Timeout     time.Duration
}

var (
	_ Step[int]       = (*SelectStep[int])(nil)
	_ HasDefault[int] = (*SelectStep[int])(nil)
	_ HasSelectMenu   = (*SelectStep[int])(nil)
)

// Render implements Step.
func (s *SelectStep[T]) Render(d *Dialog) (chat.Prompt, error) {
	return renderMenu(d, s.Prompt, s.Placeholder, s.Options, 1, 1)
}

// MenuOptions implements HasSelectMenu.
func (s *SelectStep[T]) MenuOptions() []chat.MenuOption {
	return menuOptions(s.Options)
}

// DeclaresDefault implements HasDefault.
func (s *SelectStep[T]) DeclaresDefault() bool {
	return s.DefaultFunc != nil
}

// Default implements HasDefault.
func (s *SelectStep[T]) Default(ctx context.Context, d *Dialog) (T, error) {
	return s.DefaultFunc.call(ctx, d.ctx)
}

// Run implements Step.
func (s *SelectStep[T]) Run(ctx context.Context, d *Dialog) (T, error) {
	var zero T
	prompt, err := s.Render(d)
	if err != nil {
		return zero, err
	}
	chosen, err := runMenu(ctx, d, prompt, s.Timeout)
	switch {
	case err == nil:
	case IsTimeout(err) && s.DeclaresDefault():
		return s.Default(ctx, d)
	default:
		return zero, err
	}
	return s.Options[chosen[0]].Result.call(ctx, d.ctx)
}

// MultiSelectStep renders a menu accepting between MinValues and MaxValues
// choices and resolves to one result per chosen option, in menu order.
type MultiSelectStep[T any] struct {
	Prompt      Text
	Placeholder string
	Options     []SelectOption[T]
	MinValues   int
	MaxValues   int
	DefaultFunc ResultFunc[[]T]
	Timeout     time.Duration
}

var (
	_ Step[[]int]       = (*MultiSelectStep[int])(nil)
	_ HasDefault[[]int] = (*MultiSelectStep[int])(nil)
	_ HasSelectMenu     = (*MultiSelectStep[int])(nil)
)

// Render implements Step.
func (s *MultiSelectStep[T]) Render(d *Dialog) (chat.Prompt, error) {
	minValues, maxValues := s.bounds()
	return renderMenu(d, s.Prompt, s.Placeholder, s.Options, minValues, maxValues)
}

// MenuOptions implements HasSelectMenu.
func (s *MultiSelectStep[T]) MenuOptions() []chat.MenuOption {
	return menuOptions(s.Options)
}

// DeclaresDefault implements HasDefault.
func (s *MultiSelectStep[T]) DeclaresDefault() bool {
	return s.DefaultFunc != nil
}

// Default implements HasDefault.
func (s *MultiSelectStep[T]) Default(ctx context.Context, d *Dialog) ([]T, error) {
	return s.DefaultFunc.call(ctx, d.ctx)
}

// Run implements Step.
func (s *MultiSelectStep[T]) Run(ctx context.Context, d *Dialog) ([]T, error) {
	prompt, err := s.Render(d)
	if err != nil {
		return nil, err
	}
	chosen, err := runMenu(ctx, d, prompt, s.Timeout)
	switch {
	case err == nil:
	case IsTimeout(err) && s.DeclaresDefault():
		return s.Default(ctx, d)
	default:
		return nil, err
	}

	results := make([]T, 0, len(chosen))
	for _, i := range chosen {
		v, err := s.Options[i].Result.call(ctx, d.ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

func (s *MultiSelectStep[T]) bounds() (int, int) {
	n := min(len(s.Options), chat.MaxMenuOptions)
	maxValues := s.MaxValues
	if maxValues <= 0 || maxValues > n {
		maxValues = n
	}
	minValues := max(s.MinValues, 1)
	minValues = min(minValues, maxValues)
	return minValues, maxValues
}

// menuOptions renders at most MaxMenuOptions entries so the values stay in
// range of the menu the user actually sees.
func menuOptions[T any](options []SelectOption[T]) []chat.MenuOption {
	options = options[:min(len(options), chat.MaxMenuOptions)]
	out := make([]chat.MenuOption, 0, len(options))
	for i, opt := range options {
		out = append(out, chat.MenuOption{
			Label:       opt.Label,
			Value:       strconv.Itoa(i),
			Description: opt.Description,
		})
	}
	return out
}

func renderMenu[T any](d *Dialog, text Text, placeholder string, options []SelectOption[T], minValues, maxValues int) (chat.Prompt, error) {
	if len(options) == 0 {
		return chat.Prompt{}, errors.New("select step needs at least one option")
	}
	body, err := text.render(d.ctx)
	if err != nil {
		return chat.Prompt{}, err
	}
	menu, _ := chat.NewMenu("", placeholder, menuOptions(options))
	if len(options) > chat.MaxMenuOptions {
		d.logger.Warn("select menu truncated", "options", len(options), "kept", chat.MaxMenuOptions)
	}
	menu.MinValues = minValues
	menu.MaxValues = maxValues
	return chat.Prompt{Text: body, Menu: menu}, nil
}

// runMenu sends a menu prompt, waits for one valid interaction from the
// invoking user, and returns the chosen option indexes in menu order. An
// interaction whose values do not form a selection is ignored and the wait
// continues. The menu is disabled on every exit path.
func runMenu(ctx context.Context, d *Dialog, prompt chat.Prompt, timeout time.Duration) ([]int, error) {
	session := broker.NewSession[struct{}](d.broker.Components)
	defer session.Close()
	fromUser := broker.FromUser(d.userID)
	session.SetFilter(func(ev chat.ComponentEvent) bool {
		if !fromUser(ev) {
			return false
		}
		if _, err := menuSelection(prompt.Menu, ev.Values); err != nil {
			d.logger.Debug("ignoring menu interaction", "values", ev.Values, "err", err)
			return false
		}
		return true
	})
	prompt.Menu.Token = session.AddRegistration(struct{}{})

	ref, err := d.Send(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var chosen []int
	defer func() {
		d.closeOut(ctx, ref, closeMenu(prompt, chosen))
	}()

	session.StartTimeout(d.componentTimeout(timeout))
	sel, err := session.Wait(ctx)
	if err != nil {
		return nil, err
	}
	picked, err := menuSelection(prompt.Menu, sel.Event.Values)
	if err != nil {
		return nil, err
	}
	chosen = picked
	return chosen, nil
}

// menuSelection maps the values of a menu interaction back to option indexes.
// Unknown and repeated values are ignored.
func menuSelection(menu *chat.Menu, values []string) ([]int, error) {
	var picked []int
	for _, value := range values {
		i, err := strconv.Atoi(value)
		if err != nil || i < 0 || i >= len(menu.Options) || slices.Contains(picked, i) {
			continue
		}
		picked = append(picked, i)
	}
	slices.Sort(picked)
	if len(picked) == 0 || len(picked) < menu.MinValues {
		return nil, fmt.Errorf("%w: got %d of at least %d", ErrNoSelection, len(picked), max(menu.MinValues, 1))
	}
	if len(picked) > menu.MaxValues {
		picked = picked[:menu.MaxValues]
	}
	return picked, nil
}

func closeMenu(prompt chat.Prompt, chosen []int) chat.Prompt {
	menu := *prompt.Menu
	menu.Disabled = true
	menu.Options = make([]chat.MenuOption, len(prompt.Menu.Options))
	for i, opt := range prompt.Menu.Options {
		opt.Selected = slices.Contains(chosen, i)
		menu.Options[i] = opt
	}
	prompt.Menu = &menu
	return prompt
}
