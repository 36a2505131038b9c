package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
	"github.com/neoclaw-ai/herald/internal/logging"
	"github.com/neoclaw-ai/herald/internal/runtime"
)

// Callback data layouts. Telegram caps callback data at 64 bytes, which a
// prefix, a 36 byte token, and a two digit option index fit into.
const (
	telegramButtonPrefix = "b|"
	telegramOptionPrefix = "m|"
	telegramDonePrefix   = "d|"
	telegramNoopData     = "x"

	telegramSelectedMark   = "✅ "
	telegramButtonsPerRow  = 3
	telegramNotModifiedErr = "message is not modified"
)

type telegramSendMessageFunc func(context.Context, *bot.SendMessageParams) (*models.Message, error)
type telegramEditMessageTextFunc func(context.Context, *bot.EditMessageTextParams) (*models.Message, error)
type telegramEditMessageReplyMarkupFunc func(context.Context, *bot.EditMessageReplyMarkupParams) (*models.Message, error)
type telegramSetMessageReactionFunc func(context.Context, *bot.SetMessageReactionParams) (bool, error)
type telegramDeleteMessageFunc func(context.Context, *bot.DeleteMessageParams) (bool, error)
type telegramAnswerCallbackQueryFunc func(context.Context, *bot.AnswerCallbackQueryParams) (bool, error)

// TelegramOptions configures a TelegramListener.
type TelegramOptions struct {
	Token       string
	PollTimeout time.Duration
	Broker      *broker.Broker
}

// TelegramListener feeds Telegram updates into the broker and the command
// sink, and sends dialog prompts back to Telegram.
type TelegramListener struct {
	token       string
	pollTimeout time.Duration
	broker      *broker.Broker

	sendMessage            telegramSendMessageFunc
	editMessageText        telegramEditMessageTextFunc
	editMessageReplyMarkup telegramEditMessageReplyMarkupFunc
	setMessageReaction     telegramSetMessageReactionFunc
	deleteMessage          telegramDeleteMessageFunc
	answerCallbackQuery    telegramAnswerCallbackQueryFunc

	menuMu sync.Mutex
	menus  map[string]*telegramMenu
}

// telegramMenu tracks a live select menu, which Telegram renders as one
// button per option.
type telegramMenu struct {
	ref  chat.MessageRef
	menu chat.Menu
	// picked holds in-progress multi-select choices per user.
	picked map[string][]int
}

var (
	_ runtime.Listener = (*TelegramListener)(nil)
	_ chat.Transport   = (*TelegramListener)(nil)
)

// NewTelegram creates a Telegram listener.
func NewTelegram(opts TelegramOptions) *TelegramListener {
	return &TelegramListener{
		token:       opts.Token,
		pollTimeout: opts.PollTimeout,
		broker:      opts.Broker,
		menus:       make(map[string]*telegramMenu),
	}
}

// Listen starts long-polling Telegram until ctx is done. Slash commands go to
// sink; other messages, reactions, and button clicks go to the broker.
func (t *TelegramListener) Listen(ctx context.Context, sink runtime.CommandSink) error {
	if sink == nil {
		return errors.New("command sink is required")
	}
	if t.broker == nil {
		return errors.New("broker is required")
	}
	if strings.TrimSpace(t.token) == "" {
		return errors.New("telegram token is required")
	}

	defaultHandler := func(updateCtx context.Context, _ *bot.Bot, update *models.Update) {
		t.handleUpdate(updateCtx, sink, update)
	}
	b, err := t.createTelegramBot(defaultHandler)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("fetch telegram bot profile: %w", err)
	}
	logging.Logger().Info(fmt.Sprintf("Connected to Telegram Bot @%s", strings.TrimSpace(me.Username)))

	t.sendMessage = b.SendMessage
	t.editMessageText = b.EditMessageText
	t.editMessageReplyMarkup = b.EditMessageReplyMarkup
	t.setMessageReaction = b.SetMessageReaction
	t.deleteMessage = b.DeleteMessage
	t.answerCallbackQuery = b.AnswerCallbackQuery

	go b.Start(ctx)
	<-ctx.Done()
	return nil
}

// Send implements chat.Transport.
func (t *TelegramListener) Send(ctx context.Context, chatID int64, prompt chat.Prompt) (chat.MessageRef, error) {
	send := t.sendMessage
	if send == nil {
		return chat.MessageRef{}, errors.New("telegram bot is not connected")
	}

	params := &bot.SendMessageParams{ChatID: chatID}
	params.Text, params.ParseMode = telegramText(prompt.Text)
	if markup := telegramKeyboard(prompt, nil); markup != nil {
		params.ReplyMarkup = markup
	}
	msg, err := send(ctx, params)
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("send telegram message: %w", err)
	}
	if msg == nil {
		return chat.MessageRef{}, errors.New("send telegram message: empty response")
	}

	ref := chat.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}
	if ref.ChatID == 0 {
		ref.ChatID = chatID
	}
	t.trackMenu(ref, prompt.Menu)
	return ref, nil
}

// Edit implements chat.Transport.
func (t *TelegramListener) Edit(ctx context.Context, ref chat.MessageRef, prompt chat.Prompt) error {
	edit := t.editMessageText
	if edit == nil {
		return errors.New("telegram bot is not connected")
	}

	params := &bot.EditMessageTextParams{ChatID: ref.ChatID, MessageID: ref.MessageID}
	params.Text, params.ParseMode = telegramText(prompt.Text)
	if markup := telegramKeyboard(prompt, nil); markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := edit(ctx, params); err != nil && !strings.Contains(err.Error(), telegramNotModifiedErr) {
		return fmt.Errorf("edit telegram message: %w", err)
	}

	if prompt.Menu == nil || prompt.Menu.Disabled {
		t.forgetMenus(ref)
	} else {
		t.trackMenu(ref, prompt.Menu)
	}
	return nil
}

// React implements chat.Transport. Telegram lets a bot set a single reaction
// per message, so only the first glyph is attached; users may still react
// with any of the offered glyphs.
func (t *TelegramListener) React(ctx context.Context, ref chat.MessageRef, emojis []string) error {
	if len(emojis) == 0 {
		return nil
	}
	react := t.setMessageReaction
	if react == nil {
		return errors.New("telegram bot is not connected")
	}
	_, err := react(ctx, &bot.SetMessageReactionParams{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		Reaction: []models.ReactionType{{
			Type: models.ReactionTypeTypeEmoji,
			ReactionTypeEmoji: &models.ReactionTypeEmoji{
				Type:  models.ReactionTypeTypeEmoji,
				Emoji: emojis[0],
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("set telegram reaction: %w", err)
	}
	return nil
}

// Delete implements chat.Transport.
func (t *TelegramListener) Delete(ctx context.Context, ref chat.MessageRef) error {
	t.forgetMenus(ref)
	del := t.deleteMessage
	if del == nil {
		return errors.New("telegram bot is not connected")
	}
	if _, err := del(ctx, &bot.DeleteMessageParams{ChatID: ref.ChatID, MessageID: ref.MessageID}); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

func (t *TelegramListener) handleUpdate(ctx context.Context, sink runtime.CommandSink, update *models.Update) {
	if update == nil {
		return
	}
	switch {
	case update.Message != nil:
		t.handleInboundMessage(ctx, sink, update.Message)
	case update.MessageReaction != nil:
		t.handleReaction(update.MessageReaction)
	}
}

func (t *TelegramListener) handleInboundMessage(ctx context.Context, sink runtime.CommandSink, msg *models.Message) {
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}

	userID := strconv.FormatInt(msg.From.ID, 10)
	username := strings.TrimSpace(msg.From.Username)
	logging.Logger().Debug(
		"telegram inbound message",
		"chat_id", msg.Chat.ID,
		"user_id", userID,
		"username", username,
		"text", messagePreview(msg.Text, 100),
	)

	if cmd, ok := parseCommand(msg.Text); ok {
		cmd.ChatID = msg.Chat.ID
		cmd.UserID = userID
		cmd.Username = username
		writer := &telegramWriter{listener: t, chatID: msg.Chat.ID}
		if err := sink.Enqueue(ctx, cmd, writer); err != nil {
			logging.Logger().Warn("telegram enqueue failed", "user_id", userID, "command", cmd.Name, "err", err)
		}
		return
	}

	t.broker.Messages.Publish(chat.MessageEvent{
		Ref:      chat.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID},
		AuthorID: userID,
		ChatID:   msg.Chat.ID,
		Text:     msg.Text,
	})
}

// handleReaction publishes every emoji the user added in this update.
func (t *TelegramListener) handleReaction(update *models.MessageReactionUpdated) {
	if update.User == nil {
		return
	}
	old := reactionEmojis(update.OldReaction)
	for _, emoji := range reactionEmojis(update.NewReaction) {
		if slices.Contains(old, emoji) {
			continue
		}
		t.broker.Reactions.Publish(chat.ReactionEvent{
			Ref:    chat.MessageRef{ChatID: update.Chat.ID, MessageID: update.MessageID},
			UserID: strconv.FormatInt(update.User.ID, 10),
			ChatID: update.Chat.ID,
			Emoji:  emoji,
		})
	}
}

func reactionEmojis(reactions []models.ReactionType) []string {
	var out []string
	for _, r := range reactions {
		if r.ReactionTypeEmoji != nil {
			out = append(out, r.ReactionTypeEmoji.Emoji)
		}
	}
	return out
}

func (t *TelegramListener) onButtonCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		return
	}
	callback := update.CallbackQuery
	t.answerCallback(ctx, callback, "")

	token := strings.TrimPrefix(callback.Data, telegramButtonPrefix)
	t.publishComponent(callback, token, nil)
}

func (t *TelegramListener) onOptionCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		return
	}
	callback := update.CallbackQuery
	token, index, ok := parseOptionData(callback.Data)
	if !ok {
		t.answerCallback(ctx, callback, "")
		return
	}

	userID := strconv.FormatInt(callback.From.ID, 10)
	t.menuMu.Lock()
	state, found := t.menus[token]
	if !found || index >= len(state.menu.Options) {
		t.menuMu.Unlock()
		t.answerCallback(ctx, callback, "This menu has expired.")
		return
	}
	if !state.menu.Multi() {
		value := state.menu.Options[index].Value
		t.menuMu.Unlock()
		t.answerCallback(ctx, callback, "")
		t.publishComponent(callback, token, []string{value})
		return
	}

	picked := state.picked[userID]
	if i := slices.Index(picked, index); i >= 0 {
		picked = slices.Delete(picked, i, i+1)
	} else if len(picked) >= state.menu.MaxValues {
		t.menuMu.Unlock()
		t.answerCallback(ctx, callback, fmt.Sprintf("Pick at most %d.", state.menu.MaxValues))
		return
	} else {
		picked = append(picked, index)
	}
	state.picked[userID] = picked
	prompt := chat.Prompt{Menu: &state.menu}
	ref := state.ref
	picks := slices.Clone(picked)
	t.menuMu.Unlock()

	t.answerCallback(ctx, callback, "")
	t.redrawKeyboard(ctx, ref, prompt, picks)
}

func (t *TelegramListener) onDoneCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		return
	}
	callback := update.CallbackQuery
	token := strings.TrimPrefix(callback.Data, telegramDonePrefix)
	userID := strconv.FormatInt(callback.From.ID, 10)

	t.menuMu.Lock()
	state, found := t.menus[token]
	if !found {
		t.menuMu.Unlock()
		t.answerCallback(ctx, callback, "This menu has expired.")
		return
	}
	picked := slices.Clone(state.picked[userID])
	minValues := max(state.menu.MinValues, 1)
	values := make([]string, 0, len(picked))
	for _, i := range picked {
		values = append(values, state.menu.Options[i].Value)
	}
	t.menuMu.Unlock()

	if len(values) < minValues {
		t.answerCallback(ctx, callback, fmt.Sprintf("Pick at least %d.", minValues))
		return
	}
	t.answerCallback(ctx, callback, "")
	t.publishComponent(callback, token, values)
}

func (t *TelegramListener) onNoopCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		return
	}
	t.answerCallback(ctx, update.CallbackQuery, "")
}

func (t *TelegramListener) publishComponent(callback *models.CallbackQuery, token string, values []string) {
	if token == "" {
		return
	}
	chatID, messageID, _ := callbackMessageLocation(callback)
	t.broker.Components.Publish(chat.ComponentEvent{
		Token:  token,
		UserID: strconv.FormatInt(callback.From.ID, 10),
		ChatID: chatID,
		Ref:    chat.MessageRef{ChatID: chatID, MessageID: messageID},
		Values: values,
	})
}

func (t *TelegramListener) answerCallback(ctx context.Context, callback *models.CallbackQuery, text string) {
	answer := t.answerCallbackQuery
	if answer == nil {
		return
	}
	if _, err := answer(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
		Text:            text,
	}); err != nil {
		logging.Logger().Warn("failed to answer callback query", "err", err)
	}
}

func (t *TelegramListener) redrawKeyboard(ctx context.Context, ref chat.MessageRef, prompt chat.Prompt, picked []int) {
	edit := t.editMessageReplyMarkup
	if edit == nil {
		return
	}
	params := &bot.EditMessageReplyMarkupParams{ChatID: ref.ChatID, MessageID: ref.MessageID}
	if markup := telegramKeyboard(prompt, picked); markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := edit(ctx, params); err != nil && !strings.Contains(err.Error(), telegramNotModifiedErr) {
		logging.Logger().Warn("failed to redraw menu", "chat_id", ref.ChatID, "message_id", ref.MessageID, "err", err)
	}
}

func (t *TelegramListener) trackMenu(ref chat.MessageRef, menu *chat.Menu) {
	if menu == nil || menu.Token == "" || menu.Disabled {
		return
	}
	t.menuMu.Lock()
	defer t.menuMu.Unlock()
	state, ok := t.menus[menu.Token]
	if !ok {
		state = &telegramMenu{picked: make(map[string][]int)}
		t.menus[menu.Token] = state
	}
	state.ref = ref
	state.menu = *menu
	state.menu.Options = slices.Clone(menu.Options)
}

func (t *TelegramListener) forgetMenus(ref chat.MessageRef) {
	t.menuMu.Lock()
	defer t.menuMu.Unlock()
	for token, state := range t.menus {
		if state.ref == ref {
			delete(t.menus, token)
		}
	}
}

func (t *TelegramListener) trackedMenus() int {
	t.menuMu.Lock()
	defer t.menuMu.Unlock()
	return len(t.menus)
}

func (t *TelegramListener) createTelegramBot(defaultHandler bot.HandlerFunc) (*bot.Bot, error) {
	options := []bot.Option{
		bot.WithDefaultHandler(defaultHandler),
		bot.WithAllowedUpdates(bot.AllowedUpdates{"message", "callback_query", "message_reaction"}),
		bot.WithCallbackQueryDataHandler(telegramButtonPrefix, bot.MatchTypePrefix, t.onButtonCallback),
		bot.WithCallbackQueryDataHandler(telegramOptionPrefix, bot.MatchTypePrefix, t.onOptionCallback),
		bot.WithCallbackQueryDataHandler(telegramDonePrefix, bot.MatchTypePrefix, t.onDoneCallback),
		bot.WithCallbackQueryDataHandler(telegramNoopData, bot.MatchTypeExact, t.onNoopCallback),
	}
	if t.pollTimeout > 0 {
		options = append(options, bot.WithHTTPClient(t.pollTimeout, &http.Client{Timeout: t.pollTimeout + 10*time.Second}))
	}
	return bot.New(strings.TrimSpace(t.token), options...)
}

type telegramWriter struct {
	listener *TelegramListener
	chatID   int64
}

// WriteMessage sends a markdown reply to the invoking chat.
func (w *telegramWriter) WriteMessage(ctx context.Context, text string) error {
	if w == nil || w.listener == nil {
		return errors.New("telegram sender is not configured")
	}
	_, err := w.listener.Send(ctx, w.chatID, chat.Prompt{Text: text})
	return err
}

// telegramText formats markdown for the HTML parse mode, falling back to
// plain text when rendering fails.
func telegramText(text string) (string, models.ParseMode) {
	if formatted, ok := formatTelegram(text); ok && strings.TrimSpace(formatted) != "" {
		return formatted, models.ParseModeHTML
	}
	return text, ""
}

// telegramKeyboard renders the prompt's buttons and menu as an inline
// keyboard. picked marks in-progress multi-select choices.
func telegramKeyboard(prompt chat.Prompt, picked []int) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton

	var row []models.InlineKeyboardButton
	for _, b := range prompt.Buttons {
		data := telegramButtonPrefix + b.Token
		if b.Disabled || b.Token == "" {
			data = telegramNoopData
		}
		row = append(row, models.InlineKeyboardButton{Text: markSelected(b.Label, b.Selected), CallbackData: data})
		if len(row) == telegramButtonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	if menu := prompt.Menu; menu != nil {
		for i, opt := range menu.Options {
			data := telegramOptionPrefix + menu.Token + "|" + strconv.Itoa(i)
			if menu.Disabled || menu.Token == "" {
				data = telegramNoopData
			}
			label := opt.Label
			if opt.Description != "" {
				label += " (" + opt.Description + ")"
			}
			selected := opt.Selected || slices.Contains(picked, i)
			rows = append(rows, []models.InlineKeyboardButton{{Text: markSelected(label, selected), CallbackData: data}})
		}
		if menu.Multi() && !menu.Disabled && menu.Token != "" {
			rows = append(rows, []models.InlineKeyboardButton{{Text: "Done", CallbackData: telegramDonePrefix + menu.Token}})
		}
	}

	if len(rows) == 0 {
		return nil
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func markSelected(label string, selected bool) string {
	if selected {
		return telegramSelectedMark + label
	}
	return label
}

func parseOptionData(data string) (string, int, bool) {
	rest, ok := strings.CutPrefix(data, telegramOptionPrefix)
	if !ok {
		return "", 0, false
	}
	token, rawIndex, ok := strings.Cut(rest, "|")
	if !ok || token == "" {
		return "", 0, false
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil || index < 0 {
		return "", 0, false
	}
	return token, index, true
}

// parseCommand parses "/name@bot args" into a command.
func parseCommand(text string) (*runtime.Command, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return nil, false
	}
	head, args, _ := strings.Cut(trimmed[1:], " ")
	name, _, _ := strings.Cut(head, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, false
	}
	return &runtime.Command{
		Name: name,
		Args: strings.TrimSpace(args),
		Text: trimmed,
	}, true
}

func callbackMessageLocation(callback *models.CallbackQuery) (int64, int, bool) {
	if callback == nil {
		return 0, 0, false
	}
	if callback.Message.Message != nil {
		return callback.Message.Message.Chat.ID, callback.Message.Message.ID, true
	}
	if callback.Message.InaccessibleMessage != nil {
		return callback.Message.InaccessibleMessage.Chat.ID, callback.Message.InaccessibleMessage.MessageID, true
	}
	return 0, 0, false
}

func messagePreview(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
