package channels

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/neoclaw-ai/herald/internal/broker"
	"github.com/neoclaw-ai/herald/internal/chat"
	"github.com/neoclaw-ai/herald/internal/runtime"
)

func TestFormatTelegramMappings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bold",
			input:    "**bold**",
			expected: "<b>bold</b>",
		},
		{
			name:     "italic",
			input:    "*italic*",
			expected: "<i>italic</i>",
		},
		{
			name:     "strikethrough",
			input:    "~~gone~~",
			expected: "<s>gone</s>",
		},
		{
			name:     "heading",
			input:    "# Title",
			expected: "<b>Title</b>\n",
		},
		{
			name:     "inline code",
			input:    "`echo hi`",
			expected: "<code>echo hi</code>",
		},
		{
			name:     "fenced code",
			input:    "```go\nfmt.Println(\"hi\")\n```",
			expected: "<pre><code>fmt.Println(&#34;hi&#34;)\n</code></pre>",
		},
		{
			name:     "link",
			input:    "[site](https://example.com)",
			expected: `<a href="https://example.com">site</a>`,
		},
		{
			name:     "list item",
			input:    "- one\n- two",
			expected: "- one\n- two\n",
		},
		{
			name:     "escapes html",
			input:    "a < b & c",
			expected: "a &lt; b &amp; c",
		},
		{
			name:     "plain passthrough",
			input:    "hello world",
			expected: "hello world",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := formatTelegram(tt.input)
			if !ok {
				t.Fatalf("expected format success for input %q", tt.input)
			}
			if got != tt.expected {
				t.Fatalf("unexpected format output\ninput: %q\ngot: %q\nexpected: %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatTelegram_OmitsImagesAndRawHTML(t *testing.T) {
	got, ok := formatTelegram(`<b>raw</b> ![img](https://example.com/a.png)`)
	if !ok {
		t.Fatal("expected format success")
	}
	if strings.Contains(got, "<b>") || strings.Contains(got, "</b>") {
		t.Fatalf("expected raw html tags to be omitted, got %q", got)
	}
	if strings.Contains(got, "<img") {
		t.Fatalf("expected image tags to be omitted, got %q", got)
	}
}

func TestFormatTelegram_RenderErrorFallback(t *testing.T) {
	formatted, err := renderTelegram("hello", nil)
	if err == nil {
		t.Fatal("expected render error for nil parser")
	}
	if formatted != "" {
		t.Fatalf("expected empty formatted output on render failure, got %q", formatted)
	}
}

func TestTelegramSend_RendersButtonsWithHTML(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)

	ref, err := listener.Send(context.Background(), 42, chat.Prompt{
		Text: "**Confirm?**",
		Buttons: []chat.Button{
			{Label: "Yes", Token: "tok-yes"},
			{Label: "No", Token: "tok-no"},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref != (chat.MessageRef{ChatID: 42, MessageID: 1}) {
		t.Fatalf("unexpected ref %+v", ref)
	}

	sent := api.waitForSend(t)
	if sent.ParseMode != models.ParseModeHTML || sent.Text != "<b>Confirm?</b>" {
		t.Fatalf("expected HTML text, got %q mode=%q", sent.Text, sent.ParseMode)
	}
	rows := keyboardRows(t, sent.ReplyMarkup)
	if len(rows) != 1 || len(rows[0]) != 2 {
		t.Fatalf("expected one row of two buttons, got %+v", rows)
	}
	if rows[0][0].CallbackData != "b|tok-yes" || rows[0][1].CallbackData != "b|tok-no" {
		t.Fatalf("unexpected callback data %+v", rows[0])
	}
}

func TestTelegramSend_FormatterFailureFallsBackToPlain(t *testing.T) {
	original := telegramMarkdown
	telegramMarkdown = nil
	defer func() {
		telegramMarkdown = original
	}()

	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)
	writer := &telegramWriter{listener: listener, chatID: 42}
	if err := writer.WriteMessage(context.Background(), "**ok**"); err != nil {
		t.Fatalf("write message: %v", err)
	}

	sent := api.waitForSend(t)
	if sent.ParseMode != "" {
		t.Fatalf("expected empty parse mode on formatter failure, got %q", sent.ParseMode)
	}
	if sent.Text != "**ok**" {
		t.Fatalf("expected plain fallback text, got %q", sent.Text)
	}
	if sent.ReplyMarkup != nil {
		t.Fatalf("expected no keyboard for plain replies, got %+v", sent.ReplyMarkup)
	}
}

func TestTelegramSend_NotConnected(t *testing.T) {
	listener := NewTelegram(TelegramOptions{Token: "token"})
	if _, err := listener.Send(context.Background(), 42, chat.Prompt{Text: "hi"}); err == nil {
		t.Fatal("expected error before the bot connects")
	}
}

func TestTelegramButtonCallback_ResolvesSession(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)

	session := broker.NewSession[int](listener.broker.Components)
	defer session.Close()
	token := session.AddRegistration(7)
	session.StartTimeout(time.Second)

	listener.onButtonCallback(context.Background(), nil, callbackUpdate("cb-1", 111, 42, 5, telegramButtonPrefix+token))

	sel, err := session.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if sel.ID != 7 || sel.Event.UserID != "111" || sel.Event.Ref != (chat.MessageRef{ChatID: 42, MessageID: 5}) {
		t.Fatalf("unexpected selection %+v", sel)
	}
	if got := api.answeredIDs(); !slices.Equal(got, []string{"cb-1"}) {
		t.Fatalf("expected callback answered once, got %v", got)
	}
}

func TestTelegramOptionCallback_SingleSelectPublishesValue(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)

	session := broker.NewSession[struct{}](listener.broker.Components)
	defer session.Close()
	menu, _ := chat.NewMenu(session.AddRegistration(struct{}{}), "", []chat.MenuOption{
		{Label: "Spam", Value: "0"},
		{Label: "Abuse", Value: "1"},
	})
	ref, err := listener.Send(context.Background(), 42, chat.Prompt{Text: "Why?", Menu: menu})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	rows := keyboardRows(t, api.waitForSend(t).ReplyMarkup)
	if len(rows) != 2 {
		t.Fatalf("expected one row per option, got %+v", rows)
	}
	session.StartTimeout(time.Second)

	listener.onOptionCallback(context.Background(), nil, callbackUpdate("cb-1", 111, ref.ChatID, ref.MessageID, rows[1][0].CallbackData))

	sel, err := session.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !slices.Equal(sel.Event.Values, []string{"1"}) {
		t.Fatalf("expected value 1, got %v", sel.Event.Values)
	}
}

func TestTelegramOptionCallback_MultiSelectTogglesUntilDone(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)

	session := broker.NewSession[struct{}](listener.broker.Components)
	defer session.Close()
	token := session.AddRegistration(struct{}{})
	menu, _ := chat.NewMenu(token, "", []chat.MenuOption{
		{Label: "Welcome", Value: "0"},
		{Label: "Digest", Value: "1"},
		{Label: "Slowmode", Value: "2"},
	})
	menu.MinValues, menu.MaxValues = 1, 2
	ref, err := listener.Send(context.Background(), 42, chat.Prompt{Text: "Toggle", Menu: menu})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	rows := keyboardRows(t, api.waitForSend(t).ReplyMarkup)
	if len(rows) != 4 || rows[3][0].CallbackData != telegramDonePrefix+token {
		t.Fatalf("expected options plus done row, got %+v", rows)
	}
	session.StartTimeout(time.Second)

	ctx := context.Background()
	listener.onDoneCallback(ctx, nil, callbackUpdate("cb-0", 111, 42, ref.MessageID, telegramDonePrefix+token))
	if got := api.lastAnswerText(); got != "Pick at least 1." {
		t.Fatalf("expected min values hint, got %q", got)
	}

	listener.onOptionCallback(ctx, nil, callbackUpdate("cb-1", 111, 42, ref.MessageID, rows[2][0].CallbackData))
	listener.onOptionCallback(ctx, nil, callbackUpdate("cb-2", 111, 42, ref.MessageID, rows[0][0].CallbackData))
	listener.onOptionCallback(ctx, nil, callbackUpdate("cb-3", 111, 42, ref.MessageID, rows[1][0].CallbackData))
	if got := api.lastAnswerText(); got != "Pick at most 2." {
		t.Fatalf("expected max values hint, got %q", got)
	}
	if session.Outcome().Resolved() {
		t.Fatal("expected toggles not to resolve the session")
	}
	redrawn := api.lastReplyMarkup(t)
	if !strings.HasPrefix(redrawn[0][0].Text, telegramSelectedMark) || !strings.HasPrefix(redrawn[2][0].Text, telegramSelectedMark) {
		t.Fatalf("expected toggled options marked, got %+v", redrawn)
	}

	listener.onDoneCallback(ctx, nil, callbackUpdate("cb-4", 111, 42, ref.MessageID, telegramDonePrefix+token))
	sel, err := session.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !slices.Equal(sel.Event.Values, []string{"2", "0"}) {
		t.Fatalf("expected picks in toggle order, got %v", sel.Event.Values)
	}
}

func TestTelegramOptionCallback_ExpiredMenu(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)

	listener.onOptionCallback(context.Background(), nil, callbackUpdate("cb-1", 111, 42, 5, "m|gone|0"))
	if got := api.lastAnswerText(); got != "This menu has expired." {
		t.Fatalf("expected expired hint, got %q", got)
	}
	if got := listener.broker.Components.Sessions(); got != 0 {
		t.Fatalf("unexpected sessions %d", got)
	}
}

func TestTelegramEdit_DisabledMenuIsForgotten(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)

	menu, _ := chat.NewMenu("tok", "", []chat.MenuOption{{Label: "A", Value: "0"}})
	ref, err := listener.Send(context.Background(), 42, chat.Prompt{Text: "Pick", Menu: menu})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := listener.trackedMenus(); got != 1 {
		t.Fatalf("expected tracked menu, got %d", got)
	}

	closed := *menu
	closed.Disabled = true
	closed.Options = []chat.MenuOption{{Label: "A", Value: "0", Selected: true}}
	api.editErr = errors.New("Bad Request: message is not modified")
	if err := listener.Edit(context.Background(), ref, chat.Prompt{Text: "Pick", Menu: &closed}); err != nil {
		t.Fatalf("expected not-modified edit to be ignored, got %v", err)
	}
	if got := listener.trackedMenus(); got != 0 {
		t.Fatalf("expected menu forgotten after close-out, got %d", got)
	}

	edit := api.lastEdit(t)
	rows := keyboardRows(t, edit.ReplyMarkup)
	if rows[0][0].CallbackData != telegramNoopData || rows[0][0].Text != telegramSelectedMark+"A" {
		t.Fatalf("expected inert selected option, got %+v", rows)
	}
}

func TestTelegramReactAndDelete(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)
	ref := chat.MessageRef{ChatID: 42, MessageID: 9}

	if err := listener.React(context.Background(), ref, []string{"🔥", "👍"}); err != nil {
		t.Fatalf("react: %v", err)
	}
	api.mu.Lock()
	reaction := api.reactions[0]
	api.mu.Unlock()
	if len(reaction.Reaction) != 1 || reaction.Reaction[0].ReactionTypeEmoji.Emoji != "🔥" {
		t.Fatalf("expected first glyph attached, got %+v", reaction.Reaction)
	}

	api.deleteErr = errors.New("message can't be deleted")
	if err := listener.Delete(context.Background(), ref); err == nil {
		t.Fatal("expected delete error")
	}
}

func TestTelegramInboundMessage_RoutesCommandsAndAnswers(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)
	sink := &recordingSink{}

	wait := listener.broker.Messages.Register(broker.FromAuthorIn("111", 42), time.Second)

	listener.handleUpdate(context.Background(), sink, messageUpdate(111, 42, 10, "/Rank@herald_bot alice"))
	listener.handleUpdate(context.Background(), sink, messageUpdate(111, 42, 11, "alice"))

	got, err := wait.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.Text != "alice" || got.Ref.MessageID != 11 {
		t.Fatalf("expected plain reply routed to broker, got %+v", got)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.commands) != 1 {
		t.Fatalf("expected one command, got %d", len(sink.commands))
	}
	cmd := sink.commands[0]
	if cmd.Name != "rank" || cmd.Args != "alice" || cmd.UserID != "111" || cmd.ChatID != 42 {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestTelegramInboundMessage_IgnoresBots(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)
	sink := &recordingSink{}

	update := messageUpdate(222, 42, 10, "/help")
	update.Message.From.IsBot = true
	listener.handleUpdate(context.Background(), sink, update)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.commands) != 0 {
		t.Fatalf("expected bot messages to be ignored, got %+v", sink.commands)
	}
}

func TestTelegramReaction_PublishesOnlyAddedGlyphs(t *testing.T) {
	api := newMockTelegramAPI()
	listener := newTestTelegram(t, api)
	ref := chat.MessageRef{ChatID: 42, MessageID: 9}

	wait := listener.broker.Reactions.Register(broker.ReactionBy(ref, "111"), time.Second)
	listener.handleUpdate(context.Background(), &recordingSink{}, &models.Update{
		MessageReaction: &models.MessageReactionUpdated{
			Chat:        models.Chat{ID: 42},
			MessageID:   9,
			User:        &models.User{ID: 111},
			OldReaction: []models.ReactionType{emojiReaction("👍")},
			NewReaction: []models.ReactionType{emojiReaction("👍"), emojiReaction("🔥")},
		},
	})

	got, err := wait.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.Emoji != "🔥" {
		t.Fatalf("expected added glyph, got %q", got.Emoji)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  string
		ok    bool
	}{
		{input: "/help", name: "help", ok: true},
		{input: "  /Report@herald_bot  spam bot ", name: "report", args: "spam bot", ok: true},
		{input: "hello", ok: false},
		{input: "/", ok: false},
		{input: "/@bot", ok: false},
	}
	for _, tt := range tests {
		cmd, ok := parseCommand(tt.input)
		if ok != tt.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tt.input, tt.ok, ok)
		}
		if !ok {
			continue
		}
		if cmd.Name != tt.name || cmd.Args != tt.args {
			t.Fatalf("%q: unexpected command %+v", tt.input, cmd)
		}
	}
}

func TestParseOptionData(t *testing.T) {
	token, index, ok := parseOptionData("m|abc|12")
	if !ok || token != "abc" || index != 12 {
		t.Fatalf("unexpected parse %q %d %v", token, index, ok)
	}
	for _, bad := range []string{"b|abc|1", "m|abc", "m||1", "m|abc|-1", "m|abc|x"} {
		if _, _, ok := parseOptionData(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestMessagePreview_TruncatesToLimit(t *testing.T) {
	if got := messagePreview("héllo world", 5); got != "héllo" {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := messagePreview("hi", 0); got != "" {
		t.Fatalf("expected empty preview for zero limit, got %q", got)
	}
}

type recordingSink struct {
	mu       sync.Mutex
	commands []*runtime.Command
}

func (s *recordingSink) Enqueue(_ context.Context, cmd *runtime.Command, _ runtime.ResponseWriter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return nil
}

type mockTelegramAPI struct {
	mu        sync.Mutex
	nextID    int
	sent      chan *bot.SendMessageParams
	edits     []*bot.EditMessageTextParams
	markups   []*bot.EditMessageReplyMarkupParams
	reactions []*bot.SetMessageReactionParams
	answers   []*bot.AnswerCallbackQueryParams

	editErr   error
	deleteErr error
}

func newMockTelegramAPI() *mockTelegramAPI {
	return &mockTelegramAPI{sent: make(chan *bot.SendMessageParams, 16)}
}

func newTestTelegram(t *testing.T, api *mockTelegramAPI) *TelegramListener {
	t.Helper()
	b := broker.New(broker.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	t.Cleanup(func() {
		cancel()
		b.Shutdown()
	})

	listener := NewTelegram(TelegramOptions{Token: "token", Broker: b})
	listener.sendMessage = api.sendMessage
	listener.editMessageText = api.editText
	listener.editMessageReplyMarkup = api.editReplyMarkup
	listener.setMessageReaction = api.setReaction
	listener.deleteMessage = api.deleteMessage
	listener.answerCallbackQuery = api.answerCallback
	return listener
}

func (m *mockTelegramAPI) sendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	m.sent <- params
	return &models.Message{ID: id, Chat: models.Chat{ID: chatIDFromAny(params.ChatID)}}, nil
}

func (m *mockTelegramAPI) editText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, params)
	return &models.Message{ID: params.MessageID}, m.editErr
}

func (m *mockTelegramAPI) editReplyMarkup(_ context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markups = append(m.markups, params)
	return &models.Message{ID: params.MessageID}, nil
}

func (m *mockTelegramAPI) setReaction(_ context.Context, params *bot.SetMessageReactionParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, params)
	return true, nil
}

func (m *mockTelegramAPI) deleteMessage(context.Context, *bot.DeleteMessageParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteErr == nil, m.deleteErr
}

func (m *mockTelegramAPI) answerCallback(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, params)
	return true, nil
}

func (m *mockTelegramAPI) waitForSend(t *testing.T) *bot.SendMessageParams {
	t.Helper()
	select {
	case params := <-m.sent:
		return params
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send")
		return nil
	}
}

func (m *mockTelegramAPI) answeredIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.answers))
	for _, a := range m.answers {
		ids = append(ids, a.CallbackQueryID)
	}
	return ids
}

func (m *mockTelegramAPI) lastAnswerText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.answers) == 0 {
		return ""
	}
	return m.answers[len(m.answers)-1].Text
}

func (m *mockTelegramAPI) lastEdit(t *testing.T) *bot.EditMessageTextParams {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 {
		t.Fatal("expected an edit")
	}
	return m.edits[len(m.edits)-1]
}

func (m *mockTelegramAPI) lastReplyMarkup(t *testing.T) [][]models.InlineKeyboardButton {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.markups) == 0 {
		t.Fatal("expected a keyboard redraw")
	}
	return keyboardRows(t, m.markups[len(m.markups)-1].ReplyMarkup)
}

func keyboardRows(t *testing.T, markup models.ReplyMarkup) [][]models.InlineKeyboardButton {
	t.Helper()
	keyboard, ok := markup.(*models.InlineKeyboardMarkup)
	if !ok || keyboard == nil {
		t.Fatalf("expected inline keyboard, got %T", markup)
	}
	return keyboard.InlineKeyboard
}

func callbackUpdate(id string, userID, chatID int64, messageID int, data string) *models.Update {
	return &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   id,
			From: models.User{ID: userID},
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{ID: messageID, Chat: models.Chat{ID: chatID}},
			},
			Data: data,
		},
	}
}

func messageUpdate(userID, chatID int64, messageID int, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			ID:   messageID,
			From: &models.User{ID: userID, Username: "alice"},
			Chat: models.Chat{ID: chatID},
			Text: text,
		},
	}
}

func emojiReaction(emoji string) models.ReactionType {
	return models.ReactionType{
		Type:              models.ReactionTypeTypeEmoji,
		ReactionTypeEmoji: &models.ReactionTypeEmoji{Type: models.ReactionTypeTypeEmoji, Emoji: emoji},
	}
}

func chatIDFromAny(chatID any) int64 {
	switch v := chatID.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}
