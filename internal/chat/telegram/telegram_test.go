package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/motorpool/internal/chat"
)

// --- Mock bot ---

type mockBot struct {
	mu        sync.Mutex
	updates   chan tgbotapi.Update
	sent      []tgbotapi.Chattable
	requests  []tgbotapi.Chattable
	sendErrs  []error // consumed in order, then nil
	reqErr    error
	nextMsgID int
	stopped   bool
}

func newMockBot() *mockBot {
	return &mockBot{updates: make(chan tgbotapi.Update, 10), nextMsgID: 100}
}

func (m *mockBot) Me() tgbotapi.User {
	return tgbotapi.User{ID: 42, UserName: "motorpool_bot", IsBot: true}
}

func (m *mockBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return m.updates }

func (m *mockBot) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	m.sent = append(m.sent, c)
	m.nextMsgID++
	return tgbotapi.Message{MessageID: m.nextMsgID}, nil
}

func (m *mockBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reqErr != nil {
		return nil, m.reqErr
	}
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newConnected(t *testing.T, bot *mockBot) *Transport {
	t.Helper()
	tr, err := New(TransportOpts{Bot: bot})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return tr
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(TransportOpts{}); err == nil {
		t.Error("expected error without token")
	}
}

func TestConnect_CapturesBotID(t *testing.T) {
	tr := newConnected(t, newMockBot())
	if got := tr.BotUserID(); got != "42" {
		t.Errorf("BotUserID() = %q, want 42", got)
	}
}

func TestSend_NotConnected(t *testing.T) {
	tr, _ := New(TransportOpts{Bot: newMockBot()})
	if _, err := tr.Send(context.Background(), chat.OutboundMessage{ChatID: "1", Text: "x"}); err == nil {
		t.Error("expected not connected error")
	}
}

func TestSend_WithKeyboard(t *testing.T) {
	bot := newMockBot()
	tr := newConnected(t, bot)

	ref, err := tr.Send(context.Background(), chat.OutboundMessage{
		ChatID: "555",
		Text:   "Accept terms?",
		Buttons: [][]chat.Button{
			chat.Row(chat.Button{Label: "Accept", Data: "terms:accept"}, chat.Button{Label: "Cancel", Data: "terms:cancel"}),
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.ChatID != "555" || ref.MessageID != "101" {
		t.Errorf("ref = %+v, want 555/101", ref)
	}

	cfg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", bot.sent[0])
	}
	if cfg.ChatID != 555 {
		t.Errorf("ChatID = %d, want 555", cfg.ChatID)
	}
	kb, ok := cfg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("ReplyMarkup = %T, want inline keyboard", cfg.ReplyMarkup)
	}
	if len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("keyboard shape = %v", kb.InlineKeyboard)
	}
	if d := kb.InlineKeyboard[0][1].CallbackData; d == nil || *d != "terms:cancel" {
		t.Errorf("second button data = %v, want terms:cancel", d)
	}
}

func TestSend_InvalidChatID(t *testing.T) {
	tr := newConnected(t, newMockBot())
	if _, err := tr.Send(context.Background(), chat.OutboundMessage{ChatID: "general", Text: "x"}); err == nil {
		t.Error("expected invalid chat id error")
	}
}

func TestSend_RetriesOnRateLimit(t *testing.T) {
	bot := newMockBot()
	bot.sendErrs = []error{&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 0}}}
	tr := newConnected(t, bot)
	tr.backoff = time.Millisecond

	if _, err := tr.Send(context.Background(), chat.OutboundMessage{ChatID: "1", Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Errorf("sent = %d, want 1 after retry", len(bot.sent))
	}
}

func TestSend_NonRateLimitErrorNotRetried(t *testing.T) {
	bot := newMockBot()
	bot.sendErrs = []error{&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}
	tr := newConnected(t, bot)

	if _, err := tr.Send(context.Background(), chat.OutboundMessage{ChatID: "1", Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if len(bot.sent) != 0 {
		t.Errorf("sent = %d, want 0", len(bot.sent))
	}
}

func TestEdit_RemovesKeyboardWhenNoButtons(t *testing.T) {
	bot := newMockBot()
	tr := newConnected(t, bot)

	if err := tr.Edit(context.Background(), chat.MessageRef{ChatID: "7", MessageID: "9"}, "Claimed by Ana", nil); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	cfg, ok := bot.requests[0].(tgbotapi.EditMessageTextConfig)
	if !ok {
		t.Fatalf("request %T, want EditMessageTextConfig", bot.requests[0])
	}
	if cfg.ChatID != 7 || cfg.MessageID != 9 || cfg.Text != "Claimed by Ana" {
		t.Errorf("edit = %+v", cfg)
	}
	if cfg.ReplyMarkup != nil {
		t.Error("ReplyMarkup should be nil to drop the keyboard")
	}
}

func TestEdit_NotModifiedIsIgnored(t *testing.T) {
	bot := newMockBot()
	bot.reqErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}
	tr := newConnected(t, bot)

	if err := tr.Edit(context.Background(), chat.MessageRef{ChatID: "7", MessageID: "9"}, "same", nil); err != nil {
		t.Errorf("Edit: %v, want nil", err)
	}
}

func TestDelete(t *testing.T) {
	bot := newMockBot()
	tr := newConnected(t, bot)
	if err := tr.Delete(context.Background(), chat.MessageRef{ChatID: "7", MessageID: "9"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := bot.requests[0].(tgbotapi.DeleteMessageConfig); !ok {
		t.Errorf("request %T, want DeleteMessageConfig", bot.requests[0])
	}
}

func TestAnswerCallback_Alert(t *testing.T) {
	bot := newMockBot()
	tr := newConnected(t, bot)
	if err := tr.AnswerCallback(context.Background(), "cb1", "Already claimed", true); err != nil {
		t.Fatalf("AnswerCallback: %v", err)
	}
	cfg, ok := bot.requests[0].(tgbotapi.CallbackConfig)
	if !ok {
		t.Fatalf("request %T, want CallbackConfig", bot.requests[0])
	}
	if !cfg.ShowAlert || cfg.Text != "Already claimed" {
		t.Errorf("callback = %+v", cfg)
	}
}

func TestListen_ConvertsMessagesAndCallbacks(t *testing.T) {
	bot := newMockBot()
	tr := newConnected(t, bot)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := tr.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 3,
		From:      &tgbotapi.User{ID: 10, FirstName: "Ana", LastName: "Lima"},
		Chat:      &tgbotapi.Chat{ID: 10},
		Text:      "/request",
		Date:      int(time.Now().Unix()),
	}}
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 11, IsBot: true},
		Chat: &tgbotapi.Chat{ID: 11},
		Text: "ignored",
	}}
	bot.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb9",
		From:    &tgbotapi.User{ID: 12, UserName: "bruno"},
		Message: &tgbotapi.Message{MessageID: 50, Chat: &tgbotapi.Chat{ID: -100}},
		Data:    "claim:SOL001",
	}}

	first := recv(t, events)
	if first.Kind != chat.EventMessage || first.UserID != "10" || first.UserName != "Ana Lima" || first.Text != "/request" {
		t.Errorf("message event = %+v", first)
	}
	second := recv(t, events)
	if second.Kind != chat.EventCallback || second.Data != "claim:SOL001" || second.CallbackID != "cb9" {
		t.Errorf("callback event = %+v", second)
	}
	if second.Message != (chat.MessageRef{ChatID: "-100", MessageID: "50"}) {
		t.Errorf("callback message ref = %+v", second.Message)
	}
	if second.UserName != "bruno" {
		t.Errorf("UserName = %q, want bruno", second.UserName)
	}
}

func TestClose_StopsPolling(t *testing.T) {
	bot := newMockBot()
	tr := newConnected(t, bot)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if !bot.stopped {
		t.Error("StopReceivingUpdates not called")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := tr.Connect(context.Background()); err == nil {
		t.Error("expected Connect after Close to fail")
	}
}

func TestIsNotModified(t *testing.T) {
	if !isNotModified(errors.New("Bad Request: message is not modified: specified new message content")) {
		t.Error("want true")
	}
	if isNotModified(errors.New("chat not found")) {
		t.Error("want false")
	}
}

func recv(t *testing.T, ch <-chan chat.Event) chat.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return chat.Event{}
}
