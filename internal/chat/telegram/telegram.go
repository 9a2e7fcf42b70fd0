// Package telegram implements the chat Transport for the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/logging"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// pollTimeout is the long-poll timeout in seconds.
	pollTimeout = 30
)

// botAPI abstracts the Telegram API methods we use, enabling test mocks.
type botAPI interface {
	Me() tgbotapi.User
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// realBot wraps *tgbotapi.BotAPI to implement botAPI.
type realBot struct {
	api *tgbotapi.BotAPI
}

func (r *realBot) Me() tgbotapi.User { return r.api.Self }
func (r *realBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return r.api.GetUpdatesChan(config)
}
func (r *realBot) StopReceivingUpdates() { r.api.StopReceivingUpdates() }
func (r *realBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return r.api.Send(c)
}
func (r *realBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return r.api.Request(c)
}

// Transport implements chat.Transport for Telegram.
type Transport struct {
	bot        botAPI
	token      string
	botUserID  string
	log        *zap.Logger
	mu         sync.Mutex
	connected  bool
	closed     bool
	inbound    chan chat.Event
	cancelFunc context.CancelFunc
	backoff    time.Duration
}

// TransportOpts holds parameters for creating a Telegram Transport.
type TransportOpts struct {
	Token  string
	Logger *zap.Logger
	// For testing: inject a mock bot instead of the real Telegram API.
	Bot botAPI
}

// New creates a Telegram Transport.
func New(opts TransportOpts) (*Transport, error) {
	if opts.Bot == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	return &Transport{
		bot:     opts.Bot,
		token:   opts.Token,
		log:     logging.OrNop(opts.Logger),
		inbound: make(chan chat.Event, 100),
		backoff: time.Second,
	}, nil
}

// Connect authenticates the bot token.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("telegram: transport already closed")
	}
	if t.connected {
		return nil
	}
	if t.bot == nil {
		api, err := tgbotapi.NewBotAPI(t.token)
		if err != nil {
			return fmt.Errorf("telegram: connect: %w", err)
		}
		t.bot = &realBot{api: api}
	}
	me := t.bot.Me()
	t.botUserID = strconv.FormatInt(me.ID, 10)
	t.log.Info("telegram connected", zap.String("bot", me.UserName), zap.String("bot_id", t.botUserID))
	t.connected = true
	return nil
}

// Listen starts long polling and returns the inbound event channel.
func (t *Transport) Listen(ctx context.Context) (<-chan chat.Event, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("telegram: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	t.cancelFunc = cancel
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := t.bot.GetUpdatesChan(u)
	go t.pump(listenCtx, updates)
	return t.inbound, nil
}

func (t *Transport) pump(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			evt, ok := t.convert(upd)
			if !ok {
				continue
			}
			select {
			case t.inbound <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

// convert maps an update to an Event. Updates other than messages and
// callback queries are dropped.
func (t *Transport) convert(upd tgbotapi.Update) (chat.Event, bool) {
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		evt := chat.Event{
			Kind:       chat.EventCallback,
			Platform:   "telegram",
			UserID:     strconv.FormatInt(cq.From.ID, 10),
			UserName:   displayName(cq.From),
			CallbackID: cq.ID,
			Data:       cq.Data,
			Timestamp:  time.Now(),
		}
		if cq.Message != nil {
			evt.ChatID = strconv.FormatInt(cq.Message.Chat.ID, 10)
			evt.Message = chat.MessageRef{ChatID: evt.ChatID, MessageID: strconv.Itoa(cq.Message.MessageID)}
		}
		return evt, true
	case upd.Message != nil:
		m := upd.Message
		if m.From == nil || m.From.IsBot {
			return chat.Event{}, false
		}
		chatID := strconv.FormatInt(m.Chat.ID, 10)
		return chat.Event{
			Kind:      chat.EventMessage,
			Platform:  "telegram",
			ChatID:    chatID,
			UserID:    strconv.FormatInt(m.From.ID, 10),
			UserName:  displayName(m.From),
			Text:      m.Text,
			Message:   chat.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(m.MessageID)},
			Timestamp: m.Time(),
		}, true
	}
	return chat.Event{}, false
}

// Send posts a message with an optional inline keyboard.
func (t *Transport) Send(ctx context.Context, msg chat.OutboundMessage) (chat.MessageRef, error) {
	if err := t.ready(); err != nil {
		return chat.MessageRef{}, err
	}
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return chat.MessageRef{}, err
	}
	cfg := tgbotapi.NewMessage(chatID, msg.Text)
	if len(msg.Buttons) > 0 {
		cfg.ReplyMarkup = keyboard(msg.Buttons)
	}

	var sent tgbotapi.Message
	err = t.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = t.bot.Send(cfg)
		return sendErr
	})
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("telegram: send message: %w", err)
	}
	return chat.MessageRef{ChatID: msg.ChatID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Edit replaces a message's text and keyboard.
func (t *Transport) Edit(ctx context.Context, ref chat.MessageRef, text string, buttons [][]chat.Button) error {
	if err := t.ready(); err != nil {
		return err
	}
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if len(buttons) > 0 {
		kb := keyboard(buttons)
		cfg.ReplyMarkup = &kb
	}
	err = t.retryOnRateLimit(ctx, func() error {
		_, reqErr := t.bot.Request(cfg)
		return reqErr
	})
	if err != nil && !isNotModified(err) {
		return fmt.Errorf("telegram: edit message: %w", err)
	}
	return nil
}

// Delete removes a message.
func (t *Transport) Delete(ctx context.Context, ref chat.MessageRef) error {
	if err := t.ready(); err != nil {
		return err
	}
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}
	err = t.retryOnRateLimit(ctx, func() error {
		_, reqErr := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		return reqErr
	})
	if err != nil {
		return fmt.Errorf("telegram: delete message: %w", err)
	}
	return nil
}

// AnswerCallback answers a callback query, optionally as an alert popup.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := t.ready(); err != nil {
		return err
	}
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := t.bot.Request(cfg); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

// Close stops polling and closes the inbound channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	if t.cancelFunc != nil {
		t.cancelFunc()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	close(t.inbound)
	return nil
}

// BotUserID returns the bot's Telegram user ID (available after Connect).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

func (t *Transport) ready() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("telegram: not connected")
	}
	return nil
}

// retryOnRateLimit calls fn and retries on HTTP 429, honouring the
// retry_after hint Telegram returns.
func (t *Transport) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var tgErr *tgbotapi.Error
		if !errors.As(err, &tgErr) || tgErr.Code != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(tgErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * t.backoff
		}
		t.log.Warn("telegram rate limited", zap.Int("attempt", attempt+1), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

func keyboard(rows [][]chat.Button) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

// isNotModified reports Telegram's complaint about an edit that changes
// nothing, which is harmless.
func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", s)
	}
	return id, nil
}

func parseRef(ref chat.MessageRef) (int64, int, error) {
	chatID, err := parseChatID(ref.ChatID)
	if err != nil {
		return 0, 0, err
	}
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: invalid message id %q", ref.MessageID)
	}
	return chatID, messageID, nil
}
