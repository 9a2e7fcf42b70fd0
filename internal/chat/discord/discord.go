// Package discord implements the chat Transport for Discord using the Gateway
// WebSocket and message components for buttons.
package discord

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/logging"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Transport implements chat.Transport for Discord via the Gateway WebSocket.
type Transport struct {
	sess        session
	botToken    string
	botUserID   string
	log         *zap.Logger
	mu          sync.Mutex
	connected   bool
	closed      bool
	inbound     chan chat.Event
	removers    []func()
	pending     map[string]*discordgo.Interaction // unanswered button presses by interaction ID
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// TransportOpts holds parameters for creating a Discord Transport.
type TransportOpts struct {
	BotToken string
	Logger   *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Transport.
func New(opts TransportOpts) (*Transport, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Transport{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		log:         logging.OrNop(opts.Logger),
		inbound:     make(chan chat.Event, 100),
		pending:     make(map[string]*discordgo.Interaction),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect opens the Discord Gateway WebSocket connection.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("discord: transport already closed")
	}
	if t.connected {
		return nil
	}

	if t.sess == nil {
		dg, err := discordgo.New("Bot " + t.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		t.sess = dg
	}

	t.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		t.mu.Lock()
		t.botUserID = r.User.ID
		t.mu.Unlock()
		t.log.Info("discord connected", zap.String("bot", r.User.Username), zap.String("bot_id", r.User.ID))
	})
	t.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		t.log.Warn("discord gateway disconnected, discordgo will auto-reconnect")
	})

	if err := t.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	t.connected = true
	return nil
}

// Listen registers message and interaction handlers and returns the inbound
// channel. Must be called after Connect.
func (t *Transport) Listen(ctx context.Context) (<-chan chat.Event, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	t.mu.Unlock()

	removeMsg := t.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		t.handleMessage(m)
	})
	removeInt := t.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		t.handleInteraction(i)
	})
	t.mu.Lock()
	t.removers = append(t.removers, removeMsg, removeInt)
	t.mu.Unlock()

	return t.inbound, nil
}

// Send posts a message with optional button rows.
func (t *Transport) Send(ctx context.Context, msg chat.OutboundMessage) (chat.MessageRef, error) {
	if err := t.ready(); err != nil {
		return chat.MessageRef{}, err
	}
	if msg.ChatID == "" {
		return chat.MessageRef{}, fmt.Errorf("discord: no channel specified")
	}
	data := &discordgo.MessageSend{
		Content:    msg.Text,
		Components: components(msg.Buttons),
	}

	var sent *discordgo.Message
	err := t.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = t.sess.ChannelMessageSendComplex(msg.ChatID, data)
		return sendErr
	})
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("discord: send message: %w", err)
	}
	return chat.MessageRef{ChatID: msg.ChatID, MessageID: sent.ID}, nil
}

// Edit replaces a message's content and components.
func (t *Transport) Edit(ctx context.Context, ref chat.MessageRef, text string, buttons [][]chat.Button) error {
	if err := t.ready(); err != nil {
		return err
	}
	edit := discordgo.NewMessageEdit(ref.ChatID, ref.MessageID).SetContent(text)
	comps := components(buttons)
	if comps == nil {
		comps = []discordgo.MessageComponent{}
	}
	edit.Components = &comps

	err := t.retryOnRateLimit(ctx, func() error {
		_, editErr := t.sess.ChannelMessageEditComplex(edit)
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// Delete removes a message.
func (t *Transport) Delete(ctx context.Context, ref chat.MessageRef) error {
	if err := t.ready(); err != nil {
		return err
	}
	err := t.retryOnRateLimit(ctx, func() error {
		return t.sess.ChannelMessageDelete(ref.ChatID, ref.MessageID)
	})
	if err != nil {
		return fmt.Errorf("discord: delete message: %w", err)
	}
	return nil
}

// AnswerCallback responds to a pending component interaction. With no text
// the response is a silent deferred update; otherwise an ephemeral reply.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := t.ready(); err != nil {
		return err
	}
	t.mu.Lock()
	interaction, ok := t.pending[callbackID]
	delete(t.pending, callbackID)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord: unknown interaction %q", callbackID)
	}

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if text != "" {
		if alert {
			text = "⚠️ " + text
		}
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: text,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}
	}
	if err := t.sess.InteractionRespond(interaction, resp); err != nil {
		return fmt.Errorf("discord: respond to interaction: %w", err)
	}
	return nil
}

// Close gracefully shuts down the transport connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	for _, remove := range t.removers {
		remove()
	}
	close(t.inbound)
	if t.sess != nil {
		return t.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (t *Transport) SetBotUserID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.botUserID = id
}

func (t *Transport) ready() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// handleMessage converts a Discord message event to a chat event.
func (t *Transport) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == t.BotUserID() {
		return
	}
	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	t.push(chat.Event{
		Kind:      chat.EventMessage,
		Platform:  "discord",
		ChatID:    m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Message:   chat.MessageRef{ChatID: m.ChannelID, MessageID: m.ID},
		Timestamp: ts,
	})
}

// handleInteraction converts a button press to a callback event and parks the
// interaction until AnswerCallback responds to it.
func (t *Transport) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	t.mu.Lock()
	t.pending[i.ID] = i.Interaction
	t.mu.Unlock()

	evt := chat.Event{
		Kind:       chat.EventCallback,
		Platform:   "discord",
		ChatID:     i.ChannelID,
		UserID:     user.ID,
		UserName:   user.Username,
		CallbackID: i.ID,
		Data:       i.MessageComponentData().CustomID,
		Timestamp:  time.Now(),
	}
	if i.Message != nil {
		evt.Message = chat.MessageRef{ChatID: i.ChannelID, MessageID: i.Message.ID}
	}
	t.push(evt)
}

func (t *Transport) push(evt chat.Event) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.inbound <- evt
}

// components renders button rows as Discord action rows.
func components(rows [][]chat.Button) []discordgo.MessageComponent {
	if len(rows) == 0 {
		return nil
	}
	out := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, discordgo.Button{
				Label:    b.Label,
				Style:    discordgo.PrimaryButton,
				CustomID: b.Data,
			})
		}
		out = append(out, discordgo.ActionsRow{Components: buttons})
	}
	return out
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (t *Transport) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}
		t.log.Warn("discord rate limited", zap.Int("attempt", attempt+1), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
