// Package slack implements the chat Transport for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/logging"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// actionsBlockPrefix prefixes the block IDs of button rows.
	actionsBlockPrefix = "mp_actions_"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessage(channelID, timestamp string) (string, string, error)
	PostEphemeral(channelID, userID string, options ...slackapi.MsgOption) (string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Transport implements chat.Transport for Slack Socket Mode.
type Transport struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	log          *zap.Logger
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan chat.Event
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// TransportOpts holds parameters for creating a Slack Transport.
type TransportOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *zap.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Transport.
func New(opts TransportOpts) (*Transport, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	return &Transport{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		log:          logging.OrNop(opts.Logger),
		inbound:      make(chan chat.Event, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect authenticates and prepares the Socket Mode client.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("slack: transport already closed")
	}
	if t.connected {
		return nil
	}

	if t.client == nil {
		api := slackapi.New(t.botToken, slackapi.OptionAppLevelToken(t.appToken))
		t.client = api
		t.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := t.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	t.botUserID = auth.UserID
	t.connected = true
	return nil
}

// Listen starts the Socket Mode event pump and returns the inbound channel.
func (t *Transport) Listen(ctx context.Context) (<-chan chat.Event, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	t.cancelFunc = cancel
	t.mu.Unlock()

	go t.runWithReconnect(listenCtx)
	go t.pumpEvents(listenCtx)

	return t.inbound, nil
}

// Send posts a message, rendering buttons as Block Kit action rows.
func (t *Transport) Send(ctx context.Context, msg chat.OutboundMessage) (chat.MessageRef, error) {
	if err := t.ready(); err != nil {
		return chat.MessageRef{}, err
	}
	if msg.ChatID == "" {
		return chat.MessageRef{}, fmt.Errorf("slack: no channel specified")
	}

	var channel, ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		channel, ts, postErr = t.client.PostMessage(msg.ChatID, buildMessageOptions(msg.Text, msg.Buttons)...)
		return postErr
	})
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("slack: post message: %w", err)
	}
	if channel == "" {
		channel = msg.ChatID
	}
	return chat.MessageRef{ChatID: channel, MessageID: ts}, nil
}

// Edit updates a posted message in place.
func (t *Transport) Edit(ctx context.Context, ref chat.MessageRef, text string, buttons [][]chat.Button) error {
	if err := t.ready(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, updErr := t.client.UpdateMessage(ref.ChatID, ref.MessageID, buildMessageOptions(text, buttons)...)
		return updErr
	})
	if err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

// Delete removes a posted message.
func (t *Transport) Delete(ctx context.Context, ref chat.MessageRef) error {
	if err := t.ready(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, delErr := t.client.DeleteMessage(ref.ChatID, ref.MessageID)
		return delErr
	})
	if err != nil {
		return fmt.Errorf("slack: delete message: %w", err)
	}
	return nil
}

// AnswerCallback shows text to the presser as an ephemeral message. Slack
// interactions are already acknowledged on receipt, so an empty text is a
// no-op. The callback ID has the form "channel:user".
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if text == "" {
		return nil
	}
	if err := t.ready(); err != nil {
		return err
	}
	channel, user, ok := strings.Cut(callbackID, ":")
	if !ok {
		return fmt.Errorf("slack: malformed callback id %q", callbackID)
	}
	if alert {
		text = ":warning: " + text
	}
	err := retryOnRateLimit(ctx, func() error {
		_, postErr := t.client.PostEphemeral(channel, user, slackapi.MsgOptionText(text, false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post ephemeral: %w", err)
	}
	return nil
}

// Close shuts down the transport and closes the inbound channel.
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
	close(t.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

func (t *Transport) ready() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (t *Transport) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < t.maxReconnect; attempt++ {
		err := t.socket.Run()
		if err == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}
		t.log.Warn("slack socket mode disconnected",
			zap.Int("attempt", attempt+1), zap.Int("max", t.maxReconnect),
			zap.Duration("retry_in", wait), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	t.log.Error("slack socket mode exhausted reconnection attempts", zap.Int("attempts", t.maxReconnect))
}

// pumpEvents reads Socket Mode events and converts them to chat events.
func (t *Transport) pumpEvents(ctx context.Context) {
	events := t.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			t.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (t *Transport) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		t.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		t.handleInteraction(callback)

	case socketmode.EventTypeConnecting:
		t.log.Debug("slack connecting to socket mode")

	case socketmode.EventTypeConnected:
		t.log.Info("slack connected to socket mode")

	case socketmode.EventTypeConnectionError:
		t.log.Warn("slack connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeDisconnect:
		t.log.Info("slack server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (t *Transport) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		t.handleMessage(ev)
	}
}

// handleMessage converts a Slack message event to a chat event.
func (t *Transport) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == t.BotUserID() {
		return
	}
	// Bot messages and subtypes (edits, deletes, joins) are not user input.
	if ev.BotID != "" || ev.SubType != "" {
		return
	}
	t.inbound <- chat.Event{
		Kind:      chat.EventMessage,
		Platform:  "slack",
		ChatID:    ev.Channel,
		UserID:    ev.User,
		UserName:  t.resolveUserName(ev.User),
		Text:      ev.Text,
		Message:   chat.MessageRef{ChatID: ev.Channel, MessageID: ev.TimeStamp},
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}
}

// handleInteraction converts a block action (button press) to a callback
// event.
func (t *Transport) handleInteraction(cb slackapi.InteractionCallback) {
	if cb.Type != slackapi.InteractionTypeBlockActions {
		return
	}
	if len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]
	channel := cb.Container.ChannelID
	if channel == "" {
		channel = cb.Channel.ID
	}
	ts := cb.Container.MessageTs
	if ts == "" {
		ts = cb.Message.Timestamp
	}
	name := cb.User.Name
	if name == "" {
		name = t.resolveUserName(cb.User.ID)
	}
	t.inbound <- chat.Event{
		Kind:       chat.EventCallback,
		Platform:   "slack",
		ChatID:     channel,
		UserID:     cb.User.ID,
		UserName:   name,
		CallbackID: channel + ":" + cb.User.ID,
		Data:       action.Value,
		Message:    chat.MessageRef{ChatID: channel, MessageID: ts},
		Timestamp:  time.Now(),
	}
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (t *Transport) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := t.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

// buildMessageOptions renders text and button rows as Slack MsgOptions. The
// text is always sent as a section block too, so an update without buttons
// replaces any earlier action rows.
func buildMessageOptions(text string, rows [][]chat.Button) []slackapi.MsgOption {
	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil),
	}
	for i, row := range rows {
		elements := make([]slackapi.BlockElement, 0, len(row))
		for j, b := range row {
			elements = append(elements, slackapi.NewButtonBlockElement(
				fmt.Sprintf("btn_%d_%d", i, j),
				b.Data,
				slackapi.NewTextBlockObject(slackapi.PlainTextType, b.Label, false, false),
			))
		}
		blocks = append(blocks, slackapi.NewActionBlock(actionsBlockPrefix+strconv.Itoa(i), elements...))
	}
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionBlocks(blocks...),
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
