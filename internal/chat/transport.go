// Package chat defines the platform-neutral messaging surface the bot talks
// through. Platform adapters live in the telegram, slack and discord
// subpackages.
package chat

import (
	"context"
	"time"
)

// Transport is the interface that platform-specific implementations must
// satisfy. Every message the bot sends can later be edited or deleted through
// the MessageRef returned by Send.
type Transport interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events. The channel is closed when
	// the transport is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Send delivers a message and returns a handle to it.
	Send(ctx context.Context, msg OutboundMessage) (MessageRef, error)

	// Edit replaces the text and buttons of a previously sent message. Nil
	// buttons remove the keyboard.
	Edit(ctx context.Context, ref MessageRef, text string, buttons [][]Button) error

	// Delete removes a previously sent message.
	Delete(ctx context.Context, ref MessageRef) error

	// AnswerCallback acknowledges a button press. A non-empty text is shown
	// to the presser only; alert asks the platform to make it prominent.
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error

	// Close gracefully shuts down the transport connection.
	Close() error
}

// BotUserIDer is an optional interface that transports can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// MessageRef identifies a sent message so it can be edited or deleted.
type MessageRef struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// IsZero reports whether the ref points at nothing.
func (r MessageRef) IsZero() bool { return r.ChatID == "" && r.MessageID == "" }

// Button is one inline button. Data is returned verbatim in the callback
// event when the button is pressed.
type Button struct {
	Label string
	Data  string
}

// OutboundMessage is a message to be sent to a chat.
type OutboundMessage struct {
	ChatID  string
	Text    string
	Buttons [][]Button // rows of buttons; nil for plain text
}

// EventKind distinguishes typed messages from button presses.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventCallback EventKind = "callback"
)

// Event is an inbound message or button press.
type Event struct {
	Kind       EventKind
	Platform   string // e.g. "telegram", "slack", "discord"
	ChatID     string // conversation the event happened in
	UserID     string // platform-specific user identifier
	UserName   string // human-readable name
	Text       string // message text (EventMessage)
	CallbackID string // acknowledgement handle (EventCallback)
	Data       string // button data (EventCallback)
	Message    MessageRef
	Timestamp  time.Time
}

// Row is a convenience for building a single button row.
func Row(buttons ...Button) []Button { return buttons }
