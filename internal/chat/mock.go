package chat

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// SentMessage is a message recorded by MockTransport, including edits.
type SentMessage struct {
	Ref     MessageRef
	Text    string
	Buttons [][]Button
	Deleted bool
}

// CallbackAnswer records an AnswerCallback call.
type CallbackAnswer struct {
	CallbackID string
	Text       string
	Alert      bool
}

// MockTransport implements Transport for testing. It records sent messages
// and allows simulating inbound events via SimulateInbound.
type MockTransport struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan Event
	sent      []*SentMessage
	byRef     map[MessageRef]*SentMessage
	answers   []CallbackAnswer
	nextID    int
	botUserID string
	failChats map[string]error
	editErr   error
}

// NewMockTransport creates a connected MockTransport with a buffered inbound
// channel.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		inbound:   make(chan Event, 100),
		byRef:     make(map[MessageRef]*SentMessage),
		failChats: make(map[string]error),
	}
}

// BotUserID returns the configured bot user ID.
func (m *MockTransport) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockTransport) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the transport as connected.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock transport: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel.
func (m *MockTransport) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock transport: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message and returns a fresh ref.
func (m *MockTransport) Send(ctx context.Context, msg OutboundMessage) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return MessageRef{}, fmt.Errorf("mock transport: not connected")
	}
	if err, ok := m.failChats[msg.ChatID]; ok {
		return MessageRef{}, err
	}
	m.nextID++
	ref := MessageRef{ChatID: msg.ChatID, MessageID: strconv.Itoa(m.nextID)}
	sm := &SentMessage{Ref: ref, Text: msg.Text, Buttons: msg.Buttons}
	m.sent = append(m.sent, sm)
	m.byRef[ref] = sm
	return ref, nil
}

// Edit updates a recorded message in place.
func (m *MockTransport) Edit(ctx context.Context, ref MessageRef, text string, buttons [][]Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	sm, ok := m.byRef[ref]
	if !ok || sm.Deleted {
		return fmt.Errorf("mock transport: message %s/%s not found", ref.ChatID, ref.MessageID)
	}
	sm.Text = text
	sm.Buttons = buttons
	return nil
}

// Delete marks a recorded message as deleted.
func (m *MockTransport) Delete(ctx context.Context, ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.byRef[ref]
	if !ok {
		return fmt.Errorf("mock transport: message %s/%s not found", ref.ChatID, ref.MessageID)
	}
	sm.Deleted = true
	return nil
}

// AnswerCallback records the acknowledgement.
func (m *MockTransport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, CallbackAnswer{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

// Close shuts down the mock transport and closes the inbound channel.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound pushes an event as if it came from the chat platform.
func (m *MockTransport) SimulateInbound(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Kind == "" {
		evt.Kind = EventMessage
	}
	m.inbound <- evt
}

// FailSendsTo makes every Send to chatID fail with err. A nil err clears it.
func (m *MockTransport) FailSendsTo(chatID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failChats, chatID)
		return
	}
	m.failChats[chatID] = err
}

// FailEdits makes every Edit fail with err. A nil err clears it.
func (m *MockTransport) FailEdits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editErr = err
}

// LastSent returns a copy of the most recently sent message.
func (m *MockTransport) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return *m.sent[len(m.sent)-1], true
}

// SentCount returns the number of messages sent.
func (m *MockTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns copies of all sent messages in send order, reflecting any
// later edits.
func (m *MockTransport) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	for i, sm := range m.sent {
		out[i] = *sm
	}
	return out
}

// SentTo returns copies of the messages sent to chatID.
func (m *MockTransport) SentTo(chatID string) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, sm := range m.sent {
		if sm.Ref.ChatID == chatID {
			out = append(out, *sm)
		}
	}
	return out
}

// Message returns the current state of the message behind ref.
func (m *MockTransport) Message(ref MessageRef) (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.byRef[ref]
	if !ok {
		return SentMessage{}, false
	}
	return *sm, true
}

// Answers returns all recorded callback acknowledgements.
func (m *MockTransport) Answers() []CallbackAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallbackAnswer, len(m.answers))
	copy(out, m.answers)
	return out
}
