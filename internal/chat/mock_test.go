package chat

import (
	"context"
	"errors"
	"testing"
)

func TestMockTransport_SendEditDelete(t *testing.T) {
	m := NewMockTransport()
	ctx := context.Background()

	ref, err := m.Send(ctx, OutboundMessage{ChatID: "c1", Text: "hello", Buttons: [][]Button{Row(Button{Label: "OK", Data: "ok"})}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.ChatID != "c1" || ref.MessageID == "" {
		t.Fatalf("ref = %+v, want chat c1 and an id", ref)
	}

	if err := m.Edit(ctx, ref, "updated", nil); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	got, ok := m.Message(ref)
	if !ok {
		t.Fatal("message not found")
	}
	if got.Text != "updated" || got.Buttons != nil {
		t.Errorf("message = %+v, want edited text without buttons", got)
	}

	if err := m.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Edit(ctx, ref, "again", nil); err == nil {
		t.Error("expected edit of deleted message to fail")
	}
}

func TestMockTransport_FailSendsTo(t *testing.T) {
	m := NewMockTransport()
	boom := errors.New("blocked")
	m.FailSendsTo("c2", boom)

	if _, err := m.Send(context.Background(), OutboundMessage{ChatID: "c2", Text: "x"}); !errors.Is(err, boom) {
		t.Errorf("Send error = %v, want %v", err, boom)
	}
	if _, err := m.Send(context.Background(), OutboundMessage{ChatID: "c3", Text: "x"}); err != nil {
		t.Errorf("Send to other chat: %v", err)
	}
	if m.SentCount() != 1 {
		t.Errorf("SentCount = %d, want 1", m.SentCount())
	}
}

func TestMockTransport_SimulateInboundDefaults(t *testing.T) {
	m := NewMockTransport()
	ch, err := m.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	m.SimulateInbound(Event{UserID: "u1", Text: "/start"})
	evt := <-ch
	if evt.Kind != EventMessage {
		t.Errorf("Kind = %q, want message", evt.Kind)
	}
	if evt.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestMockTransport_CloseIdempotent(t *testing.T) {
	m := NewMockTransport()
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Send(context.Background(), OutboundMessage{ChatID: "c"}); err == nil {
		t.Error("expected send after close to fail")
	}
}

func TestMessageRef_IsZero(t *testing.T) {
	if !(MessageRef{}).IsZero() {
		t.Error("empty ref should be zero")
	}
	if (MessageRef{ChatID: "c"}).IsZero() {
		t.Error("ref with chat should not be zero")
	}
}
