package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/metrics"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *chat.MockTransport, *metrics.Metrics) {
	t.Helper()
	tr := chat.NewMockTransport()
	m := metrics.New()
	d, err := NewDispatcher(DispatcherOpts{Transport: tr, Metrics: m})
	require.NoError(t, err)
	return d, tr, m
}

func inspectors() []Recipient {
	return []Recipient{
		{UserID: "i1", ChatID: "c1", Name: "Ana"},
		{UserID: "i2", ChatID: "c2", Name: "Bruno"},
		{UserID: "i3", ChatID: "c3", Name: "Carla"},
	}
}

func TestNewDispatcher_RequiresTransport(t *testing.T) {
	_, err := NewDispatcher(DispatcherOpts{})
	assert.Error(t, err)
}

func TestFanout_RecordsHandlePerRecipient(t *testing.T) {
	d, tr, _ := newTestDispatcher(t)

	deliveries, err := d.Fanout(context.Background(), inspectors(), func(r Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{Text: "New request for " + r.Name}
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 3)
	assert.Equal(t, "i2", deliveries[1].RecipientID)
	assert.Equal(t, "c2", deliveries[1].Ref.ChatID)

	msgs := tr.SentTo("c3")
	require.Len(t, msgs, 1)
	assert.Equal(t, "New request for Carla", msgs[0].Text)
}

func TestFanout_PartialFailureTolerated(t *testing.T) {
	d, tr, m := newTestDispatcher(t)
	tr.FailSendsTo("c2", errors.New("bot was blocked by the user"))

	deliveries, err := d.Fanout(context.Background(), inspectors(), func(Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{Text: "hello"}
	})
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "i1", deliveries[0].RecipientID)
	assert.Equal(t, "i3", deliveries[1].RecipientID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures.WithLabelValues("send")))
}

func TestFanout_AllFailed(t *testing.T) {
	d, tr, _ := newTestDispatcher(t)
	for _, r := range inspectors() {
		tr.FailSendsTo(r.ChatID, errors.New("down"))
	}
	_, err := d.Fanout(context.Background(), inspectors(), func(Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{Text: "hello"}
	})
	assert.ErrorIs(t, err, ErrAllFailed)
}

func TestFanout_NoRecipients(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	deliveries, err := d.Fanout(context.Background(), nil, func(Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{}
	})
	assert.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestFanout_SkipsRecipientWithoutChat(t *testing.T) {
	d, tr, _ := newTestDispatcher(t)
	deliveries, err := d.Fanout(context.Background(), []Recipient{{UserID: "x"}, {UserID: "y", ChatID: "cy"}}, func(Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{Text: "hi"}
	})
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, 1, tr.SentCount())
}

func TestEditAll_PerRecipientWithFailures(t *testing.T) {
	d, tr, m := newTestDispatcher(t)
	ctx := context.Background()
	deliveries, err := d.Fanout(ctx, inspectors(), func(Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{Text: "claim?", Buttons: [][]chat.Button{chat.Row(chat.Button{Label: "Claim", Data: "claim:SOL001"})}}
	})
	require.NoError(t, err)

	// The claimer's own message is left for the caller.
	failed := d.EditAll(ctx, deliveries, func(dl Delivery) (string, [][]chat.Button, bool) {
		if dl.RecipientID == "i1" {
			return "", nil, false
		}
		return "Handled by Ana", nil, true
	})
	assert.Equal(t, 0, failed)

	own, _ := tr.Message(deliveries[0].Ref)
	assert.Equal(t, "claim?", own.Text)
	other, _ := tr.Message(deliveries[2].Ref)
	assert.Equal(t, "Handled by Ana", other.Text)
	assert.Nil(t, other.Buttons)

	tr.FailEdits(errors.New("message to edit not found"))
	failed = d.EditAll(ctx, deliveries, func(Delivery) (string, [][]chat.Button, bool) { return "x", nil, true })
	assert.Equal(t, 3, failed)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DeliveryFailures.WithLabelValues("edit")))
}

func TestDeleteAndAnswer(t *testing.T) {
	d, tr, _ := newTestDispatcher(t)
	ctx := context.Background()
	ref, err := d.Send(ctx, chat.OutboundMessage{ChatID: "c1", Text: "bye"})
	require.NoError(t, err)

	require.NoError(t, d.Delete(ctx, ref))
	msg, _ := tr.Message(ref)
	assert.True(t, msg.Deleted)

	require.NoError(t, d.Answer(ctx, "", "ignored", false))
	require.NoError(t, d.Answer(ctx, "cb1", "Done", true))
	answers := tr.Answers()
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Alert)
}

func TestRateLimitedDispatcherHonoursContext(t *testing.T) {
	tr := chat.NewMockTransport()
	d, err := NewDispatcher(DispatcherOpts{Transport: tr, Rate: 0.001, Burst: 1})
	require.NoError(t, err)

	_, err = d.Send(context.Background(), chat.OutboundMessage{ChatID: "c1", Text: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Send(ctx, chat.OutboundMessage{ChatID: "c1", Text: "second"})
	assert.Error(t, err)
	assert.Equal(t, 1, tr.SentCount())
}

func TestExceptAndFind(t *testing.T) {
	ds := []Delivery{{RecipientID: "a"}, {RecipientID: "b"}}
	assert.Equal(t, []Delivery{{RecipientID: "b"}}, Except(ds, "a"))
	got, ok := Find(ds, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", got.RecipientID)
	_, ok = Find(ds, "z")
	assert.False(t, ok)
}

func TestTagAndForAudience(t *testing.T) {
	ds := Tag([]Delivery{{RecipientID: "i1"}, {RecipientID: "i2"}}, "inspector")
	ds = append(ds, Delivery{RecipientID: "r1", Audience: "requester"})

	got := ForAudience(ds, "inspector")
	assert.Len(t, got, 2)
	assert.Equal(t, "inspector", got[1].Audience)
	assert.Empty(t, ForAudience(ds, "authorizer"))
}
