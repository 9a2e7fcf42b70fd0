// Package notify fans messages out to sets of role-holders and keeps the
// per-recipient message handles needed to edit those messages later.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/logging"
	"github.com/zulandar/motorpool/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrAllFailed is returned by Fanout when no recipient could be reached.
var ErrAllFailed = errors.New("notify: delivery failed for every recipient")

// Recipient is a person a message is delivered to.
type Recipient struct {
	UserID string
	ChatID string
	Name   string
}

// Delivery records where a recipient's copy of a message lives.
type Delivery struct {
	RecipientID string          `json:"recipient_id"`
	Audience    string          `json:"audience,omitempty"`
	Ref         chat.MessageRef `json:"ref"`
}

// DispatcherOpts configures a Dispatcher.
type DispatcherOpts struct {
	Transport chat.Transport
	Rate      float64 // messages per second; zero disables limiting
	Burst     int
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Dispatcher sends, edits and deletes chat messages through a shared
// outbound rate limit.
type Dispatcher struct {
	transport chat.Transport
	limiter   *rate.Limiter
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("notify: transport is required")
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return &Dispatcher{
		transport: opts.Transport,
		limiter:   limiter,
		log:       logging.OrNop(opts.Logger),
		metrics:   metrics.OrNew(opts.Metrics),
	}, nil
}

// Send delivers one message. Failures are returned to the caller, who is the
// initiating actor's handler.
func (d *Dispatcher) Send(ctx context.Context, msg chat.OutboundMessage) (chat.MessageRef, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return chat.MessageRef{}, fmt.Errorf("notify: send to %s: %w", msg.ChatID, err)
	}
	ref, err := d.transport.Send(ctx, msg)
	if err != nil {
		d.metrics.DeliveryFailures.WithLabelValues("send").Inc()
		return chat.MessageRef{}, fmt.Errorf("notify: send to %s: %w", msg.ChatID, err)
	}
	return ref, nil
}

// Fanout delivers a message built per recipient to every recipient, in
// order. Individual failures are logged and skipped; ErrAllFailed is
// returned only when there was at least one recipient and none succeeded.
func (d *Dispatcher) Fanout(ctx context.Context, recipients []Recipient, build func(Recipient) chat.OutboundMessage) ([]Delivery, error) {
	deliveries := make([]Delivery, 0, len(recipients))
	for _, r := range recipients {
		if r.ChatID == "" {
			d.log.Warn("skipping recipient without chat", zap.String("user_id", r.UserID))
			continue
		}
		msg := build(r)
		msg.ChatID = r.ChatID
		ref, err := d.Send(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return deliveries, ctx.Err()
			}
			d.log.Warn("fan-out delivery failed", zap.String("user_id", r.UserID), zap.Error(err))
			continue
		}
		deliveries = append(deliveries, Delivery{RecipientID: r.UserID, Ref: ref})
	}
	if len(recipients) > 0 && len(deliveries) == 0 {
		return nil, ErrAllFailed
	}
	return deliveries, nil
}

// Edit replaces the text and buttons of one message.
func (d *Dispatcher) Edit(ctx context.Context, ref chat.MessageRef, text string, buttons [][]chat.Button) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: edit %s/%s: %w", ref.ChatID, ref.MessageID, err)
	}
	if err := d.transport.Edit(ctx, ref, text, buttons); err != nil {
		d.metrics.DeliveryFailures.WithLabelValues("edit").Inc()
		return fmt.Errorf("notify: edit %s/%s: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}

// EditAll edits every delivery with the text returned by build, skipping
// deliveries for which build returns ok=false. Failures are logged and
// counted; the number of failed edits is returned.
func (d *Dispatcher) EditAll(ctx context.Context, deliveries []Delivery, build func(Delivery) (text string, buttons [][]chat.Button, ok bool)) int {
	failed := 0
	for _, dl := range deliveries {
		text, buttons, ok := build(dl)
		if !ok {
			continue
		}
		if err := d.Edit(ctx, dl.Ref, text, buttons); err != nil {
			d.log.Warn("edit failed", zap.String("user_id", dl.RecipientID), zap.Error(err))
			failed++
		}
	}
	return failed
}

// Delete removes one message.
func (d *Dispatcher) Delete(ctx context.Context, ref chat.MessageRef) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: delete %s/%s: %w", ref.ChatID, ref.MessageID, err)
	}
	if err := d.transport.Delete(ctx, ref); err != nil {
		d.metrics.DeliveryFailures.WithLabelValues("delete").Inc()
		return fmt.Errorf("notify: delete %s/%s: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}

// Answer acknowledges a button press. Acknowledgements are not rate limited:
// platforms expect them within seconds.
func (d *Dispatcher) Answer(ctx context.Context, callbackID, text string, alert bool) error {
	if callbackID == "" {
		return nil
	}
	if err := d.transport.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		return fmt.Errorf("notify: answer callback: %w", err)
	}
	return nil
}

// Except returns deliveries without the one addressed to recipientID.
func Except(deliveries []Delivery, recipientID string) []Delivery {
	out := make([]Delivery, 0, len(deliveries))
	for _, dl := range deliveries {
		if dl.RecipientID != recipientID {
			out = append(out, dl)
		}
	}
	return out
}

// Find returns the delivery addressed to recipientID.
func Find(deliveries []Delivery, recipientID string) (Delivery, bool) {
	for _, dl := range deliveries {
		if dl.RecipientID == recipientID {
			return dl, true
		}
	}
	return Delivery{}, false
}

// Tag sets the audience of every delivery in place and returns the slice.
func Tag(deliveries []Delivery, audience string) []Delivery {
	for i := range deliveries {
		deliveries[i].Audience = audience
	}
	return deliveries
}

// ForAudience returns the deliveries addressed to audience.
func ForAudience(deliveries []Delivery, audience string) []Delivery {
	var out []Delivery
	for _, dl := range deliveries {
		if dl.Audience == audience {
			out = append(out, dl)
		}
	}
	return out
}
