// Package events publishes request lifecycle transitions to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/zulandar/motorpool/internal/logging"
	"github.com/zulandar/motorpool/internal/metrics"
	"go.uber.org/zap"
)

// Event is one committed status transition.
type Event struct {
	ID      string    `json:"id"`
	Code    string    `json:"code"`
	Status  string    `json:"status"`
	Actor   string    `json:"actor,omitempty"`
	Vehicle string    `json:"vehicle,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher announces transitions. Implementations must not block the caller
// on a slow broker for long and never fail the transition itself.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// conn is the subset of *nats.Conn used here.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSOpts configures a NATSPublisher.
type NATSOpts struct {
	URL           string
	SubjectPrefix string
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Conn          conn // optional; dialled from URL when nil
}

// NATSPublisher publishes events as JSON to <prefix>.<status>.
type NATSPublisher struct {
	conn    conn
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(opts NATSOpts) (*NATSPublisher, error) {
	prefix := strings.TrimSuffix(opts.SubjectPrefix, ".")
	if prefix == "" {
		return nil, fmt.Errorf("events: subject prefix is required")
	}
	c := opts.Conn
	if c == nil {
		if opts.URL == "" {
			return nil, fmt.Errorf("events: nats url is required")
		}
		nc, err := nats.Connect(opts.URL,
			nats.Name("motorpool"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("events: connect to %s: %w", opts.URL, err)
		}
		c = nc
	}
	return &NATSPublisher{
		conn:    c,
		prefix:  prefix,
		logger:  logging.OrNop(opts.Logger),
		metrics: metrics.OrNew(opts.Metrics),
		now:     time.Now,
	}, nil
}

// Subject returns the subject an event with status is published on.
func (p *NATSPublisher) Subject(status string) string {
	return p.prefix + "." + status
}

// Publish fills in the id and timestamp when missing and sends the event.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Code, err)
	}
	if err := p.conn.Publish(p.Subject(ev.Status), data); err != nil {
		p.metrics.EventsPublished.WithLabelValues("error").Inc()
		p.logger.Warn("publish event failed", zap.String("code", ev.Code), zap.String("status", ev.Status), zap.Error(err))
		return fmt.Errorf("events: publish %s: %w", ev.Code, err)
	}
	p.metrics.EventsPublished.WithLabelValues("ok").Inc()
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("events: drain: %w", err)
	}
	return nil
}
