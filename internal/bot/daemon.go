// Package bot connects a chat transport to the request workflow: it pumps
// inbound events, routes commands and button presses, and drives the
// multi-step conversations kept in the session store.
package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/logging"
	"go.uber.org/zap"
)

// EventHandler processes one inbound event.
type EventHandler interface {
	Handle(ctx context.Context, evt chat.Event)
}

// Daemon is the bot process. It connects the transport and hands every
// inbound event to the handler on its own goroutine.
type Daemon struct {
	transport chat.Transport
	handler   EventHandler
	log       *zap.Logger
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Transport chat.Transport
	Handler   EventHandler
	Logger    *zap.Logger
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("bot: transport is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("bot: handler is required")
	}
	return &Daemon{
		transport: opts.Transport,
		handler:   opts.Handler,
		log:       logging.OrNop(opts.Logger),
	}, nil
}

// Run connects the transport and blocks until ctx is cancelled or the
// inbound channel closes. In-flight handlers are waited for before the
// transport is closed.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("bot connecting")
	if err := d.transport.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.transport.(chat.BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	inbound, err := d.transport.Listen(ctx)
	if err != nil {
		d.transport.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}
	d.log.Info("bot online", zap.String("bot_user_id", botUserID))

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		if err := d.transport.Close(); err != nil {
			d.log.Warn("close transport", zap.Error(err))
		}
		d.log.Info("bot stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("bot shutting down")
			return nil
		case evt, ok := <-inbound:
			if !ok {
				d.log.Info("inbound channel closed")
				return nil
			}
			if botUserID != "" && evt.UserID == botUserID {
				continue
			}
			wg.Add(1)
			go func(evt chat.Event) {
				defer wg.Done()
				d.dispatch(ctx, evt)
			}(evt)
		}
	}
}

// dispatch runs the handler with a correlation id and recovers from panics
// so one bad event cannot take the daemon down.
func (d *Daemon) dispatch(ctx context.Context, evt chat.Event) {
	id := uuid.NewString()
	log := d.log.With(zap.String("event_id", id), zap.String("user_id", evt.UserID), zap.String("kind", string(evt.Kind)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", zap.Any("panic", r))
		}
	}()
	log.Debug("event received", zap.String("chat_id", evt.ChatID))
	d.handler.Handle(withLogger(ctx, log), evt)
}

type loggerKey struct{}

func withLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// loggerFrom returns the event-scoped logger carried by ctx, or fallback.
func loggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return fallback
}
