package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/zulandar/motorpool/internal/bot"
	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/chat/discord"
	"github.com/zulandar/motorpool/internal/chat/slack"
	"github.com/zulandar/motorpool/internal/chat/telegram"
	"github.com/zulandar/motorpool/internal/config"
	"github.com/zulandar/motorpool/internal/dashboard"
	"github.com/zulandar/motorpool/internal/events"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/logging"
	"github.com/zulandar/motorpool/internal/metrics"
	"github.com/zulandar/motorpool/internal/notify"
	"github.com/zulandar/motorpool/internal/registry"
	"github.com/zulandar/motorpool/internal/scheduler"
	"github.com/zulandar/motorpool/internal/session"
	"github.com/zulandar/motorpool/internal/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath    string
		withDashboard bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot",
		Long: `Connects to the configured chat platform and runs the request workflow
until interrupted. Active requests are recovered from the database on start.
With dashboard.enabled (or --dashboard) the HTTP API runs alongside.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, withDashboard)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&withDashboard, "dashboard", false, "also serve the HTTP API")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, withDashboard bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	transport, err := newTransport(cfg.Chat, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	app, err := buildApp(ctx, cfg, gormDB, transport, log)
	if err != nil {
		return err
	}
	defer app.publisher.Close()

	sweepDone, err := registry.StartSweeper(ctx, registry.SweeperOpts{
		Registry: app.registry,
		Schedule: cfg.Workflow.SweepSchedule,
		MaxIdle:  cfg.Workflow.RegistryIdle,
		Logger:   log,
		OnSweep: func(_, remaining int) {
			app.metrics.TrackedRequests.Set(float64(remaining))
		},
	})
	if err != nil {
		return err
	}

	armed, err := app.engine.Recover(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d active requests (%d reminders armed)\n", app.registry.Len(), armed)

	dashErr := make(chan error, 1)
	if withDashboard || cfg.Dashboard.Enabled {
		go func() {
			dashErr <- dashboard.Start(ctx, dashboard.StartOpts{
				DB:             gormDB,
				Port:           cfg.Dashboard.Port,
				AllowedOrigins: cfg.Dashboard.AllowedOrigins,
				Metrics:        app.metrics,
				Location:       cfg.Location(),
				Logger:         log,
				Out:            cmd.OutOrStdout(),
			})
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Motorpool bot running on %s\n", cfg.Chat.Platform)
	runErr := app.daemon.Run(ctx)
	cancel()
	app.scheduler.Stop()
	<-sweepDone

	select {
	case err := <-dashErr:
		runErr = errors.Join(runErr, err)
	default:
	}
	return runErr
}

// app holds the wired components of a running bot.
type app struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	publisher events.Publisher
	engine    *workflow.Engine
	daemon    *bot.Daemon
}

func buildApp(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, transport chat.Transport, log *zap.Logger) (*app, error) {
	m := metrics.New()

	sessions, err := newSessionStore(cfg.Sessions, gormDB)
	if err != nil {
		return nil, err
	}
	publisher, err := newPublisher(cfg.Events, log, m)
	if err != nil {
		return nil, err
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherOpts{
		Transport: transport,
		Rate:      cfg.Chat.SendRate,
		Burst:     cfg.Chat.SendBurst,
		Logger:    log.Named("notify"),
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}
	dir, err := identity.NewDirectory(gormDB)
	if err != nil {
		return nil, err
	}
	vehicles, err := fleet.NewStore(gormDB)
	if err != nil {
		return nil, err
	}
	alloc, err := fleet.NewAllocator(gormDB)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	sched := scheduler.New(func(n int) { m.PendingTimers.Set(float64(n)) })

	engine, err := workflow.NewEngine(ctx, workflow.EngineOpts{
		DB:            gormDB,
		Registry:      reg,
		Dispatcher:    dispatcher,
		Directory:     dir,
		Scheduler:     sched,
		Allocator:     alloc,
		Vehicles:      vehicles,
		Publisher:     publisher,
		Metrics:       m,
		Logger:        log.Named("workflow"),
		Location:      cfg.Location(),
		CodePrefix:    cfg.Workflow.CodePrefix,
		MinLead:       cfg.Workflow.MinLead,
		ClaimReminder: cfg.Workflow.ClaimReminder,
	})
	if err != nil {
		sched.Stop()
		return nil, err
	}

	handler, err := bot.NewHandler(bot.HandlerOpts{
		Engine:     engine,
		Sessions:   sessions,
		Directory:  dir,
		Fleet:      vehicles,
		Dispatcher: dispatcher,
		Logger:     log.Named("bot"),
	})
	if err != nil {
		sched.Stop()
		return nil, err
	}
	daemon, err := bot.NewDaemon(bot.DaemonOpts{Transport: transport, Handler: handler, Logger: log.Named("bot")})
	if err != nil {
		sched.Stop()
		return nil, err
	}

	return &app{
		registry:  reg,
		scheduler: sched,
		metrics:   m,
		publisher: publisher,
		engine:    engine,
		daemon:    daemon,
	}, nil
}

// newTransport builds the adapter for the configured chat platform.
func newTransport(cfg config.ChatConfig, log *zap.Logger) (chat.Transport, error) {
	switch cfg.Platform {
	case "telegram":
		t, err := telegram.New(telegram.TransportOpts{Token: cfg.Telegram.Token, Logger: log.Named("telegram")})
		if err != nil {
			return nil, err
		}
		return t, nil
	case "slack":
		t, err := slack.New(slack.TransportOpts{AppToken: cfg.Slack.AppToken, BotToken: cfg.Slack.BotToken, Logger: log.Named("slack")})
		if err != nil {
			return nil, err
		}
		return t, nil
	case "discord":
		t, err := discord.New(discord.TransportOpts{BotToken: cfg.Discord.BotToken, Logger: log.Named("discord")})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown chat platform %q", cfg.Platform)
	}
}

func newSessionStore(cfg config.SessionsConfig, gormDB *gorm.DB) (session.Store, error) {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := session.NewRedisStore(session.RedisStoreOpts{Client: client, TTL: cfg.Redis.TTL})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := session.NewSQLStore(gormDB)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newPublisher(cfg config.EventsConfig, log *zap.Logger, m *metrics.Metrics) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.Nop{}, nil
	}
	pub, err := events.NewNATSPublisher(events.NATSOpts{
		URL:           cfg.NATSURL,
		SubjectPrefix: cfg.SubjectPrefix,
		Logger:        log.Named("events"),
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}
