package main

import (
	"github.com/spf13/cobra"
	"github.com/zulandar/motorpool/internal/dashboard"
	"github.com/zulandar/motorpool/internal/logging"
	"github.com/zulandar/motorpool/internal/metrics"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the read-only HTTP API",
		Long:  "Serves requests, vehicles and statistics as JSON without running the bot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()
	if port == 0 {
		port = cfg.Dashboard.Port
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	return dashboard.Start(ctx, dashboard.StartOpts{
		DB:             gormDB,
		Port:           port,
		AllowedOrigins: cfg.Dashboard.AllowedOrigins,
		Metrics:        metrics.New(),
		Location:       cfg.Location(),
		Logger:         log,
		Out:            cmd.OutOrStdout(),
	})
}
