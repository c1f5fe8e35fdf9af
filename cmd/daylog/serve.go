package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"daylog/internal/config"
	appLog "daylog/internal/log"
	"daylog/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve timelines over HTTP",
	Long: `Serve the JSON API. Today's timeline is fetched ahead of requests on the
configured cron schedule, and the config file is reloaded when it changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp()
	if err != nil {
		return err
	}
	if serveListen != "" {
		a.cfg.Listen = serveListen
	}
	appLog.Info("effective config",
		"config", a.cfgPath,
		"listen", a.cfg.Listen,
		"timezone", a.loc.String(),
		"refresh", a.cfg.RefreshCron,
		"max_parallel", a.cfg.MaxParallel,
	)

	srv := web.NewServer(a.cfg, a.agg, a.metrics)

	sched := cron.New(cron.WithLocation(a.loc))
	if _, err := sched.AddFunc(a.cfg.RefreshCron, func() { prewarm(ctx, srv) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", a.cfg.RefreshCron, err)
	}
	sched.Start()
	defer sched.Stop()
	go prewarm(ctx, srv)

	err = config.Watch(ctx, a.cfgPath, func(cfg *config.Config) {
		if serveListen != "" {
			cfg.Listen = serveListen
		}
		if logLevel == "" {
			appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
		}
		srv.SetConfig(cfg)
		go prewarm(ctx, srv)
	})
	if err != nil {
		appLog.Error("config watcher not started", err, "path", a.cfgPath)
	}

	return srv.Serve(ctx)
}

func prewarm(ctx context.Context, srv *web.Server) {
	if err := srv.Prewarm(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("prewarm failed", err)
	}
}
