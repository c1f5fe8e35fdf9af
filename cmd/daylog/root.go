package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"daylog/internal/aggregate"
	"daylog/internal/cache"
	"daylog/internal/config"
	appLog "daylog/internal/log"
	"daylog/internal/metrics"
	"daylog/internal/model"
	"daylog/internal/provider"
)

// userAgent is sent to the scraped sites, which serve reduced pages to
// unknown clients.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "daylog",
	Short: "Show what you did on a given day",
	Long: `daylog collects commits, emails, calendar entries, issue tracker activity,
code review comments and votes for one day and shows them as a single timeline.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ~/.daylog/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
}

// app is what every subcommand needs once the config is loaded.
type app struct {
	cfgPath string
	cfg     *config.Config
	loc     *time.Location
	deps    provider.Deps
	agg     *aggregate.Aggregator
	metrics *metrics.Metrics
}

func loadApp() (*app, error) {
	path := cfgFile
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	path = config.ExpandHome(path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}

	deps := provider.Deps{
		Cache:     cache.New(cfg.ResolvedCacheDir(path)),
		Timeout:   cfg.FetchTimeout,
		UserAgent: userAgent,
	}
	m := metrics.New()
	return &app{
		cfgPath: path,
		cfg:     cfg,
		loc:     loc,
		deps:    deps,
		agg:     aggregate.New(aggregate.Providers(deps), m),
		metrics: m,
	}, nil
}

// parseDayFlag accepts "today", "yesterday" or YYYY-MM-DD.
func parseDayFlag(s string, now time.Time, loc *time.Location) (model.Day, error) {
	today := model.DayOf(now, loc)
	switch s {
	case "", "today":
		return today, nil
	case "yesterday":
		return today.AddDays(-1), nil
	}
	return model.ParseDay(s, loc)
}
