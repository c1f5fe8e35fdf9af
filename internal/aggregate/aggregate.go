// Package aggregate fetches every configured source for one day and merges
// the results into a single timeline.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"daylog/internal/config"
	"daylog/internal/email"
	"daylog/internal/gitlab"
	"daylog/internal/gitlog"
	"daylog/internal/ics"
	appLog "daylog/internal/log"
	"daylog/internal/metrics"
	"daylog/internal/model"
	"daylog/internal/provider"
	"daylog/internal/redmine"
	"daylog/internal/stackexchange"
)

// SourceError tags a failure with the source that produced it.
type SourceError struct {
	Provider string
	Source   string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s - %s: %v", e.Provider, e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Providers returns every known provider, in display order.
func Providers(deps provider.Deps) []provider.Provider {
	return []provider.Provider{
		gitlog.New(),
		email.New(),
		ics.New(deps),
		redmine.New(deps),
		gitlab.New(deps),
		stackexchange.New(deps),
	}
}

// Aggregator runs providers concurrently.
type Aggregator struct {
	providers []provider.Provider
	metrics   *metrics.Metrics
}

// New returns an aggregator over providers. m may be nil.
func New(providers []provider.Provider, m *metrics.Metrics) *Aggregator {
	return &Aggregator{providers: providers, metrics: m}
}

func (a *Aggregator) Providers() []provider.Provider {
	return a.providers
}

// Provider looks a provider up by name.
func (a *Aggregator) Provider(name string) (provider.Provider, bool) {
	for _, p := range a.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

type task struct {
	provider provider.Provider
	source   string
}

func (a *Aggregator) tasks(cfg *config.Config) []task {
	var tasks []task
	for _, p := range a.providers {
		for _, s := range p.ConfiguredSources(cfg) {
			tasks = append(tasks, task{provider: p, source: s})
		}
	}
	return tasks
}

// Fetch returns the events of all configured sources for day, ordered by
// time of day. Events with equal times keep the provider and source order.
// If any source fails, the first failure is returned as a *SourceError and
// no events are returned.
func (a *Aggregator) Fetch(ctx context.Context, cfg *config.Config, day model.Day) ([]model.Event, error) {
	started := time.Now()
	tasks := a.tasks(cfg)
	results := make([][]model.Event, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MaxParallel > 0 {
		g.SetLimit(cfg.MaxParallel)
	}
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			t0 := time.Now()
			events, err := t.provider.FetchEvents(gctx, cfg, t.source, day)
			elapsed := time.Since(t0)
			a.metrics.ObserveSource(t.provider.Name(), elapsed, len(events), err)
			if err != nil {
				appLog.Error("fetch failed", err, "provider", t.provider.Name(), "source", t.source, "duration", elapsed)
				return &SourceError{Provider: t.provider.Name(), Source: t.source, Err: err}
			}
			appLog.Info("fetch done", "provider", t.provider.Name(), "source", t.source,
				"events", len(events), "duration", elapsed)
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.Event
	for _, r := range results {
		all = append(all, r...)
	}
	model.SortByTime(all)

	elapsed := time.Since(started)
	a.metrics.ObserveFetch(elapsed)
	appLog.Info("day fetched", "day", day, "sources", len(tasks), "events", len(all), "duration", elapsed)
	return all, nil
}
