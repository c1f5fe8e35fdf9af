// Package ics turns the entries of an ICS calendar feed into timeline
// events.
package ics

import (
	"context"
	"fmt"
	"sort"

	"daylog/internal/config"
	"daylog/internal/model"
	"daylog/internal/provider"
)

const (
	Name = "Ical"
	icon = "calendar-alt-symbolic"

	FieldURL = "ical_url"
)

// Provider implements provider.Provider for ICS feeds.
type Provider struct {
	deps provider.Deps
}

func New(deps provider.Deps) *Provider {
	return &Provider{deps: deps}
}

func (p *Provider) Name() string        { return Name }
func (p *Provider) DefaultIcon() string { return icon }

func (p *Provider) ConfiguredSources(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Ical))
	for name := range cfg.Ical {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Provider) Fields() []provider.Field {
	return []provider.Field{{Name: FieldURL, Kind: provider.FieldText}}
}

func (p *Provider) FieldValues(context.Context, map[string]string, string) ([]string, error) {
	return nil, nil
}

func (p *Provider) Values(cfg *config.Config, source string) (map[string]string, bool) {
	c, ok := cfg.Ical[source]
	if !ok {
		return nil, false
	}
	return map[string]string{FieldURL: c.IcalURL}, true
}

func (p *Provider) FetchEvents(ctx context.Context, cfg *config.Config, source string, day model.Day) ([]model.Event, error) {
	c, ok := cfg.Ical[source]
	if !ok {
		return nil, fmt.Errorf("%w: ical source %q", provider.ErrNotFound, source)
	}

	f := NewFetcher(p.deps.HTTPClient(false), p.deps.Cache, p.deps.UserAgent)
	body, err := f.Fetch(ctx, source, c.IcalURL, day.End())
	if err != nil {
		return nil, err
	}

	parsed, err := parseICS(body, day.Location())
	if err != nil {
		return nil, err
	}

	occs := expandDay(parsed, day)
	events := make([]model.Event, 0, len(occs))
	for _, o := range occs {
		events = append(events, toEvent(o, day))
	}
	return events, nil
}

func toEvent(o occurrence, day model.Day) model.Event {
	var extra string
	if o.HasEnd {
		d := o.End.Sub(o.Start)
		extra = fmt.Sprintf("End: %s; duration: %d:%02d", o.End.In(day.Location()).Format("15:04"), int(d.Hours()), int(d.Minutes())%60)
	}
	return model.Event{
		SourceLabel:  Name,
		Icon:         icon,
		Time:         day.TimeOf(o.Start),
		Title:        o.Summary,
		Header:       o.Summary,
		Body:         model.PlainText(extra),
		ExtraDetails: extra,
	}
}
