// Package email reads the messages of a local mbox file that were sent on a
// given day.
package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/emersion/go-message"

	"daylog/internal/config"
	appLog "daylog/internal/log"
	"daylog/internal/model"
	"daylog/internal/provider"
)

const (
	Name = "Email"
	icon = "envelope-symbolic"

	FieldMboxPath = "mbox_file_path"
)

// Provider implements provider.Provider for mbox files.
type Provider struct {
	bufSize int
}

func New() *Provider {
	return &Provider{bufSize: defaultBufSize}
}

func (p *Provider) Name() string        { return Name }
func (p *Provider) DefaultIcon() string { return icon }

func (p *Provider) ConfiguredSources(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Email))
	for name := range cfg.Email {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Provider) Fields() []provider.Field {
	return []provider.Field{{Name: FieldMboxPath, Kind: provider.FieldPath}}
}

func (p *Provider) FieldValues(context.Context, map[string]string, string) ([]string, error) {
	return nil, nil
}

func (p *Provider) Values(cfg *config.Config, source string) (map[string]string, bool) {
	c, ok := cfg.Email[source]
	if !ok {
		return nil, false
	}
	return map[string]string{FieldMboxPath: c.MboxFilePath}, true
}

func (p *Provider) FetchEvents(ctx context.Context, cfg *config.Config, source string, day model.Day) ([]model.Event, error) {
	c, ok := cfg.Email[source]
	if !ok {
		return nil, fmt.Errorf("%w: email source %q", provider.ErrNotFound, source)
	}
	f, err := os.Open(config.ExpandHome(c.MboxFilePath))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return p.eventsFrom(ctx, f, day)
}

// eventsFrom walks the mailbox backwards: first past the messages newer
// than the day, then through the day's messages until an older one shows
// up. Messages before that are never read.
func (p *Provider) eventsFrom(ctx context.Context, r io.ReadSeeker, day model.Day) ([]model.Event, error) {
	s, err := newReverseScanner(r, p.bufSize)
	if err != nil {
		return nil, err
	}

	first, firstDate, err := findFirstBefore(s, day.End(), day.Loc)
	if err != nil || first == nil {
		return nil, err
	}
	if firstDate.Before(day.Start()) {
		return nil, nil
	}

	firstEvent, err := messageToEvent(first, firstDate, day)
	if err != nil {
		return nil, err
	}
	events, err := collectUntil(ctx, s, day)
	if err != nil {
		return nil, err
	}
	// Sorting happens in the aggregator; appending is enough here.
	return append(events, firstEvent), nil
}

// findFirstBefore skips the messages dated at or after end, only parsing
// their headers. It returns the first older message, or nil when the start
// of the file or a message without a usable date is reached.
func findFirstBefore(s *reverseScanner, end time.Time, loc *time.Location) (*message.Entity, time.Time, error) {
	for {
		raw, err := s.next()
		if errors.Is(err, io.EOF) {
			return nil, time.Time{}, nil
		}
		if err != nil {
			return nil, time.Time{}, err
		}
		e, err := readEntity(raw)
		if err != nil {
			return nil, time.Time{}, err
		}
		date, ok := headerDate(e.Header, loc)
		if !ok {
			return nil, time.Time{}, nil
		}
		if date.Before(end) {
			return e, date, nil
		}
	}
}

// collectUntil keeps reading backwards, converting every message dated
// within the day, and stops at the first one that is older or undated.
func collectUntil(ctx context.Context, s *reverseScanner, day model.Day) ([]model.Event, error) {
	var events []model.Event
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := s.next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		e, err := readEntity(raw)
		if err != nil {
			return nil, err
		}
		date, ok := headerDate(e.Header, day.Loc)
		if !ok || date.Before(day.Start()) {
			return events, nil
		}
		ev, err := messageToEvent(e, date, day)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
}

func messageToEvent(e *message.Entity, date time.Time, day model.Day) (model.Event, error) {
	text, err := plainTextBody(e)
	if err != nil {
		return model.Event{}, err
	}
	subject := headerText(e.Header, "Subject")
	if subject == "" {
		subject = "-"
	}
	to := headerText(e.Header, "To")
	appLog.Debug("email matched", "subject", subject, "date", date.Format(time.RFC3339))
	return model.Event{
		SourceLabel:  Name,
		Icon:         icon,
		Time:         day.TimeOf(date),
		Title:        subject,
		Header:       subject,
		Body:         model.PlainText(text),
		ExtraDetails: to,
	}, nil
}
