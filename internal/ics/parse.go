package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "daylog/internal/log"
	"daylog/internal/provider"
)

// parsedEvent is a VEVENT reduced to what the timeline needs. Recurrences
// are recorded here and expanded in expand.go.
type parsedEvent struct {
	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	HasEnd bool
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time
}

var (
	errNoStart   = errors.New("missing DTSTART")
	errNoSummary = errors.New("missing SUMMARY, DESCRIPTION and LOCATION")
)

// parseICS parses a feed. Floating times and dates are read in loc. Events
// without a start or any summary-like text are skipped.
func parseICS(body string, loc *time.Location) ([]parsedEvent, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: ics: %v", provider.ErrParse, err)
	}

	var events []parsedEvent
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Debug("skipping ics event", "uid", ev.UID, "reason", err.Error())
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (parsedEvent, error) {
	var out parsedEvent
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}

	for _, prop := range []ical.ComponentProperty{
		ical.ComponentPropertySummary,
		ical.ComponentPropertyDescription,
		ical.ComponentPropertyLocation,
	} {
		if p := ve.GetProperty(prop); p != nil && p.Value != "" {
			out.Summary = strings.ReplaceAll(p.Value, `\,`, ",")
			break
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errNoStart
	}
	if out.Summary == "" {
		return out, errNoSummary
	}

	start, allDay, err := eventTime(dtStart, ve.GetStartAt, loc)
	if err != nil {
		return out, err
	}
	out.Start, out.AllDay = start, allDay

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		if end, _, err := eventTime(dtEnd, ve.GetEndAt, loc); err == nil {
			out.End, out.HasEnd = end, true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parseICSTime(part, tzid(p.ICalParameters), loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, _, err := parseICSTime(p.Value, tzid(p.ICalParameters), loc); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// eventTime reads DTSTART or DTEND. UTC and TZID times go through the
// library; floating times and dates belong to loc, which the library would
// replace with time.Local.
func eventTime(p *ical.IANAProperty, libTime func() (time.Time, error), loc *time.Location) (time.Time, bool, error) {
	zone := tzid(p.ICalParameters)
	isDate := !strings.Contains(p.Value, "T")
	if !isDate && (zone != "" || strings.HasSuffix(p.Value, "Z")) {
		if t, err := libTime(); err == nil {
			return t, false, nil
		}
	}
	return parseICSTime(p.Value, zone, loc)
}

func tzid(params map[string][]string) string {
	if vs := params["TZID"]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseICSTime parses DATE and DATE-TIME values. It reports whether the
// value was a date.
func parseICSTime(v, zone string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	if zone != "" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		} else {
			appLog.Debug("unknown ics TZID, using display zone", "tzid", zone)
		}
	}

	// 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}
	// 20250101T090000
	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	}
	// 20250101
	t, err := time.ParseInLocation("20060102", v, loc)
	return t, true, err
}
