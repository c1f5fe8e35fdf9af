package model

import (
	"fmt"
	"sort"
	"time"
)

// BodyKind tells a presentation layer how to interpret Body.Text.
type BodyKind int

const (
	// BodyPlainText must be displayed verbatim, never as markup.
	BodyPlainText BodyKind = iota
	// BodyMarkup may contain simple inline formatting and hyperlinks.
	BodyMarkup
)

func (k BodyKind) String() string {
	if k == BodyMarkup {
		return "markup"
	}
	return "plain"
}

// Body is the detailed contents of an event.
type Body struct {
	Kind BodyKind
	Text string
	// WordWrap is only meaningful for markup bodies; plain text is always
	// wrapped by the view.
	WordWrap bool
}

func PlainText(s string) Body {
	return Body{Kind: BodyPlainText, Text: s}
}

func Markup(s string, wordWrap bool) Body {
	return Body{Kind: BodyMarkup, Text: s, WordWrap: wordWrap}
}

// TimeOfDay is a wall-clock time without a date component. The date is
// always the day an aggregation was requested for.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// TimeOfDayOf returns the wall clock of t in loc.
func TimeOfDayOf(t time.Time, loc *time.Location) TimeOfDay {
	if loc != nil {
		t = t.In(loc)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.seconds() < o.seconds()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// HourMinute formats as "15:04", the way timelines display it.
func (t TimeOfDay) HourMinute() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Event is the normalized unit every provider produces.
type Event struct {
	SourceLabel string
	Icon        string
	Time        TimeOfDay

	Title  string
	Header string
	Body   Body

	// ExtraDetails is a short optional annotation; empty means absent.
	ExtraDetails string
}

// SortByTime orders events by time of day, keeping the relative order of
// events with equal times.
func SortByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
}

// Day is a calendar day interpreted in a location.
type Day struct {
	Year  int
	Month time.Month
	Day   int
	Loc   *time.Location
}

// DayOf returns the calendar day containing t in loc (time.Local if nil).
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day(), Loc: loc}
}

// ParseDay parses "2006-01-02" in loc.
func ParseDay(s string, loc *time.Location) (Day, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return DayOf(t, loc), nil
}

// Location is Loc, or time.Local when unset.
func (d Day) Location() *time.Location {
	if d.Loc == nil {
		return time.Local
	}
	return d.Loc
}

// Start is midnight at the beginning of the day.
func (d Day) Start() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, d.Location())
}

// End is midnight of the following day. On DST transitions the day is not
// 24 hours long, which AddDate accounts for.
func (d Day) End() time.Time {
	return d.Start().AddDate(0, 0, 1)
}

// Contains reports whether t is within [Start, End).
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start()) && t.Before(d.End())
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	return DayOf(d.Start().AddDate(0, 0, n), d.Location())
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// TimeOf is TimeOfDayOf in the day's location.
func (d Day) TimeOf(t time.Time) TimeOfDay {
	return TimeOfDayOf(t, d.Location())
}
