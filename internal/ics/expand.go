package ics

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "daylog/internal/log"
	"daylog/internal/model"
)

// occurrence is one concrete instance of a parsedEvent.
type occurrence struct {
	Summary string
	Start   time.Time
	End     time.Time
	HasEnd  bool
}

// expandDay returns the occurrences starting within the day, ordered by
// start. Recurring events are expanded with their EXDATEs removed, and an
// instance with a RECURRENCE-ID override is replaced by the override.
func expandDay(events []parsedEvent, day model.Day) []occurrence {
	baseByUID := make(map[string][]parsedEvent)
	overridesByUID := make(map[string][]parsedEvent)
	var uids []string

	for _, ev := range events {
		if ev.Recurrence != nil && ev.UID != "" {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, ok := baseByUID[ev.UID]; !ok {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}
	// Overrides whose series is not in the feed stand on their own.
	for uid, ovs := range overridesByUID {
		if _, ok := baseByUID[uid]; ok {
			continue
		}
		uids = append(uids, uid)
		for _, ov := range ovs {
			ov.Recurrence = nil
			baseByUID[uid] = append(baseByUID[uid], ov)
		}
	}

	var out []occurrence
	for _, uid := range uids {
		for _, ev := range baseByUID[uid] {
			out = append(out, expandEvent(ev, overridesByUID[uid], day)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func expandEvent(ev parsedEvent, overrides []parsedEvent, day model.Day) []occurrence {
	if ev.RawRRule == "" || ev.Recurrence != nil {
		if day.Contains(ev.Start) {
			return []occurrence{makeOccurrence(ev, ev.Start, ev.End)}
		}
		return nil
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	var out []occurrence
	// An override may move an instance into the day from another day, so
	// they are checked separately below.
	for _, start := range set.Between(day.Start(), day.End(), true) {
		if _, overridden := findOverride(overrides, start); overridden {
			continue
		}
		if !day.Contains(start) {
			continue
		}
		out = append(out, makeOccurrence(ev, start, start.Add(ev.End.Sub(ev.Start))))
	}
	for _, ov := range overrides {
		if !isExcluded(ev, *ov.Recurrence) && day.Contains(ov.Start) {
			out = append(out, makeOccurrence(ov, ov.Start, ov.End))
		}
	}
	return out
}

// findOverride finds the override whose RECURRENCE-ID is start.
func findOverride(overrides []parsedEvent, start time.Time) (parsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return parsedEvent{}, false
}

func isExcluded(ev parsedEvent, t time.Time) bool {
	for _, ex := range ev.ExDates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}

func makeOccurrence(ev parsedEvent, start, end time.Time) occurrence {
	return occurrence{Summary: ev.Summary, Start: start, End: end, HasEnd: ev.HasEnd}
}
