package redmine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	appLog "daylog/internal/log"
	"daylog/internal/model"
	"daylog/internal/provider"
)

// locale is how a Redmine UI language prints activity day headers.
type locale struct {
	dateLayout string
	// today replaces the date of the current day.
	today string
}

const defaultLocale = "en"

var locales = map[string]locale{
	"en":    {dateLayout: "1/2/2006", today: "Today"},
	"en-GB": {dateLayout: "2/1/2006", today: "Today"},
	"fr":    {dateLayout: "2/1/2006", today: "Aujourd'hui"},
	"de":    {dateLayout: "2.1.2006", today: "Heute"},
	"es":    {dateLayout: "2006-1-2", today: "Hoy"},
	"it":    {dateLayout: "2-1-2006", today: "Oggi"},
}

// Activity times are either 12 or 24 hour, depending on the user's settings.
var timeLayouts = []string{"3:04 PM", "15:04"}

func localeNames() []string {
	names := make([]string, 0, len(locales))
	for name := range locales {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func localeFor(name string) locale {
	if name == "" {
		return locales[defaultLocale]
	}
	if l, ok := locales[name]; ok {
		return l
	}
	appLog.Warn("unknown redmine locale, using default", "locale", name, "default", defaultLocale)
	return locales[defaultLocale]
}

// parseDate reads a day header. today is the day the page was rendered.
func (l locale) parseDate(s string, today model.Day) (model.Day, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, l.today) || strings.EqualFold(s, "Today") {
		return today, nil
	}
	t, err := time.ParseInLocation(l.dateLayout, s, today.Location())
	if err != nil {
		return model.Day{}, fmt.Errorf("%w: redmine day header %q", provider.ErrParse, s)
	}
	return model.DayOf(t, today.Location()), nil
}

func parseTime(s string) (model.TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return model.TimeOfDay{}, fmt.Errorf("%w: redmine time %q", provider.ErrParse, s)
}
