package email

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Date layouts seen in real mailboxes, tried in order after net/mail.
var rfc2822Layouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
}

// Layouts without any zone information; interpreted in the display zone.
var asctimeLayouts = []string{
	"Jan 2 15:04:05 2006",
	"Mon Jan _2 15:04:05 2006",
}

// trailingZoneLen is the length of a " (CET)" style suffix.
const trailingZoneLen = 6

var errUnknownDate = errors.New("unrecognized date format")

// parseMailDate accepts RFC 2822 dates, RFC 2822 dates followed by a
// parenthesized zone name, and two asctime-like forms (in loc).
func parseMailDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := mail.ParseDate(s); err == nil {
		return t, nil
	}
	for _, layout := range rfc2822Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// Drop a trailing " (CET)". This is a blind cut, not a real parse.
	if len(s) > trailingZoneLen {
		if t, err := time.Parse(rfc2822Layouts[0], s[:len(s)-trailingZoneLen]); err == nil {
			return t, nil
		}
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range asctimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errUnknownDate
}
