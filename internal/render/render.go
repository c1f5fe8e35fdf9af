// Package render prints a timeline to a terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"daylog/internal/model"
)

const (
	defaultWidth = 100
	bodyIndent   = 8
)

type Options struct {
	// Width is the terminal width; 0 means 100 columns.
	Width int
	// Details prints headers and bodies under each event line.
	Details bool
	// Plain disables styling.
	Plain bool
}

type styleFunc func(strs ...string) string

type styles struct {
	day, time, label, extra, body styleFunc
}

func newStyles(w io.Writer, plain bool) styles {
	if plain {
		id := func(strs ...string) string { return strings.Join(strs, " ") }
		return styles{day: id, time: id, label: id, extra: id, body: id}
	}
	r := lipgloss.NewRenderer(w)
	return styles{
		day:   r.NewStyle().Bold(true).Underline(true).Render,
		time:  r.NewStyle().Bold(true).Render,
		label: r.NewStyle().Foreground(lipgloss.ANSIColor(63)).Render,
		extra: r.NewStyle().Faint(true).Render,
		body:  r.NewStyle().Foreground(lipgloss.ANSIColor(245)).Render,
	}
}

// Timeline writes the events of day, one line each.
func Timeline(w io.Writer, day model.Day, events []model.Event, opts Options) error {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	st := newStyles(w, opts.Plain)

	var b strings.Builder
	b.WriteString(st.day(day.Start().Format("Monday 2 January 2006")))
	b.WriteString("\n\n")
	if len(events) == 0 {
		b.WriteString("No events.\n")
	}
	for _, e := range events {
		line := st.time(e.Time.HourMinute()) + "  " +
			st.label(fmt.Sprintf("%-7s", e.SourceLabel)) + " " + e.Title
		if e.ExtraDetails != "" {
			line += "  " + st.extra("("+e.ExtraDetails+")")
		}
		b.WriteString(line)
		b.WriteString("\n")
		if opts.Details {
			if text := Details(e, opts.Width-bodyIndent); text != "" {
				b.WriteString(st.body(indent.String(text, bodyIndent)))
				b.WriteString("\n")
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Details renders the header and body of e as plain text wrapped to width.
// Markup bodies without word wrap are kept line for line.
func Details(e model.Event, width int) string {
	var parts []string
	if e.Header != "" && e.Header != e.Title {
		parts = append(parts, wordwrap.String(e.Header, width))
	}
	text := e.Body.Text
	wrap := true
	if e.Body.Kind == model.BodyMarkup {
		text = MarkupText(text)
		wrap = e.Body.WordWrap
	}
	text = strings.TrimRight(text, "\n")
	if text != "" {
		if wrap {
			text = wordwrap.String(text, width)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

// MarkupText strips markup tags. Links are written as "label <href>".
func MarkupText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + markup + "</body>"))
	if err != nil {
		return markup
	}
	var b strings.Builder
	writeText(&b, doc.Find("body").Contents())
	return b.String()
}

func writeText(b *strings.Builder, sel *goquery.Selection) {
	sel.Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "#text":
			b.WriteString(s.Text())
		case "br":
			b.WriteString("\n")
		case "a":
			writeText(b, s.Contents())
			if href, ok := s.Attr("href"); ok && href != "" {
				b.WriteString(" <" + href + ">")
			}
		default:
			writeText(b, s.Contents())
		}
	})
}
