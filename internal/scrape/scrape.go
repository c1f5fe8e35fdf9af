// Package scrape holds the HTML helpers shared by the providers that read
// web pages instead of an API.
package scrape

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"daylog/internal/provider"
)

// Parse parses an HTML page.
func Parse(page string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%w: html: %v", provider.ErrParse, err)
	}
	return doc, nil
}

// Attr returns attribute attr of the first element matching selector.
func Attr(doc *goquery.Document, selector, attr string) (string, bool) {
	return doc.Find(selector).First().Attr(attr)
}

// Text is the trimmed text content of s.
func Text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

// Escape makes s safe to embed in a markup body.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Link builds the markup of a hyperlink.
func Link(href, label string) string {
	return `<a href="` + html.EscapeString(href) + `">` + html.EscapeString(label) + `</a>`
}

// Resolve turns a link found on a page of base into an absolute URL.
func Resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return base + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return base + href
	}
	return b.ResolveReference(ref).String()
}
