// Package stackexchange lists the votes a user cast on a Stack Exchange
// site. The public API does not expose a user's own votes, so the profile
// votes tab is scraped after logging in.
package stackexchange

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"daylog/internal/config"
	"daylog/internal/httpx"
	appLog "daylog/internal/log"
	"daylog/internal/model"
	"daylog/internal/provider"
	"daylog/internal/scrape"
)

const (
	Name  = "StackExchange"
	label = "S.Exch"
	icon  = "thumbs-up-symbolic"

	FieldSiteURL    = "exchange_site_url"
	FieldUsername   = "username"
	FieldPassword   = "password"
	FieldUseBrowser = "use_browser"

	voteDateLayout = "2006-01-02 15:04:05Z07:00"
)

// Provider implements provider.Provider for Stack Exchange sites.
type Provider struct {
	deps provider.Deps
	// browserVotesPage serves sources with use_browser set.
	browserVotesPage func(ctx context.Context, c config.StackExchangeConfig, userAgent string) (string, error)
}

func New(deps provider.Deps) *Provider {
	return &Provider{deps: deps, browserVotesPage: browserVotesPage}
}

func (p *Provider) Name() string        { return Name }
func (p *Provider) DefaultIcon() string { return icon }

func (p *Provider) ConfiguredSources(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.StackExchange))
	for name := range cfg.StackExchange {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Provider) Fields() []provider.Field {
	return []provider.Field{
		{Name: FieldSiteURL, Kind: provider.FieldText, Default: "https://stackoverflow.com"},
		{Name: FieldUsername, Kind: provider.FieldText},
		{Name: FieldPassword, Kind: provider.FieldPassword},
		{Name: FieldUseBrowser, Kind: provider.FieldBool, Default: "false"},
	}
}

func (p *Provider) FieldValues(context.Context, map[string]string, string) ([]string, error) {
	return nil, nil
}

func (p *Provider) Values(cfg *config.Config, source string) (map[string]string, bool) {
	c, ok := cfg.StackExchange[source]
	if !ok {
		return nil, false
	}
	return map[string]string{
		FieldSiteURL:    c.ExchangeSiteURL,
		FieldUsername:   c.Username,
		FieldPassword:   c.Password,
		FieldUseBrowser: fmt.Sprint(c.UseBrowser),
	}, true
}

func (p *Provider) FetchEvents(ctx context.Context, cfg *config.Config, source string, day model.Day) ([]model.Event, error) {
	c, ok := cfg.StackExchange[source]
	if !ok {
		return nil, fmt.Errorf("%w: stackexchange source %q", provider.ErrNotFound, source)
	}
	c.ExchangeSiteURL = strings.TrimRight(c.ExchangeSiteURL, "/")

	page, ok, err := p.deps.Cache.Get(Name, source, day.End())
	if err != nil {
		return nil, err
	}
	if !ok {
		if c.UseBrowser {
			page, err = p.browserVotesPage(ctx, c, p.deps.UserAgent)
		} else {
			page, err = p.votesPage(ctx, c)
		}
		if err != nil {
			return nil, err
		}
		if err := p.deps.Cache.Put(Name, source, page); err != nil {
			return nil, err
		}
	}
	return parseVotes(page, c.ExchangeSiteURL, day)
}

// loginPath is the login form URL. The return URL is escaped the way the
// site's own login link does it.
func loginPath(site string) string {
	returnURL := strings.NewReplacer("/", "%2f", ":", "%3a").Replace(site)
	return "/users/login?ssrc=head&returnurl=" + returnURL
}

func (p *Provider) votesPage(ctx context.Context, c config.StackExchangeConfig) (string, error) {
	client := p.deps.HTTPClient(true)
	opts := httpx.Options{UserAgent: p.deps.UserAgent}

	loginPage, err := httpx.Get(ctx, client, c.ExchangeSiteURL+loginPath(c.ExchangeSiteURL), opts)
	if err != nil {
		return "", err
	}
	doc, err := scrape.Parse(loginPage)
	if err != nil {
		return "", err
	}
	fkey, ok := scrape.Attr(doc, "input[name=fkey]", "value")
	if !ok {
		return "", fmt.Errorf("%w: stackexchange login: can't find fkey", provider.ErrParse)
	}

	form := url.Values{
		"ssrc":          {"head"},
		"fkey":          {fkey},
		"email":         {c.Username},
		"password":      {c.Password},
		"oauth_version": {""},
		"oauth_server":  {""},
	}
	home, err := httpx.PostForm(ctx, client, c.ExchangeSiteURL+loginPath(c.ExchangeSiteURL), form, opts)
	if err != nil {
		return "", err
	}
	profile, err := profileLink(home, c.Username)
	if err != nil {
		return "", err
	}
	appLog.Debug("stackexchange logged in", "site", c.ExchangeSiteURL, "profile", profile)
	return httpx.Get(ctx, client, scrape.Resolve(c.ExchangeSiteURL+"/", profile+"?tab=votes"), opts)
}

// profileLink checks the page shown after login and returns the link to
// the user's profile.
func profileLink(page, username string) (string, error) {
	if strings.Contains(page, "Human verification") && strings.Contains(page, "Are you a human being?") {
		return "", fmt.Errorf("%w: stackexchange login rejected by human verification", provider.ErrAuth)
	}
	doc, err := scrape.Parse(page)
	if err != nil {
		return "", err
	}
	href, ok := scrape.Attr(doc, "a.my-profile.js-gps-track", "href")
	if !ok || href == "" {
		return "", fmt.Errorf("%w: stackexchange login as %s: no profile link", provider.ErrAuth, username)
	}
	return href, nil
}

// parseVotes pairs the n-th question or answer link of the votes table
// with its n-th date and keeps the votes within the day.
func parseVotes(page, site string, day model.Day) ([]model.Event, error) {
	doc, err := scrape.Parse(page)
	if err != nil {
		return nil, err
	}
	links := doc.Find("table.history-table a.answer-hyperlink,table.history-table a.question-hyperlink")
	dates := doc.Find("table.history-table div.date")

	var events []model.Event
	for i := 0; i < dates.Length() && i < links.Length(); i++ {
		dateNode := dates.Eq(i)
		raw, ok := dateNode.Attr("title")
		if !ok {
			raw, ok = dateNode.Find("div.date_brick").First().Attr("title")
		}
		if !ok {
			appLog.Debug("stackexchange vote without date", "index", i)
			continue
		}
		when, err := time.Parse(voteDateLayout, strings.TrimSpace(raw))
		if err != nil {
			appLog.Debug("stackexchange unreadable vote date", "date", raw)
			continue
		}
		if !day.Contains(when) {
			continue
		}

		link := links.Eq(i)
		href, ok := link.Attr("href")
		if !ok {
			continue
		}
		title := scrape.Text(link)
		body := scrape.Link(scrape.Resolve(site+"/", href), "Open in the browser") +
			"\n\nStack Exchange vote: " + scrape.Escape(site)
		events = append(events, model.Event{
			SourceLabel:  label,
			Icon:         icon,
			Time:         day.TimeOf(when),
			Title:        title,
			Header:       "Vote: " + title,
			Body:         model.Markup(body, true),
			ExtraDetails: "Vote",
		})
	}
	return events, nil
}
