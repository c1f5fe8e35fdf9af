// Package redmine reads a user's activity from the Redmine web UI. The REST
// API has no activity endpoint and may not be enabled for regular users, so
// the HTML pages are scraped after a form login.
package redmine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"daylog/internal/config"
	"daylog/internal/httpx"
	appLog "daylog/internal/log"
	"daylog/internal/model"
	"daylog/internal/provider"
	"daylog/internal/scrape"
)

const (
	Name = "Redmine"
	icon = "tasks-symbolic"

	FieldServerURL = "server_url"
	FieldUsername  = "username"
	FieldPassword  = "password"
	FieldLocale    = "locale"

	defaultPageInterval = 500 * time.Millisecond
	// maxPages stops a walk through an activity history with nothing on
	// the requested day.
	maxPages = 50
)

// Provider implements provider.Provider for Redmine servers.
type Provider struct {
	deps provider.Deps
	now  func() time.Time
	// pageInterval spaces requests for older activity pages.
	pageInterval time.Duration
}

func New(deps provider.Deps) *Provider {
	return &Provider{deps: deps, now: time.Now, pageInterval: defaultPageInterval}
}

func (p *Provider) Name() string        { return Name }
func (p *Provider) DefaultIcon() string { return icon }

func (p *Provider) ConfiguredSources(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Redmine))
	for name := range cfg.Redmine {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Provider) Fields() []provider.Field {
	return []provider.Field{
		{Name: FieldServerURL, Kind: provider.FieldText},
		{Name: FieldUsername, Kind: provider.FieldText},
		{Name: FieldPassword, Kind: provider.FieldPassword},
		{Name: FieldLocale, Kind: provider.FieldCombo, Default: defaultLocale},
	}
}

// FieldValues lists the supported UI languages for the locale combo.
func (p *Provider) FieldValues(_ context.Context, _ map[string]string, field string) ([]string, error) {
	if field != FieldLocale {
		return nil, nil
	}
	return localeNames(), nil
}

func (p *Provider) Values(cfg *config.Config, source string) (map[string]string, bool) {
	c, ok := cfg.Redmine[source]
	if !ok {
		return nil, false
	}
	return map[string]string{
		FieldServerURL: c.ServerURL,
		FieldUsername:  c.Username,
		FieldPassword:  c.Password,
		FieldLocale:    c.Locale,
	}, true
}

// session is the state of one fetch. The client is nil until a login was
// needed.
type session struct {
	deps   provider.Deps
	cfg    config.RedmineConfig
	server string
	client *http.Client
	opts   httpx.Options
}

func (p *Provider) FetchEvents(ctx context.Context, cfg *config.Config, source string, day model.Day) ([]model.Event, error) {
	c, ok := cfg.Redmine[source]
	if !ok {
		return nil, fmt.Errorf("%w: redmine source %q", provider.ErrNotFound, source)
	}
	s := &session{
		deps:   p.deps,
		cfg:    c,
		server: strings.TrimRight(c.ServerURL, "/"),
		opts: httpx.Options{
			UserAgent: p.deps.UserAgent,
			Limiter:   rate.NewLimiter(rate.Every(p.pageInterval), 1),
		},
	}
	loc := localeFor(c.Locale)
	today := model.DayOf(p.now(), day.Location())

	page, ok, err := p.deps.Cache.Get(Name, source, day.End())
	if err != nil {
		return nil, err
	}
	if !ok {
		if page, err = s.fetchActivity(ctx); err != nil {
			return nil, err
		}
		if err := p.deps.Cache.Put(Name, source, page); err != nil {
			return nil, err
		}
	}

	for i := 0; i < maxPages; i++ {
		res, err := parseActivity(page, day, today, s.server, loc)
		if err != nil {
			return nil, err
		}
		if res.done {
			return res.events, nil
		}
		if res.previous == "" {
			return nil, nil
		}
		if err := s.ensureLogin(ctx); err != nil {
			return nil, err
		}
		appLog.Debug("redmine fetching older activity", "url", httpx.Redact(res.previous))
		if page, err = httpx.Get(ctx, s.client, res.previous, s.opts); err != nil {
			return nil, err
		}
	}
	appLog.Warn("redmine activity page limit reached", "source", source, "day", day.String(), "pages", maxPages)
	return nil, nil
}

func (s *session) fetchActivity(ctx context.Context) (string, error) {
	userID, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	return httpx.Get(ctx, s.client, s.server+"/activity?user_id="+url.QueryEscape(userID), s.opts)
}

func (s *session) ensureLogin(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	_, err := s.login(ctx)
	return err
}

// login posts the login form with the CSRF token of the home page and
// returns the id of the logged in user.
func (s *session) login(ctx context.Context) (string, error) {
	s.client = s.deps.HTTPClient(true)

	home, err := httpx.Get(ctx, s.client, s.server, s.opts)
	if err != nil {
		return "", err
	}
	doc, err := scrape.Parse(home)
	if err != nil {
		return "", err
	}
	token, ok := scrape.Attr(doc, "input[name=authenticity_token]", "value")
	if !ok {
		return "", fmt.Errorf("%w: redmine login page has no authenticity token", provider.ErrParse)
	}

	form := url.Values{
		"username":           {s.cfg.Username},
		"password":           {s.cfg.Password},
		"login":              {"Login"},
		"utf8":               {"✓"},
		"back_url":           {s.server},
		"authenticity_token": {token},
	}
	page, err := httpx.PostForm(ctx, s.client, s.server+"/login", form, s.opts)
	if err != nil {
		return "", err
	}
	doc, err = scrape.Parse(page)
	if err != nil {
		return "", err
	}
	href, ok := scrape.Attr(doc, "a.user.active", "href")
	idx := strings.LastIndex(href, "/users/")
	if !ok || idx < 0 {
		return "", fmt.Errorf("%w: redmine login as %s", provider.ErrAuth, s.cfg.Username)
	}
	id := href[idx+len("/users/"):]
	appLog.Debug("redmine logged in", "server", httpx.Redact(s.server), "user_id", id)
	return id, nil
}

type activityPage struct {
	events []model.Event
	// done means the day was found on the page, or a day before it was.
	done     bool
	previous string
}

// parseActivity reads an activity page. Day headers run newest first.
func parseActivity(page string, day, today model.Day, server string, loc locale) (activityPage, error) {
	doc, err := scrape.Parse(page)
	if err != nil {
		return activityPage{}, err
	}
	headers := doc.Find("div#content div#activity h3")
	contents := doc.Find("div#content div#activity h3 + dl")
	n := headers.Length()
	if contents.Length() < n {
		n = contents.Length()
	}

	for i := 0; i < n; i++ {
		d, err := loc.parseDate(scrape.Text(headers.Eq(i)), today)
		if err != nil {
			return activityPage{}, err
		}
		if d.Start().Before(day.Start()) {
			return activityPage{done: true}, nil
		}
		if d.String() == day.String() {
			events, err := parseDayEvents(contents.Eq(i), server)
			if err != nil {
				return activityPage{}, err
			}
			return activityPage{events: events, done: true}, nil
		}
	}

	var res activityPage
	if href, ok := scrape.Attr(doc, "li.previous.page a", "href"); ok && href != "" {
		res.previous = scrape.Resolve(server+"/", href)
	}
	return res, nil
}

// parseDayEvents pairs the n-th time, description and link of a day.
func parseDayEvents(dl *goquery.Selection, server string) ([]model.Event, error) {
	times := dl.Find("span.time")
	descriptions := dl.Find("span.description")
	links := dl.Find("dt.icon a")

	events := make([]model.Event, 0, times.Length())
	for i := 0; i < times.Length(); i++ {
		tod, err := parseTime(scrape.Text(times.Eq(i)))
		if err != nil {
			return nil, err
		}
		link := links.Eq(i)
		if link.Length() == 0 {
			return nil, fmt.Errorf("%w: redmine activity entry %d has no link", provider.ErrParse, i)
		}
		title := scrape.Text(link)
		href, _ := link.Attr("href")
		body := scrape.Link(scrape.Resolve(server+"/", href), "Open in the browser") + "\n" +
			scrape.Escape(scrape.Text(descriptions.Eq(i)))

		events = append(events, model.Event{
			SourceLabel: Name,
			Icon:        icon,
			Time:        tod,
			Title:       title,
			Header:      title,
			Body:        model.Markup(body, true),
		})
	}
	return events, nil
}
