// Package gitlab reports review comments and accepted merge requests from
// the GitLab events API.
package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
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
	Name = "Gitlab"

	commentIcon  = "comment-dots-symbolic"
	acceptedIcon = "check-square-symbolic"

	FieldURL   = "gitlab_url"
	FieldToken = "personal_access_token"

	tokenHeader = "PRIVATE-TOKEN"
	perPage     = 100
	maxPages    = 20
)

type position struct {
	NewPath string `json:"new_path"`
	NewLine int    `json:"new_line"`
}

type note struct {
	Body         string    `json:"body"`
	Type         string    `json:"type"`
	NoteableType string    `json:"noteable_type"`
	Position     *position `json:"position"`
}

type event struct {
	ProjectID   int       `json:"project_id"`
	ActionName  string    `json:"action_name"`
	TargetType  string    `json:"target_type"`
	TargetTitle string    `json:"target_title"`
	TargetIID   int       `json:"target_iid"`
	CreatedAt   time.Time `json:"created_at"`
	Note        *note     `json:"note"`
}

type project struct {
	ID                int    `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

// Provider implements provider.Provider for GitLab instances.
type Provider struct {
	deps provider.Deps
}

func New(deps provider.Deps) *Provider {
	return &Provider{deps: deps}
}

func (p *Provider) Name() string        { return Name }
func (p *Provider) DefaultIcon() string { return commentIcon }

func (p *Provider) ConfiguredSources(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Gitlab))
	for name := range cfg.Gitlab {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Provider) Fields() []provider.Field {
	return []provider.Field{
		{Name: FieldURL, Kind: provider.FieldText, Default: "https://gitlab.com"},
		{Name: FieldToken, Kind: provider.FieldPassword},
	}
}

func (p *Provider) FieldValues(context.Context, map[string]string, string) ([]string, error) {
	return nil, nil
}

func (p *Provider) Values(cfg *config.Config, source string) (map[string]string, bool) {
	c, ok := cfg.Gitlab[source]
	if !ok {
		return nil, false
	}
	return map[string]string{FieldURL: c.GitlabURL, FieldToken: c.PersonalAccessToken}, true
}

type client struct {
	http   *http.Client
	base   string
	opts   httpx.Options
	deps   provider.Deps
	source string
}

func (p *Provider) FetchEvents(ctx context.Context, cfg *config.Config, source string, day model.Day) ([]model.Event, error) {
	c, ok := cfg.Gitlab[source]
	if !ok {
		return nil, fmt.Errorf("%w: gitlab source %q", provider.ErrNotFound, source)
	}
	cl := &client{
		http: p.deps.HTTPClient(false),
		base: strings.TrimRight(c.GitlabURL, "/"),
		opts: httpx.Options{
			Header:    http.Header{tokenHeader: {c.PersonalAccessToken}},
			UserAgent: p.deps.UserAgent,
		},
		deps:   p.deps,
		source: source,
	}

	all, err := cl.events(ctx, day)
	if err != nil {
		return nil, err
	}
	var inDay []event
	for _, e := range all {
		if day.Contains(e.CreatedAt) {
			inDay = append(inDay, e)
		}
	}

	events := commentEvents(inDay, day)
	accepted, err := cl.acceptedEvents(ctx, inDay, day)
	if err != nil {
		return nil, err
	}
	return append(events, accepted...), nil
}

// events returns the raw events around day, following X-Next-Page. The
// pages are cached together as one JSON array.
func (c *client) events(ctx context.Context, day model.Day) ([]event, error) {
	raw, ok, err := c.deps.Cache.Get(Name, c.source, day.End())
	if err != nil {
		return nil, err
	}
	if !ok {
		if raw, err = c.fetchEventPages(ctx, day); err != nil {
			return nil, err
		}
		if err := c.deps.Cache.Put(Name, c.source, raw); err != nil {
			return nil, err
		}
	}
	var all []event
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil, fmt.Errorf("%w: gitlab events: %v", provider.ErrParse, err)
	}
	return all, nil
}

func (c *client) fetchEventPages(ctx context.Context, day model.Day) (string, error) {
	// The API filters on dates only, so ask for a day on each side and
	// filter on the exact window afterwards.
	path := fmt.Sprintf("/api/v4/events?after=%s&before=%s&per_page=%d", day.AddDays(-1), day.AddDays(1), perPage)

	all := []json.RawMessage{}
	next := "1"
	for page := 0; next != ""; page++ {
		if page == maxPages {
			appLog.Warn("gitlab events truncated", "source", c.source, "day", day, "pages", page)
			break
		}
		var hdr http.Header
		body, err := c.get(ctx, path+"&page="+next, &hdr)
		if err != nil {
			return "", err
		}
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return "", fmt.Errorf("%w: gitlab events: %v", provider.ErrParse, err)
		}
		all = append(all, items...)
		next = strings.TrimSpace(hdr.Get("X-Next-Page"))
	}
	b, err := json.Marshal(all)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// get fetches path from the API; a 404 becomes provider.ErrNotFound.
func (c *client) get(ctx context.Context, path string, hdr *http.Header) (string, error) {
	opts := c.opts
	opts.ResponseHeader = hdr
	body, err := httpx.Get(ctx, c.http, c.base+path, opts)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %v", provider.ErrNotFound, err)
		}
		return "", err
	}
	return body, nil
}

// projectCacheKey keeps project metadata apart from the events cache. The
// '.' separators never appear in a sanitized source name.
func projectCacheKey(id int) string {
	return Name + ".project." + strconv.Itoa(id) + "."
}

// project fetches project metadata. Any cached copy is good enough.
func (c *client) project(ctx context.Context, id int) (project, error) {
	key := projectCacheKey(id)
	raw, ok, err := c.deps.Cache.Get(key, c.source, time.Time{})
	if err != nil {
		return project{}, err
	}
	if !ok {
		if raw, err = c.get(ctx, "/api/v4/projects/"+strconv.Itoa(id), nil); err != nil {
			return project{}, err
		}
		if err := c.deps.Cache.Put(key, c.source, raw); err != nil {
			return project{}, err
		}
	}
	var p project
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return project{}, fmt.Errorf("%w: gitlab project %d: %v", provider.ErrParse, id, err)
	}
	return p, nil
}

func noteTypeLabel(noteableType string) string {
	if noteableType == "MergeRequest" {
		return "Merge Request comment"
	}
	return noteableType
}

// commentEvents merges the notes on one target into a single event, in the
// order targets first appear.
func commentEvents(events []event, day model.Day) []model.Event {
	var titles []string
	groups := map[string][]event{}
	for _, e := range events {
		if e.Note == nil || e.TargetTitle == "" {
			continue
		}
		if _, ok := groups[e.TargetTitle]; !ok {
			titles = append(titles, e.TargetTitle)
		}
		groups[e.TargetTitle] = append(groups[e.TargetTitle], e)
	}

	out := make([]model.Event, 0, len(titles))
	for _, title := range titles {
		group := groups[title]
		earliest := group[0].CreatedAt
		chunks := make([]string, 0, len(group))
		for _, e := range group {
			if e.CreatedAt.Before(earliest) {
				earliest = e.CreatedAt
			}
			chunks = append(chunks, noteChunk(e.Note))
		}
		label := noteTypeLabel(group[0].Note.NoteableType)
		out = append(out, model.Event{
			SourceLabel:  Name,
			Icon:         commentIcon,
			Time:         day.TimeOf(earliest),
			Title:        title,
			Header:       label + ": " + title,
			Body:         model.Markup(strings.Join(chunks, "\n\n"), true),
			ExtraDetails: label,
		})
	}
	return out
}

// noteChunk renders one note; diff notes are prefixed with their location.
func noteChunk(n *note) string {
	if n.Position == nil {
		return scrape.Escape(n.Body)
	}
	return fmt.Sprintf("<b>%s</b>:%d\n    %s", scrape.Escape(n.Position.NewPath), n.Position.NewLine, scrape.Escape(n.Body))
}

func (c *client) acceptedEvents(ctx context.Context, events []event, day model.Day) ([]model.Event, error) {
	var out []model.Event
	projects := map[int]project{}
	for _, e := range events {
		if e.ActionName != "accepted" || e.TargetType != "MergeRequest" {
			continue
		}
		header := fmt.Sprintf("Merge Request #%d Accepted: %s", e.TargetIID, e.TargetTitle)
		body := header
		if e.ProjectID != 0 {
			prj, ok := projects[e.ProjectID]
			if !ok {
				var err error
				if prj, err = c.project(ctx, e.ProjectID); err != nil {
					return nil, err
				}
				projects[e.ProjectID] = prj
			}
			if prj.WebURL != "" {
				body += fmt.Sprintf("\n%s/-/merge_requests/%d", prj.WebURL, e.TargetIID)
			}
		}
		appLog.Debug("gitlab merge request accepted", "iid", e.TargetIID, "project", e.ProjectID)
		out = append(out, model.Event{
			SourceLabel:  Name,
			Icon:         acceptedIcon,
			Time:         day.TimeOf(e.CreatedAt),
			Title:        e.TargetTitle,
			Header:       header,
			Body:         model.PlainText(body),
			ExtraDetails: "Merge Request accepted",
		})
	}
	return out, nil
}
