package redmine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daylog/internal/cache"
	"daylog/internal/config"
	"daylog/internal/model"
	"daylog/internal/provider"
)

const loginPage = `<html><body><form action="/login" method="post">
<input type="hidden" name="authenticity_token" value="tok123">
<input name="username"><input name="password" type="password">
</form></body></html>`

const homeLoggedIn = `<html><body><div id="account">
<a class="user active" href="/users/42">jane</a></div></body></html>`

const activityNewest = `<html><body><div id="content"><div id="activity">
<h3>Today</h3>
<dl>
<dt class="issue icon icon-issue"><span class="time">9:05 AM</span> <a href="/issues/30">Bug #30 (New): Today's bug</a></dt>
<dd><span class="description">Found today</span></dd>
</dl>
<h3>05/15/2024</h3>
<dl>
<dt class="issue-note icon icon-comment"><span class="time">4:30 PM</span> <a href="/issues/20#note-1">Feature #20: Export</a></dt>
<dd><span class="description">Looks good</span></dd>
</dl>
</div>
<ul class="pages"><li class="previous page"><a href="/activity?from=2024-05-14&amp;user_id=42">« Previous</a></li></ul>
</div></body></html>`

const activityOlder = `<html><body><div id="content"><div id="activity">
<h3>05/14/2024</h3>
<dl>
<dt class="issue icon icon-issue"><span class="time">10:12 AM</span> <a href="/issues/9">Bug #9 (Closed): Crash</a></dt>
<dd><span class="description">Fixed &lt;b&gt; tags</span></dd>
<dt class="issue-edit icon icon-edit"><span class="time">2:00 PM</span> <a href="/issues/10">Task #10: Docs</a></dt>
<dd><span class="description">Wrote docs</span></dd>
</dl>
<h3>05/13/2024</h3>
<dl>
<dt class="issue icon icon-issue"><span class="time">11:00 AM</span> <a href="/issues/8">Bug #8: Old</a></dt>
<dd><span class="description">Older</span></dd>
</dl>
</div></div></body></html>`

type fakeRedmine struct {
	*httptest.Server
	logins     atomic.Int32
	activities atomic.Int32
	rejectAll  atomic.Bool
}

func newFakeRedmine(t *testing.T) *fakeRedmine {
	f := &fakeRedmine{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		require.NoError(t, r.ParseForm())
		f.logins.Add(1)
		ok := !f.rejectAll.Load() &&
			r.PostForm.Get("username") == "jane" &&
			r.PostForm.Get("password") == "s3cret" &&
			r.PostForm.Get("authenticity_token") == "tok123" &&
			r.PostForm.Get("utf8") == "✓" &&
			r.PostForm.Get("login") == "Login"
		if !ok {
			fmt.Fprint(w, loginPage)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "_redmine_session", Value: "ok", Path: "/"})
		fmt.Fprint(w, homeLoggedIn)
	})
	mux.HandleFunc("/activity", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("_redmine_session"); err != nil || c.Value != "ok" {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("user_id") != "42" {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		f.activities.Add(1)
		if r.URL.Query().Get("from") == "2024-05-14" {
			fmt.Fprint(w, activityOlder)
			return
		}
		fmt.Fprint(w, activityNewest)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func setup(t *testing.T, srv *fakeRedmine) (*Provider, *config.Config) {
	t.Helper()
	c := cache.New(filepath.Join(t.TempDir(), "cache"))
	p := New(provider.Deps{Cache: c, Timeout: 5 * time.Second})
	p.pageInterval = time.Millisecond
	p.now = func() time.Time { return time.Date(2024, 5, 16, 10, 0, 0, 0, time.UTC) }
	cfg := config.DefaultConfig()
	cfg.Redmine["work"] = config.RedmineConfig{ServerURL: srv.URL + "/", Username: "jane", Password: "s3cret"}
	return p, cfg
}

func may(d int) model.Day {
	return model.Day{Year: 2024, Month: time.May, Day: d, Loc: time.UTC}
}

func TestFetchFollowsPreviousPages(t *testing.T) {
	srv := newFakeRedmine(t)
	p, cfg := setup(t, srv)

	events, err := p.FetchEvents(context.Background(), cfg, "work", may(14))
	require.NoError(t, err)
	require.Len(t, events, 2)

	crash := events[0]
	assert.Equal(t, "Redmine", crash.SourceLabel)
	assert.Equal(t, "tasks-symbolic", crash.Icon)
	assert.Equal(t, model.TimeOfDay{Hour: 10, Minute: 12}, crash.Time)
	assert.Equal(t, "Bug #9 (Closed): Crash", crash.Title)
	assert.Equal(t, crash.Title, crash.Header)
	assert.Equal(t, model.Markup(`<a href="`+srv.URL+`/issues/9">Open in the browser</a>`+"\nFixed &lt;b&gt; tags", true), crash.Body)
	assert.Empty(t, crash.ExtraDetails)

	assert.Equal(t, model.TimeOfDay{Hour: 14}, events[1].Time)
	assert.Equal(t, int32(1), srv.logins.Load())
	assert.Equal(t, int32(2), srv.activities.Load())
}

func TestCachedFirstPageLogsInLazily(t *testing.T) {
	srv := newFakeRedmine(t)
	p, cfg := setup(t, srv)

	// Fills the cache with the newest page; no pagination needed.
	events, err := p.FetchEvents(context.Background(), cfg, "work", may(15))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.TimeOfDay{Hour: 16, Minute: 30}, events[0].Time)
	assert.Equal(t, int32(1), srv.logins.Load())

	events, err = p.FetchEvents(context.Background(), cfg, "work", may(16))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Bug #30 (New): Today's bug", events[0].Title)
	assert.Equal(t, int32(1), srv.logins.Load(), "served from cache")

	events, err = p.FetchEvents(context.Background(), cfg, "work", may(13))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Bug #8: Old", events[0].Title)
	assert.Equal(t, int32(2), srv.logins.Load(), "login only for the older page")
}

func TestDayWithoutActivity(t *testing.T) {
	srv := newFakeRedmine(t)
	p, cfg := setup(t, srv)

	events, err := p.FetchEvents(context.Background(), cfg, "work", may(1))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLoginRejected(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.rejectAll.Store(true)
	p, cfg := setup(t, srv)

	_, err := p.FetchEvents(context.Background(), cfg, "work", may(14))
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrAuth))
}

func TestParseActivityStopsAtOlderDay(t *testing.T) {
	res, err := parseActivity(activityOlder, may(15), may(16), "https://rm.example.com", localeFor("en"))
	require.NoError(t, err)
	assert.True(t, res.done)
	assert.Empty(t, res.events)

	res, err = parseActivity(activityNewest, may(14), may(16), "https://rm.example.com", localeFor("en"))
	require.NoError(t, err)
	assert.False(t, res.done)
	assert.Equal(t, "https://rm.example.com/activity?from=2024-05-14&user_id=42", res.previous)
}

func TestLocales(t *testing.T) {
	today := may(16)
	cases := []struct {
		locale, header string
		want           model.Day
	}{
		{"en", "05/14/2024", may(14)},
		{"en-GB", "14/05/2024", may(14)},
		{"fr", "14/05/2024", may(14)},
		{"fr", "Aujourd'hui", today},
		{"de", "14.05.2024", may(14)},
		{"de", "heute", today},
		{"es", "2024-05-14", may(14)},
		{"it", "14-05-2024", may(14)},
		{"xx", "05/14/2024", may(14)},
	}
	for _, tc := range cases {
		got, err := localeFor(tc.locale).parseDate(tc.header, today)
		require.NoError(t, err, tc.locale)
		assert.Equal(t, tc.want.String(), got.String(), tc.locale)
	}

	_, err := localeFor("en").parseDate("yesterday", today)
	assert.True(t, errors.Is(err, provider.ErrParse))

	tod, err := parseTime("15:45")
	require.NoError(t, err)
	assert.Equal(t, model.TimeOfDay{Hour: 15, Minute: 45}, tod)
	tod, err = parseTime("12:10 AM")
	require.NoError(t, err)
	assert.Equal(t, model.TimeOfDay{Minute: 10}, tod)

	vals, err := New(provider.Deps{}).FieldValues(context.Background(), nil, FieldLocale)
	require.NoError(t, err)
	assert.Equal(t, []string{"de", "en", "en-GB", "es", "fr", "it"}, vals)
}
