package stackexchange

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

const votesPage = `<html><body>
<table class="history-table">
<tr><td><div class="date" title="2024-05-14 09:30:12Z"></div></td>
    <td><a class="question-hyperlink" href="/questions/1/how-to-go">How to &lt;go&gt;?</a></td></tr>
<tr><td><div class="date"><div class="date_brick" title="2024-05-14 18:05:00Z">14 May</div></div></td>
    <td><a class="answer-hyperlink" href="/questions/2/x/3#3">Why channels</a></td></tr>
<tr><td><div class="date" title="2024-05-13 22:00:00Z"></div></td>
    <td><a class="question-hyperlink" href="/questions/4">Older</a></td></tr>
<tr><td><div class="date" title="not a date"></div></td>
    <td><a class="question-hyperlink" href="/questions/5">Broken</a></td></tr>
</table></body></html>`

type fakeSite struct {
	*httptest.Server
	logins  atomic.Int32
	captcha atomic.Bool
}

func newFakeSite(t *testing.T) *fakeSite {
	f := &fakeSite{}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ssrc") != "head" || r.URL.Query().Get("returnurl") == "" {
			http.Error(w, "bad login url", http.StatusBadRequest)
			return
		}
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<form><input type="hidden" name="fkey" value="fk-1"></form>`)
			return
		}
		require.NoError(t, r.ParseForm())
		f.logins.Add(1)
		if f.captcha.Load() {
			fmt.Fprint(w, `<h1>Human verification</h1><p>Are you a human being?</p>`)
			return
		}
		if r.PostForm.Get("fkey") != "fk-1" || r.PostForm.Get("email") != "jane@example.com" || r.PostForm.Get("password") != "pw" {
			fmt.Fprint(w, `<p>wrong password</p>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "acct", Value: "jane", Path: "/"})
		fmt.Fprint(w, `<a class="my-profile js-gps-track" href="/users/77/jane">jane</a>`)
	})
	mux.HandleFunc("/users/77/jane", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("acct"); err != nil || c.Value != "jane" || r.URL.Query().Get("tab") != "votes" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, votesPage)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func setup(t *testing.T, srv *fakeSite) (*Provider, *config.Config) {
	t.Helper()
	c := cache.New(filepath.Join(t.TempDir(), "cache"))
	p := New(provider.Deps{Cache: c, Timeout: 5 * time.Second})
	cfg := config.DefaultConfig()
	cfg.StackExchange["so"] = config.StackExchangeConfig{ExchangeSiteURL: srv.URL, Username: "jane@example.com", Password: "pw"}
	return p, cfg
}

var may14 = model.Day{Year: 2024, Month: time.May, Day: 14, Loc: time.UTC}

func TestFetchVotes(t *testing.T) {
	srv := newFakeSite(t)
	p, cfg := setup(t, srv)

	events, err := p.FetchEvents(context.Background(), cfg, "so", may14)
	require.NoError(t, err)
	require.Len(t, events, 2)

	q := events[0]
	assert.Equal(t, "S.Exch", q.SourceLabel)
	assert.Equal(t, "thumbs-up-symbolic", q.Icon)
	assert.Equal(t, model.TimeOfDay{Hour: 9, Minute: 30, Second: 12}, q.Time)
	assert.Equal(t, "How to <go>?", q.Title)
	assert.Equal(t, "Vote: How to <go>?", q.Header)
	assert.Equal(t, "Vote", q.ExtraDetails)
	assert.Equal(t, model.Markup(`<a href="`+srv.URL+`/questions/1/how-to-go">Open in the browser</a>`+
		"\n\nStack Exchange vote: "+srv.URL, true), q.Body)

	assert.Equal(t, "Why channels", events[1].Title)
	assert.Equal(t, model.TimeOfDay{Hour: 18, Minute: 5}, events[1].Time)

	// The votes page is cached for the day.
	_, err = p.FetchEvents(context.Background(), cfg, "so", may14)
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.logins.Load())
}

func TestHumanVerificationIsAuthError(t *testing.T) {
	srv := newFakeSite(t)
	srv.captcha.Store(true)
	p, cfg := setup(t, srv)

	_, err := p.FetchEvents(context.Background(), cfg, "so", may14)
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrAuth))
}

func TestWrongPasswordIsAuthError(t *testing.T) {
	srv := newFakeSite(t)
	p, cfg := setup(t, srv)
	c := cfg.StackExchange["so"]
	c.Password = "nope"
	cfg.StackExchange["so"] = c

	_, err := p.FetchEvents(context.Background(), cfg, "so", may14)
	assert.True(t, errors.Is(err, provider.ErrAuth))
}

func TestBrowserPathIsUsedWhenConfigured(t *testing.T) {
	srv := newFakeSite(t)
	p, cfg := setup(t, srv)
	c := cfg.StackExchange["so"]
	c.UseBrowser = true
	cfg.StackExchange["so"] = c

	var called bool
	p.browserVotesPage = func(_ context.Context, got config.StackExchangeConfig, _ string) (string, error) {
		called = true
		assert.Equal(t, srv.URL, got.ExchangeSiteURL)
		return votesPage, nil
	}
	events, err := p.FetchEvents(context.Background(), cfg, "so", may14)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Len(t, events, 2)
	assert.Equal(t, int32(0), srv.logins.Load())
}

func TestLoginPath(t *testing.T) {
	assert.Equal(t, "/users/login?ssrc=head&returnurl=https%3a%2f%2fstackoverflow.com", loginPath("https://stackoverflow.com"))
}
