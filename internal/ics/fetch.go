package ics

import (
	"context"
	"net/http"
	"time"

	"daylog/internal/cache"
	"daylog/internal/httpx"
	appLog "daylog/internal/log"
)

// Fetcher downloads ICS feeds through the file cache.
type Fetcher struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
}

func NewFetcher(client *http.Client, c *cache.Cache, userAgent string) *Fetcher {
	return &Fetcher{client: client, cache: c, userAgent: userAgent}
}

// Fetch returns the feed of source. A cache file written at or after
// freshness is used as is. Otherwise the feed is downloaded and cached; if
// the download fails, an older cached copy is returned instead when there
// is one.
func (f *Fetcher) Fetch(ctx context.Context, source, url string, freshness time.Time) (string, error) {
	body, ok, err := f.cache.Get(Name, source, freshness)
	if err != nil {
		return "", err
	}
	if ok {
		appLog.Debug("ics cache hit", "source", source)
		return body, nil
	}

	appLog.Info("ics fetch start", "source", source, "url", httpx.Redact(url))
	body, err = httpx.Get(ctx, f.client, url, httpx.Options{UserAgent: f.userAgent})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		stale, ok, lerr := f.cache.Load(Name, source)
		if lerr == nil && ok && stale != "" {
			appLog.Error("ics fetch failed, using cached body", err, "source", source, "url", httpx.Redact(url))
			return stale, nil
		}
		return "", err
	}

	if err := f.cache.Put(Name, source, body); err != nil {
		// The fresh body is still good.
		appLog.Error("ics cache save failed", err, "source", source)
	}
	appLog.Info("ics fetch success", "source", source, "url", httpx.Redact(url), "bytes", len(body))
	return body, nil
}
