// Package httpx holds the HTTP plumbing shared by network providers.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultTimeout = 30 * time.Second

// NewClient returns a client whose connect and total request time are both
// bounded by timeout.
func NewClient(timeout time.Duration, cookies bool) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: timeout, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}
	c := &http.Client{Timeout: timeout, Transport: tr}
	if cookies {
		// cookiejar.New only fails on a bad PublicSuffixList, and we pass none.
		jar, _ := cookiejar.New(nil)
		c.Jar = jar
	}
	return c
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", Redact(e.URL), e.Status)
}

// Options tweak a single request.
type Options struct {
	Header    http.Header
	UserAgent string
	Limiter   *rate.Limiter
	// ResponseHeader, when set, receives the headers of a 2xx response.
	ResponseHeader *http.Header
}

// Get performs a GET and returns the body as text.
func Get(ctx context.Context, c *http.Client, rawURL string, opts Options) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	return do(ctx, c, req, opts)
}

// PostForm posts an url-encoded form and returns the body as text.
func PostForm(ctx context.Context, c *http.Client, rawURL string, form url.Values, opts Options) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(ctx, c, req, opts)
}

func do(ctx context.Context, c *http.Client, req *http.Request, opts Options) (string, error) {
	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}

	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return "", &StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if opts.ResponseHeader != nil {
		*opts.ResponseHeader = resp.Header
	}
	return string(body), nil
}

// Redact hides path and query of a URL for logging, since feed URLs often
// embed private tokens.
//
//	https://example.com/path/to/private.ics?token=abcd -> https://example.com/...(redacted)
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "...(redacted)"
	}
	if parsed.Path == "" && parsed.RawQuery == "" {
		return parsed.Scheme + "://" + parsed.Host
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
