package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

const defaultBrowserTimeout = 60 * time.Second

// BrowserOptions configures a headless Chromium session.
type BrowserOptions struct {
	// Timeout bounds the whole session. If zero, defaultBrowserTimeout is
	// used.
	Timeout   time.Duration
	UserAgent string
}

// Browser is a headless Chromium tab driven through chromedp. Cookies live
// as long as the Browser, so a login carries over to later pages.
type Browser struct {
	ctx    context.Context
	cancel func()
}

// NewBrowser starts Chromium. Close must be called to stop it.
func NewBrowser(parent context.Context, opts BrowserOptions) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultBrowserTimeout
	}
	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout)
	return &Browser{
		ctx: ctx,
		cancel: func() {
			cancelTimeout()
			cancelCtx()
			cancelAlloc()
		},
	}
}

func (b *Browser) Close() {
	b.cancel()
}

// Run executes actions in the tab.
func (b *Browser) Run(actions ...chromedp.Action) error {
	if err := chromedp.Run(b.ctx, actions...); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	return nil
}

// Page navigates to url and returns the rendered document.
func (b *Browser) Page(url string) (string, error) {
	var html string
	err := b.Run(
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

// Current returns the document currently shown, after body is ready.
func (b *Browser) Current() (string, error) {
	var html string
	err := b.Run(
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
