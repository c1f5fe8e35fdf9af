package stackexchange

import (
	"context"

	"github.com/chromedp/chromedp"

	"daylog/internal/config"
	"daylog/internal/scrape"
)

// browserVotesPage logs in through headless Chromium, for sites that reject
// the plain form post.
func browserVotesPage(ctx context.Context, c config.StackExchangeConfig, userAgent string) (string, error) {
	b := scrape.NewBrowser(ctx, scrape.BrowserOptions{UserAgent: userAgent})
	defer b.Close()

	err := b.Run(
		chromedp.Navigate(c.ExchangeSiteURL+loginPath(c.ExchangeSiteURL)),
		chromedp.WaitVisible(`input[name=email]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name=email]`, c.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name=password]`, c.Password, chromedp.ByQuery),
		chromedp.Click(`#submit-button`, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	home, err := b.Current()
	if err != nil {
		return "", err
	}
	profile, err := profileLink(home, c.Username)
	if err != nil {
		return "", err
	}
	return b.Page(scrape.Resolve(c.ExchangeSiteURL+"/", profile+"?tab=votes"))
}
