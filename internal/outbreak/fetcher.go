// Package outbreak fetches disease-outbreak alerts from ProMED with a
// headless browser. It is the external-data collaborator behind the /data
// command: it always returns user-ready text and never panics past its
// boundary, even when the site changes under it.
package outbreak

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ErrorText is returned verbatim to the user when the scrape fails.
const ErrorText = "Sorry, there was an error fetching the outbreak data."

const maxResults = 10

// Site selectors. These track ProMED's current markup and are the most
// fragile part of the scrape; scraper reliability is explicitly best effort.
const (
	usernameSelector     = "#username"
	passwordSelector     = "#password"
	submitSelector       = `button[type="submit"]`
	locationFilterID     = "radix-«rh»"
	firstFilterSelector  = ".pb-4 > div:nth-child(1) > div:nth-child(1) > div:nth-child(3) > div:nth-child(1) > label:nth-child(2) > span:nth-child(2)"
	secondFilterSelector = `#radix-«ri» > div > div > div:nth-child(2) > div > div:nth-child(1) > label > span.text-muted-foreground`
	tableRowSelector     = "table tbody tr"
)

// Alert is one scraped outbreak table row.
type Alert struct {
	AlertID  string `json:"alertId"`
	Date     string `json:"date"`
	Title    string `json:"title"`
	Location string `json:"location"`
}

// Config carries the scrape target and credentials.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Query    string
	DateFrom string
	DateTo   string
	Headless bool
	Timeout  time.Duration
}

// Fetcher drives the browser automation.
type Fetcher struct {
	logger *slog.Logger
	cfg    Config
	// scrape is swapped in tests; the real implementation needs Chrome.
	scrape func(ctx context.Context) ([]Alert, error)
}

// NewFetcher builds a Fetcher for the configured ProMED account.
func NewFetcher(log *slog.Logger, cfg Config) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	f := &Fetcher{
		logger: log.With(slog.String("service", "outbreak")),
		cfg:    cfg,
	}
	f.scrape = f.scrapeSite
	return f
}

// Fetch runs the scrape and formats the outcome as user-ready text. All
// failures collapse into the fixed error string.
func (f *Fetcher) Fetch(ctx context.Context) string {
	alerts, err := f.scrape(ctx)
	if err != nil {
		f.logger.Error("scrape failed", slog.Any("error", err))
		return ErrorText
	}
	return formatAlerts(f.cfg.Query, f.cfg.DateFrom, f.cfg.DateTo, alerts)
}

// scrapeSite logs in, searches, applies the two cascading location filters
// and scrapes the results table.
func (f *Fetcher) scrapeSite(ctx context.Context) ([]Alert, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancelRun := context.WithTimeout(browserCtx, f.cfg.Timeout)
	defer cancelRun()

	base := strings.TrimRight(f.cfg.BaseURL, "/")
	searchURL := fmt.Sprintf("%s/search/?q=%s&date=%s..%s", base, f.cfg.Query, f.cfg.DateFrom, f.cfg.DateTo)

	var alerts []Alert
	err := chromedp.Run(runCtx,
		// Skip heavy assets; the scrape only needs the DOM.
		network.Enable(),
		network.SetBlockedURLS([]string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.woff", "*.woff2"}),

		// Login.
		chromedp.Navigate(base+"/auth/login"),
		chromedp.WaitVisible(usernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(usernameSelector, f.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, f.cfg.Password, chromedp.ByQuery),
		chromedp.Click(submitSelector, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),

		// Search within the configured date range.
		chromedp.Navigate(searchURL),

		// Open the location filter and apply the two cascading options.
		chromedp.WaitVisible("#"+locationFilterID, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(
			`document.getElementById(%q)?.scrollIntoView({behavior: "smooth", block: "center"})`,
			locationFilterID), nil),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Click("#"+locationFilterID, chromedp.ByQuery),
		chromedp.WaitVisible(firstFilterSelector, chromedp.ByQuery),
		chromedp.Click(firstFilterSelector, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
		chromedp.WaitVisible(secondFilterSelector, chromedp.ByQuery),
		chromedp.Click(secondFilterSelector, chromedp.ByQuery),

		// Scrape the results table.
		chromedp.WaitVisible(tableRowSelector, chromedp.ByQuery),
		chromedp.Evaluate(scrapeTableJS, &alerts),
	)
	if err != nil {
		return nil, fmt.Errorf("browser automation: %w", err)
	}
	f.logger.Info("scrape complete", slog.Int("alerts", len(alerts)))
	return alerts, nil
}

const scrapeTableJS = `
Array.from(document.querySelectorAll("table tbody tr")).map(row => {
	const cells = Array.from(row.querySelectorAll("td"));
	return {
		alertId:  cells[0]?.innerText.trim() || "N/A",
		date:     cells[1]?.innerText.trim() || "N/A",
		title:    cells[2]?.innerText.trim() || "N/A",
		location: cells[6]?.innerText.trim() || "N/A",
	};
})`

// formatAlerts renders the scraped rows into the reply block, capped at
// maxResults entries.
func formatAlerts(query, dateFrom, dateTo string, alerts []Alert) string {
	if len(alerts) == 0 {
		return fmt.Sprintf("No %s outbreaks reported between %s and %s.", query, dateFrom, dateTo)
	}
	if len(alerts) > maxResults {
		alerts = alerts[:maxResults]
	}
	var b strings.Builder
	b.WriteString("Latest Outbreaks\n")
	for i, alert := range alerts {
		fmt.Fprintf(&b, "\n%d. Alert ID: %s\n", i+1, alert.AlertID)
		fmt.Fprintf(&b, "   Date: %s\n", alert.Date)
		fmt.Fprintf(&b, "   Title: %s\n", alert.Title)
		fmt.Fprintf(&b, "   Location: %s\n", alert.Location)
	}
	return b.String()
}
