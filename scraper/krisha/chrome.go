package krisha

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"krisha-scraper/metrics"
	"krisha-scraper/models"
	"krisha-scraper/utils"
)

// ChromeFetcher renders pages in a shared headless browser, one tab per fetch.
// Use it when listing markup is filled in by scripts.
type ChromeFetcher struct {
	logger  *utils.Logger
	timeout time.Duration
	settle  time.Duration

	once       sync.Once
	startErr   error
	browserCtx context.Context
	cancel     []context.CancelFunc
}

// NewChromeFetcher prepares a fetcher; the browser is started on first use.
func NewChromeFetcher(chromeBin string, timeout, settle time.Duration, logger *utils.Logger) *ChromeFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	f := &ChromeFetcher{logger: logger, timeout: timeout, settle: settle}

	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[krisha] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(defaultUserAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	f.browserCtx = browserCtx
	f.cancel = []context.CancelFunc{cancelBrowser, cancelAlloc}
	return f
}

func (f *ChromeFetcher) start() error {
	f.once.Do(func() {
		if err := chromedp.Run(f.browserCtx); err != nil {
			f.startErr = eris.Wrap(err, "start browser")
		}
	})
	return f.startErr
}

func (f *ChromeFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	start := time.Now()
	page, err := f.fetch(ctx, url)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return page, err
}

func (f *ChromeFetcher) fetch(ctx context.Context, url string) (*Page, error) {
	if err := f.start(); err != nil {
		return nil, &models.FetchError{URL: url, Err: err}
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.timeout)
	defer cancelTimeout()

	// the tab must not outlive the caller
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, &models.FetchError{URL: url, Err: eris.Wrap(err, "chromedp navigate")}
	}
	status := 0
	if resp != nil {
		status = int(resp.Status)
	}
	if status < 200 || status > 299 {
		return nil, &models.FetchError{URL: url, StatusCode: status}
	}

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.Sleep(f.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, &models.FetchError{URL: url, Err: eris.Wrap(err, "chromedp read html")}
	}

	f.logger.Debug("[krisha] Rendered %s (%d bytes)", url, len(html))
	return &Page{URL: url, HTML: []byte(html), StatusCode: status}, nil
}

// Close shuts the browser down.
func (f *ChromeFetcher) Close() error {
	for _, cancel := range f.cancel {
		cancel()
	}
	return nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
