// Package krisha holds the site-specific pieces of the scraper: page fetchers,
// the listing HTML extractor and search-page discovery.
package krisha

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"krisha-scraper/metrics"
	"krisha-scraper/models"
	"krisha-scraper/utils"
)

// maxPageBytes caps how much of a response body is read.
const maxPageBytes = 8 << 20

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Page is a downloaded document.
type Page struct {
	URL        string
	HTML       []byte
	StatusCode int
}

// Fetcher downloads a page. Implementations return *models.FetchError on
// network failure, timeout or a non-2xx status.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// HTTPFetcher fetches pages with a plain HTTP client.
type HTTPFetcher struct {
	client  *http.Client
	headers map[string]string
}

// NewHTTPFetcher creates an HTTPFetcher with the given per-request timeout and
// extra request headers.
func NewHTTPFetcher(timeout time.Duration, headers map[string]string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	start := time.Now()
	page, err := f.fetch(ctx, url)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return page, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.FetchError{URL: url, Err: eris.Wrap(err, "build request")}
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &models.FetchError{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
		return nil, &models.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &models.FetchError{URL: url, Err: eris.Wrap(err, "read body")}
	}
	return &Page{URL: url, HTML: body, StatusCode: resp.StatusCode}, nil
}

// RetryingFetcher wraps another Fetcher with the retry strategy. Client
// errors (4xx other than 429) are not retried.
type RetryingFetcher struct {
	next  Fetcher
	retry *utils.RetryConfig
}

// NewRetryingFetcher wraps next. With maxAttempts of one it behaves exactly
// like next.
func NewRetryingFetcher(next Fetcher, maxAttempts int, baseDelay time.Duration, logger *utils.Logger) *RetryingFetcher {
	return &RetryingFetcher{
		next: next,
		retry: &utils.RetryConfig{
			MaxAttempts: maxAttempts,
			BaseDelay:   baseDelay,
			Logger:      logger,
			Retryable:   retryableFetchError,
		},
	}
}

// Fetch retries failed attempts. For a context from Detach each attempt runs
// uncancelled, but no new attempt starts after the remembered context is done.
func (f *RetryingFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	var page *Page
	var lastErr error
	err := f.retry.Do(stopContext(ctx), "fetch "+url, func() error {
		p, err := f.next.Fetch(ctx, url)
		if err != nil {
			lastErr = err
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, lastErr
	}
	return page, nil
}

func retryableFetchError(err error) bool {
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		return true
	}
	if fe.StatusCode == 0 || fe.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return fe.StatusCode >= 500
}
