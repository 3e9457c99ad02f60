// Package fetcher provides the page-fetch boundary injected into the listing
// tracker. A fetch that fails for any reason (network, timeout, blocked)
// surfaces as an error; the tracker records it per listing and moves on.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"flipfinder/utils"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PageFetcher retrieves the text content of a live listing page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchFunc adapts a plain function to the PageFetcher interface.
type FetchFunc func(ctx context.Context, url string) (string, error)

func (f FetchFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// HTTPFetcher fetches pages with a plain HTTP client and retry with backoff.
// Marketplaces that render listings server-side work fine through it; the
// heavily scripted ones need the chromedp fetcher.
type HTTPFetcher struct {
	client *http.Client
	retry  *utils.RetryConfig
	logger *utils.Logger
}

// NewHTTPFetcher creates an HTTPFetcher with the given timeout and retries.
func NewHTTPFetcher(timeout time.Duration, maxRetries int, logger *utils.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		retry: &utils.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		logger: logger,
	}
}

// Fetch returns the page body, retrying transient failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	var body string
	err := f.retry.Do(ctx, "fetch "+url, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		// Gone pages often still answer 404/410; hand the body to the sold
		// detector rather than treating them as fetch failures.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = string(raw)
		return nil
	})
	if err != nil {
		return "", err
	}
	return body, nil
}
