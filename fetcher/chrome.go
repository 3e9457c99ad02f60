package fetcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"flipfinder/utils"
)

// ChromeFetcher fetches fully rendered pages through headless Chrome. It is
// the fetcher of choice for marketplaces that assemble listing pages in
// JavaScript, where the plain HTTP body never contains the sold banner.
type ChromeFetcher struct {
	allocOpts []chromedp.ExecAllocatorOption
	timeout   time.Duration
	logger    *utils.Logger
}

// NewChromeFetcher configures a headless Chrome allocator. chromeBin may be
// empty, in which case common install locations are probed.
func NewChromeFetcher(chromeBin string, timeout time.Duration, logger *utils.Logger) *ChromeFetcher {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[fetcher] using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	return &ChromeFetcher{allocOpts: opts, timeout: timeout, logger: logger}
}

// Fetch navigates to the URL and returns the rendered page text.
func (f *ChromeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, f.allocOpts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, f.timeout)
	defer cancelRun()

	var pageText string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(2*time.Second),
		chromedp.Text("body", &pageText, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chrome fetch %s: %w", url, err)
	}
	return pageText, nil
}

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
