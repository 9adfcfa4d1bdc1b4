package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// Renderer runs pages through headless Chrome for JavaScript-rendered
// blogs. The browser process starts lazily on first use and is reused
// across renders; each render opens its own tab.
type Renderer struct {
	userAgent string
	waitTime  time.Duration
	timeout   time.Duration
	logger    arbor.ILogger

	mu              sync.Mutex
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
}

// NewRenderer creates a headless renderer. No browser is launched
// until the first Render call.
func NewRenderer(userAgent string, waitTime, timeout time.Duration, logger arbor.ILogger) *Renderer {
	if waitTime <= 0 {
		waitTime = 3 * time.Second
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Renderer{
		userAgent: userAgent,
		waitTime:  waitTime,
		timeout:   timeout,
		logger:    logger,
	}
}

// ensureBrowser lazily starts the shared browser process.
func (r *Renderer) ensureBrowser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil && r.browserCtx.Err() == nil {
		return r.browserCtx, nil
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.allocatorCancel = allocatorCancel

	r.logger.Info().
		Dur("js_wait_time", r.waitTime).
		Msg("Headless browser started")

	return r.browserCtx, nil
}

// Render navigates to the URL, waits for JavaScript to settle, and
// returns the rendered HTML.
func (r *Renderer) Render(ctx context.Context, targetURL string) (string, error) {
	browserCtx, err := r.ensureBrowser()
	if err != nil {
		return "", err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	runCtx, runCancel := context.WithTimeout(tabCtx, r.timeout)
	defer runCancel()

	// chromedp contexts descend from the browser, not the caller, so
	// caller cancellation is forwarded by hand.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			runCancel()
		case <-done:
		}
	}()

	start := time.Now()
	var html string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(targetURL),
		chromedp.Sleep(r.waitTime),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("render failed: %w", err)
	}

	r.logger.Debug().
		Str("url", targetURL).
		Int("content_size", len(html)).
		Dur("render_time", time.Since(start)).
		Msg("Rendered page with headless browser")

	return html, nil
}

// Close shuts down the browser process.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCancel != nil {
		r.browserCancel()
		r.browserCancel = nil
	}
	if r.allocatorCancel != nil {
		r.allocatorCancel()
		r.allocatorCancel = nil
	}
	r.browserCtx = nil

	return nil
}
