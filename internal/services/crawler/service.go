package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/models"
)

// Service fetches single blog URLs and extracts their main content.
// Static fetch via Colly is always attempted first; when JavaScript
// rendering is enabled and the static extraction comes up short, the
// page is rendered in headless Chrome and re-extracted.
type Service struct {
	config    common.CrawlerConfig
	logger    arbor.ILogger
	collector *colly.Collector
	renderer  *Renderer
}

// contextAwareTransport wraps an http.RoundTripper to support context
// cancellation of in-flight requests.
type contextAwareTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case <-t.ctx.Done():
		return nil, t.ctx.Err()
	default:
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// NewService creates the crawler. The headless renderer is only
// started when enable_javascript is set.
func NewService(config common.CrawlerConfig, logger arbor.ILogger) *Service {
	c := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(config.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	c.MaxBodySize = config.MaxBodySize
	c.SetRequestTimeout(config.RequestTimeout)

	if config.UserAgentRotation {
		extensions.RandomUserAgent(c)
		extensions.Referer(c)
	}

	svc := &Service{
		config:    config,
		logger:    logger,
		collector: c,
	}

	if config.EnableJavaScript {
		svc.renderer = NewRenderer(config.UserAgent, config.JavaScriptWaitTime, config.RequestTimeout, logger)
	}

	return svc
}

// Crawl fetches one URL and extracts its article content as markdown.
func (s *Service) Crawl(ctx context.Context, rawURL string) (*models.ExtractedContent, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	start := time.Now()
	html, err := s.fetchStatic(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	content, extractErr := ExtractArticle(rawURL, html)

	if s.renderer != nil && needsRendering(content, extractErr, s.config.MinWordCount) {
		s.logger.Debug().
			Str("url", rawURL).
			Msg("Static extraction came up short, rendering with headless browser")

		rendered, renderErr := s.renderer.Render(ctx, rawURL)
		if renderErr != nil {
			s.logger.Warn().
				Err(renderErr).
				Str("url", rawURL).
				Msg("JavaScript rendering failed, keeping static extraction")
		} else if renderedContent, renderedErr := ExtractArticle(rawURL, rendered); renderedErr == nil {
			if content == nil || renderedContent.WordCount > content.WordCount {
				content, extractErr = renderedContent, nil
			}
		}
	}

	if extractErr != nil {
		return nil, fmt.Errorf("content extraction failed: %w", extractErr)
	}
	if content.WordCount < s.config.MinWordCount {
		return nil, fmt.Errorf("extracted content has %d words, minimum is %d", content.WordCount, s.config.MinWordCount)
	}

	s.logger.Info().
		Str("url", rawURL).
		Str("title", content.Title).
		Int("word_count", content.WordCount).
		Dur("duration", time.Since(start)).
		Msg("Crawled blog content")

	return content, nil
}

// fetchStatic performs the plain HTTP fetch through a cloned collector
// so per-crawl handlers never accumulate on the shared instance.
func (s *Service) fetchStatic(ctx context.Context, targetURL string) (string, error) {
	c := s.collector.Clone()
	c.WithTransport(&contextAwareTransport{base: http.DefaultTransport, ctx: ctx})

	var (
		body       string
		statusCode int
		fetchErr   error
		cancelled  atomic.Bool
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			cancelled.Store(true)
			r.Abort()
			return
		}
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode

		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "text/html") {
			fetchErr = fmt.Errorf("unsupported content type %q", contentType)
			return
		}

		body = string(r.Body)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(targetURL); err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	c.Wait()

	if cancelled.Load() || ctx.Err() != nil {
		return "", ctx.Err()
	}
	if fetchErr != nil {
		if statusCode < 200 || statusCode >= 300 {
			return "", fmt.Errorf("fetch failed with HTTP %d: %w", statusCode, fetchErr)
		}
		return "", fmt.Errorf("fetch failed: %w", fetchErr)
	}
	if statusCode < 200 || statusCode >= 300 {
		return "", fmt.Errorf("unexpected HTTP status %d", statusCode)
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("empty response body")
	}

	return body, nil
}

// needsRendering decides whether the static result justifies the cost
// of a headless render.
func needsRendering(content *models.ExtractedContent, extractErr error, minWords int) bool {
	if extractErr != nil || content == nil {
		return true
	}
	return content.WordCount < minWords
}

// Close shuts down the headless renderer if one was started.
func (s *Service) Close() error {
	if s.renderer != nil {
		return s.renderer.Close()
	}
	return nil
}
