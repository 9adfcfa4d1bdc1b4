package interfaces

import (
	"context"

	"github.com/ternarybob/respondeo/internal/models"
)

// CrawlerService fetches a blog URL and extracts its main content as
// markdown. Implementations enforce the configured size cap, timeout,
// and minimum word count.
type CrawlerService interface {
	// Crawl fetches and extracts one URL. Returns an error for HTTP
	// non-2xx, empty bodies, oversized responses, and extractions
	// below the minimum word count.
	Crawl(ctx context.Context, url string) (*models.ExtractedContent, error)

	// Close releases fetch resources, including any headless browser.
	Close() error
}
