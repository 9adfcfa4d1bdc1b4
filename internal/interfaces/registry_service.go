package interfaces

import (
	"context"

	"github.com/ternarybob/respondeo/internal/models"
)

// PublisherRegistry resolves publishers and guards their quotas. Sits
// in front of PublisherStorage and adds domain matching, whitelist
// checks, and config defaulting.
type PublisherRegistry interface {
	// ResolveByDomain finds the publisher owning a domain. With
	// allowSubdomain the longest registered parent domain at a label
	// boundary wins (blog.example.com matches example.com).
	ResolveByDomain(ctx context.Context, domain string, allowSubdomain bool) (*models.Publisher, error)

	// ResolveByAPIKey authenticates a publisher key in constant time.
	ResolveByAPIKey(ctx context.Context, apiKey string) (*models.Publisher, error)

	// ConfigForDomain returns the publisher's config, or hardcoded
	// defaults when no publisher is registered for the domain. The
	// boolean reports whether a registered publisher was found.
	ConfigForDomain(ctx context.Context, domain string) (models.PublisherConfig, *models.Publisher, bool)

	// CheckWhitelist allows the URL when the publisher whitelist is
	// empty or some listed prefix matches the normalized URL.
	CheckWhitelist(normalizedURL string, pub *models.Publisher) error

	// ReserveBlogSlot takes one lifetime-quota slot.
	ReserveBlogSlot(ctx context.Context, publisherID string) error

	// ReleaseBlogSlot returns a slot; processed counts it as done.
	ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool) error

	// AddQuestionsGenerated bumps the lifetime question counter.
	AddQuestionsGenerated(ctx context.Context, publisherID string, n int) error

	// CreatePublisher onboards a new publisher and returns the
	// generated plain-text API key exactly once.
	CreatePublisher(ctx context.Context, domain, email, tier string, cfg models.PublisherConfig, widget models.WidgetConfig) (*models.Publisher, string, error)

	// TouchLastActive records publisher API activity.
	TouchLastActive(ctx context.Context, publisherID string)
}
