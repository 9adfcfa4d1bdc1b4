package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

// Service resolves publishers by domain or API key and guards their
// quotas. It fronts PublisherStorage and owns the fallback pipeline
// config used for domains nobody has registered.
type Service struct {
	storage  interfaces.PublisherStorage
	defaults common.PublisherDefault
	logger   arbor.ILogger
}

// NewService creates a publisher registry backed by the given storage.
func NewService(storage interfaces.PublisherStorage, defaults common.PublisherDefault, logger arbor.ILogger) interfaces.PublisherRegistry {
	return &Service{
		storage:  storage,
		defaults: defaults,
		logger:   logger,
	}
}

// ResolveByDomain finds the publisher owning a domain. With
// allowSubdomain the lookup walks parent domains longest-first, so
// blog.example.com resolves to the publisher registered for
// example.com, while notexample.com never does.
func (s *Service) ResolveByDomain(ctx context.Context, domain string, allowSubdomain bool) (*models.Publisher, error) {
	normalized := common.NormalizeDomain(domain)
	if normalized == "" {
		return nil, fmt.Errorf("domain %q: %w", domain, models.ErrNotFound)
	}

	if !allowSubdomain {
		return s.storage.GetByDomain(ctx, normalized)
	}

	var lastErr error
	for _, candidate := range common.ParentDomains(normalized) {
		pub, err := s.storage.GetByDomain(ctx, candidate)
		if err == nil {
			return pub, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// ResolveByAPIKey authenticates a publisher key. Storage looks the key
// up by its SHA-256 digest; suspended and inactive accounts are
// rejected here so handlers only ever see usable publishers.
func (s *Service) ResolveByAPIKey(ctx context.Context, apiKey string) (*models.Publisher, error) {
	if !strings.HasPrefix(apiKey, "pub_") {
		return nil, fmt.Errorf("api key: %w", models.ErrNotFound)
	}

	pub, err := s.storage.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !pub.IsActive() {
		s.logger.Warn().
			Str("publisher_id", pub.ID).
			Str("status", string(pub.Status)).
			Msg("Rejected API key for inactive publisher")
		return nil, fmt.Errorf("publisher %s is %s: %w", pub.ID, pub.Status, models.ErrNotFound)
	}
	return pub, nil
}

// ConfigForDomain returns the registered publisher's config, or the
// configured defaults when the domain is unknown. An unknown domain is
// logged but is not an error: unregistered blogs still get processed
// with default settings.
func (s *Service) ConfigForDomain(ctx context.Context, domain string) (models.PublisherConfig, *models.Publisher, bool) {
	pub, err := s.ResolveByDomain(ctx, domain, true)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().Err(err).Str("domain", domain).Msg("Publisher lookup failed, using default config")
		} else {
			s.logger.Debug().Str("domain", domain).Msg("No publisher registered for domain, using default config")
		}
		return s.defaultConfig(), nil, false
	}
	return s.applyConfigDefaults(pub.Config), pub, true
}

// CheckWhitelist allows a URL when the publisher's whitelist is empty
// or some listed prefix matches it. URLs are compared in normalized
// form.
func (s *Service) CheckWhitelist(normalizedURL string, pub *models.Publisher) error {
	if pub == nil || len(pub.Config.WhitelistedBlogURLs) == 0 {
		return nil
	}
	for _, prefix := range pub.Config.WhitelistedBlogURLs {
		normalizedPrefix, err := common.NormalizeURL(prefix)
		if err != nil {
			continue
		}
		if strings.HasPrefix(normalizedURL, normalizedPrefix) {
			return nil
		}
	}
	return fmt.Errorf("url %s is not on the whitelist for publisher %s: %w", normalizedURL, pub.ID, models.ErrNotWhitelisted)
}

// ReserveBlogSlot takes one lifetime-quota slot.
func (s *Service) ReserveBlogSlot(ctx context.Context, publisherID string) error {
	return s.storage.ReserveBlogSlot(ctx, publisherID)
}

// ReleaseBlogSlot returns a slot; processed counts the blog as done.
func (s *Service) ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool) error {
	return s.storage.ReleaseBlogSlot(ctx, publisherID, processed)
}

// AddQuestionsGenerated bumps the lifetime question counter.
func (s *Service) AddQuestionsGenerated(ctx context.Context, publisherID string, n int) error {
	return s.storage.AddQuestionsGenerated(ctx, publisherID, n)
}

// CreatePublisher onboards a new publisher. The generated API key is
// returned in plain text exactly once; only its hash is stored.
func (s *Service) CreatePublisher(ctx context.Context, domain, email, tier string, cfg models.PublisherConfig, widget models.WidgetConfig) (*models.Publisher, string, error) {
	normalized := common.NormalizeDomain(domain)
	if normalized == "" {
		return nil, "", fmt.Errorf("domain %q is not valid", domain)
	}
	if email == "" {
		return nil, "", fmt.Errorf("email is required")
	}
	if tier == "" {
		tier = "free"
	}

	apiKey, err := common.NewAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate api key: %w", err)
	}

	now := time.Now()
	pub := &models.Publisher{
		ID:               common.NewPublisherID(),
		Domain:           normalized,
		Email:            email,
		Status:           models.PublisherStatusTrial,
		APIKeyHash:       common.HashAPIKey(apiKey),
		SubscriptionTier: tier,
		Config:           s.applyConfigDefaults(cfg),
		WidgetConfig:     widget,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.storage.CreatePublisher(ctx, pub); err != nil {
		return nil, "", err
	}

	s.logger.Info().
		Str("publisher_id", pub.ID).
		Str("domain", pub.Domain).
		Str("tier", pub.SubscriptionTier).
		Msg("Publisher created")
	return pub, apiKey, nil
}

// TouchLastActive records API activity. Failures are logged, never
// surfaced: activity tracking must not fail a request.
func (s *Service) TouchLastActive(ctx context.Context, publisherID string) {
	if err := s.storage.UpdateLastActive(ctx, publisherID, time.Now()); err != nil {
		s.logger.Warn().Err(err).Str("publisher_id", publisherID).Msg("Failed to record publisher activity")
	}
}

// defaultConfig is the pipeline config applied to domains with no
// registered publisher: default question count and chat model, no
// custom prompts, no threshold, no limits.
func (s *Service) defaultConfig() models.PublisherConfig {
	return s.applyConfigDefaults(models.PublisherConfig{})
}

// applyConfigDefaults fills the zero-valued fields of a publisher
// config from the configured defaults.
func (s *Service) applyConfigDefaults(cfg models.PublisherConfig) models.PublisherConfig {
	if cfg.QuestionsPerBlog <= 0 {
		cfg.QuestionsPerBlog = s.defaults.QuestionsPerBlog
	}
	if cfg.QuestionsPerBlog <= 0 {
		cfg.QuestionsPerBlog = 5
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = s.defaults.ChatModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = s.defaults.SummaryModel
	}
	if cfg.QuestionsModel == "" {
		cfg.QuestionsModel = s.defaults.QuestionsModel
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = s.defaults.SummaryMaxTokens
	}
	if cfg.QuestionsMaxTokens <= 0 {
		cfg.QuestionsMaxTokens = s.defaults.QuestionMaxTokens
	}
	if cfg.SummaryTemperature == 0 && s.defaults.Temperature > 0 {
		cfg.SummaryTemperature = float64(s.defaults.Temperature)
	}
	if cfg.QuestionTemperature == 0 && s.defaults.Temperature > 0 {
		cfg.QuestionTemperature = float64(s.defaults.Temperature)
	}
	return cfg
}
