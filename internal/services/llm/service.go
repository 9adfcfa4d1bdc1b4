package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
)

// Service implements the LLMService interface. It owns the provider
// registry, dispatches calls by model-id prefix, and retries transient
// failures with exponential backoff.
type Service struct {
	providers       map[string]interfaces.LLMProvider
	defaultProvider string
	embeddingModel  string
	embeddingDims   int
	retry           RetryConfig
	timeout         time.Duration
	logger          arbor.ILogger
}

// NewService creates the LLM service from configuration. A provider is
// registered for every vendor with an API key; the default provider
// and the embedding model's provider must both be registered.
func NewService(ctx context.Context, cfg common.LLMConfig, logger arbor.ILogger) (interfaces.LLMService, error) {
	providers := make(map[string]interfaces.LLMProvider)

	if cfg.OpenAI.APIKey != "" {
		provider, err := NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.EmbeddingDimensions, logger)
		if err != nil {
			return nil, err
		}
		providers["openai"] = provider
	}
	if cfg.Anthropic.APIKey != "" {
		provider, err := NewAnthropicProvider(cfg.Anthropic.APIKey, logger)
		if err != nil {
			return nil, err
		}
		providers["anthropic"] = provider
	}
	if cfg.Gemini.APIKey != "" {
		provider, err := NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.EmbeddingDimensions, logger)
		if err != nil {
			return nil, err
		}
		providers["gemini"] = provider
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY")
	}
	if _, ok := providers[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q has no API key configured", cfg.DefaultProvider)
	}

	embedProvider, _ := resolveProviderName(cfg.EmbeddingModel, cfg.DefaultProvider)
	if embedProvider == "anthropic" {
		return nil, fmt.Errorf("embedding model %q resolves to anthropic, which has no embedding API", cfg.EmbeddingModel)
	}
	if _, ok := providers[embedProvider]; !ok {
		return nil, fmt.Errorf("embedding model %q requires the %s provider, which has no API key configured", cfg.EmbeddingModel, embedProvider)
	}

	retry := NewDefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBaseDelay > 0 {
		retry.InitialBackoff = cfg.RetryBaseDelay
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	logger.Info().
		Strs("providers", names).
		Str("default_provider", cfg.DefaultProvider).
		Str("embedding_model", cfg.EmbeddingModel).
		Int("embedding_dimensions", cfg.EmbeddingDimensions).
		Msg("LLM service initialized")

	return &Service{
		providers:       providers,
		defaultProvider: cfg.DefaultProvider,
		embeddingModel:  cfg.EmbeddingModel,
		embeddingDims:   cfg.EmbeddingDimensions,
		retry:           retry,
		timeout:         timeout,
		logger:          logger,
	}, nil
}

// resolveProviderName maps a model identifier to a provider name and
// strips any provider/ routing prefix from the model.
func resolveProviderName(model, defaultProvider string) (provider, stripped string) {
	m := strings.TrimSpace(model)
	lower := strings.ToLower(m)

	switch {
	case strings.HasPrefix(lower, "openai/"):
		return "openai", m[len("openai/"):]
	case strings.HasPrefix(lower, "anthropic/"):
		return "anthropic", m[len("anthropic/"):]
	case strings.HasPrefix(lower, "google/"):
		return "gemini", m[len("google/"):]
	case strings.HasPrefix(lower, "gpt-"),
		strings.HasPrefix(lower, "chatgpt-"),
		strings.HasPrefix(lower, "text-embedding-"),
		isOSeriesModel(lower):
		return "openai", m
	case strings.HasPrefix(lower, "claude-"):
		return "anthropic", m
	case strings.HasPrefix(lower, "gemini-"),
		strings.HasPrefix(lower, "models/gemini"):
		return "gemini", m
	default:
		return defaultProvider, m
	}
}

// isOSeriesModel matches OpenAI reasoning model names (o1, o3-mini,
// o4-mini-high, ...) without swallowing every model starting with "o".
func isOSeriesModel(lower string) bool {
	if len(lower) < 2 || lower[0] != 'o' {
		return false
	}
	return lower[1] >= '0' && lower[1] <= '9'
}

// resolve returns the provider instance for a model along with the
// stripped model identifier.
func (s *Service) resolve(model string) (interfaces.LLMProvider, string, error) {
	if model == "" {
		return nil, "", fmt.Errorf("model is required")
	}
	name, stripped := resolveProviderName(model, s.defaultProvider)
	provider, ok := s.providers[name]
	if !ok {
		return nil, "", fmt.Errorf("model %q resolves to provider %q, which has no API key configured", model, name)
	}
	return provider, stripped, nil
}

// Complete executes a chat completion on the provider resolved from
// req.Model, retrying transient failures.
func (s *Service) Complete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	provider, model, err := s.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	req.Model = model

	startTime := time.Now()
	result, err := s.completeWithRetry(ctx, provider, req)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("provider", provider.Name()).
			Str("model", model).
			Msg("Completion failed")
		return nil, err
	}

	s.logger.Debug().
		Str("provider", provider.Name()).
		Str("model", model).
		Int("response_length", len(result.Text)).
		Str("duration", time.Since(startTime).String()).
		Msg("Completion finished")

	return result, nil
}

// completeWithRetry runs one provider call per attempt, backing off
// between attempts and honoring API-suggested retry delays.
func (s *Service) completeWithRetry(ctx context.Context, provider interfaces.LLMProvider, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.retry.CalculateBackoff(attempt-1, ExtractRetryDelay(lastErr))
			s.logger.Warn().
				Err(lastErr).
				Str("provider", provider.Name()).
				Int("attempt", attempt).
				Str("backoff", backoff.String()).
				Msg("Retrying completion")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err := provider.Complete(callCtx, req)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransientError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("completion failed after %d attempts: %w", s.retry.MaxRetries+1, lastErr)
}

// GenerateJSON executes a completion in JSON mode and unmarshals the
// response into out.
func (s *Service) GenerateJSON(ctx context.Context, req interfaces.CompletionRequest, out interface{}) error {
	req.JSONMode = true

	result, err := s.Complete(ctx, req)
	if err != nil {
		return err
	}

	if err := ParseJSONResponse(result.Text, out); err != nil {
		s.logger.Warn().
			Str("provider", result.Provider).
			Str("model", result.Model).
			Int("response_length", len(result.Text)).
			Msg("Model returned malformed JSON")
		return fmt.Errorf("%s returned malformed JSON: %w", result.Provider, err)
	}

	return nil
}

// Embed generates embedding vectors for the given texts using the
// configured embedding model.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty for embedding generation")
	}

	provider, model, err := s.resolve(s.embeddingModel)
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.retry.CalculateBackoff(attempt-1, ExtractRetryDelay(lastErr))
			s.logger.Warn().
				Err(lastErr).
				Str("provider", provider.Name()).
				Int("attempt", attempt).
				Str("backoff", backoff.String()).
				Msg("Retrying embedding")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		vectors, lastErr = provider.Embed(callCtx, model, texts)
		cancel()
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransientError(lastErr) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("embedding failed after %d attempts: %w", s.retry.MaxRetries+1, lastErr)
	}

	// A single deployment-wide dimension keeps stored vectors
	// comparable; reject anything off-width before it is persisted.
	for i, vec := range vectors {
		if s.embeddingDims > 0 && len(vec) != s.embeddingDims {
			return nil, fmt.Errorf("embedding dimension mismatch for text %d: expected %d, got %d", i, s.embeddingDims, len(vec))
		}
	}

	return vectors, nil
}

// EmbeddingDimensions returns the vector width of the configured
// embedding model.
func (s *Service) EmbeddingDimensions() int {
	return s.embeddingDims
}

// SupportsGrounding reports whether the provider resolved from the
// model name can ground responses in web search.
func (s *Service) SupportsGrounding(model string) bool {
	provider, _, err := s.resolve(model)
	if err != nil {
		return false
	}
	return provider.SupportsGrounding()
}

// Close releases provider resources.
func (s *Service) Close() error {
	s.logger.Debug().Msg("Closing LLM service")
	s.providers = nil
	return nil
}
