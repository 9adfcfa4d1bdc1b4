package qa

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/ternarybob/respondeo/internal/services/llm"
)

const maxQuestionLength = 2000

// Service runs ad-hoc single-question completions with a per-publisher
// token bucket. Answers are returned directly; nothing is cached or
// persisted, so the rate limit is the only thing between a chatty
// widget and the LLM bill.
type Service struct {
	llm      interfaces.LLMService
	cfg      common.QAConfig
	defaults common.PublisherDefault
	logger   arbor.ILogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService creates the ad-hoc Q&A service.
func NewService(llmService interfaces.LLMService, cfg common.QAConfig, defaults common.PublisherDefault, logger arbor.ILogger) interfaces.QAService {
	return &Service{
		llm:      llmService,
		cfg:      cfg,
		defaults: defaults,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Ask answers one free-form question with the publisher's chat model.
// Returns ErrRateLimited when the publisher's bucket is empty.
func (s *Service) Ask(ctx context.Context, pub *models.Publisher, question string) (*models.AskAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if len(question) > maxQuestionLength {
		return nil, fmt.Errorf("question exceeds %d characters", maxQuestionLength)
	}

	if !s.limiterFor(pub.ID).Allow() {
		s.logger.Warn().Str("publisher_id", pub.ID).Msg("Ad-hoc question rate limit hit")
		return nil, fmt.Errorf("publisher %s: %w", pub.ID, models.ErrRateLimited)
	}

	model := pub.Config.ChatModel
	if model == "" {
		model = s.defaults.ChatModel
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	system, user := llm.BuildChatPrompt(question)
	result, err := s.llm.Complete(ctx, interfaces.CompletionRequest{
		Model:        model,
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    pub.Config.ChatMaxTokens,
		Temperature:  pub.Config.ChatTemperature,
		UseGrounding: pub.Config.UseGrounding,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	s.logger.Debug().
		Str("publisher_id", pub.ID).
		Str("model", result.Model).
		Str("provider", result.Provider).
		Msg("Answered ad-hoc question")
	return &models.AskAnswer{
		Answer: strings.TrimSpace(result.Text),
		Model:  result.Model,
	}, nil
}

// limiterFor returns the publisher's token bucket, creating it on
// first use. Buckets live for the process lifetime; the publisher
// population is small enough that they are never evicted.
func (s *Service) limiterFor(publisherID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[publisherID]
	if !ok {
		every := s.cfg.RateEvery
		if every <= 0 {
			every = 1
		}
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(every), burst)
		s.limiters[publisherID] = limiter
	}
	return limiter
}
