package qa

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

type fakeLLM struct {
	lastReq  interfaces.CompletionRequest
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Complete(_ context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &interfaces.CompletionResult{Text: f.response, Model: req.Model, Provider: "openai"}, nil
}

func (f *fakeLLM) GenerateJSON(context.Context, interfaces.CompletionRequest, interface{}) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeLLM) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeLLM) EmbeddingDimensions() int      { return 0 }
func (f *fakeLLM) SupportsGrounding(string) bool { return false }
func (f *fakeLLM) Close() error                  { return nil }

func testQAConfig() common.QAConfig {
	return common.QAConfig{RateEvery: time.Hour, Burst: 2}
}

func chatPublisher(id, model string) *models.Publisher {
	return &models.Publisher{
		ID:     id,
		Domain: "example.com",
		Status: models.PublisherStatusActive,
		Config: models.PublisherConfig{
			ChatModel:       model,
			ChatMaxTokens:   512,
			ChatTemperature: 0.4,
		},
	}
}

func TestAskReturnsAnswer(t *testing.T) {
	provider := &fakeLLM{response: "  The cache invalidates on write.  "}
	svc := NewService(provider, testQAConfig(), common.PublisherDefault{ChatModel: "gpt-4o-mini"}, arbor.NewLogger())

	answer, err := svc.Ask(context.Background(), chatPublisher("pub-1", "claude-3-5-haiku"), "When does the cache invalidate?")
	require.NoError(t, err)

	assert.Equal(t, "The cache invalidates on write.", answer.Answer)
	assert.Equal(t, "claude-3-5-haiku", answer.Model)
	assert.Equal(t, "claude-3-5-haiku", provider.lastReq.Model)
	assert.Equal(t, 512, provider.lastReq.MaxTokens)
	assert.InDelta(t, 0.4, provider.lastReq.Temperature, 1e-9)
	assert.False(t, provider.lastReq.JSONMode)
	assert.Contains(t, provider.lastReq.UserPrompt, "When does the cache invalidate?")
	assert.NotEmpty(t, provider.lastReq.SystemPrompt)
}

func TestAskFallsBackToDefaultModel(t *testing.T) {
	provider := &fakeLLM{response: "ok"}
	svc := NewService(provider, testQAConfig(), common.PublisherDefault{ChatModel: "gemini-2.0-flash"}, arbor.NewLogger())

	answer, err := svc.Ask(context.Background(), chatPublisher("pub-1", ""), "anything?")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", answer.Model)
}

func TestAskRateLimitsPerPublisher(t *testing.T) {
	provider := &fakeLLM{response: "ok"}
	svc := NewService(provider, testQAConfig(), common.PublisherDefault{}, arbor.NewLogger())

	first := chatPublisher("pub-1", "gpt-4o-mini")
	for i := 0; i < 2; i++ {
		_, err := svc.Ask(context.Background(), first, "q?")
		require.NoError(t, err)
	}
	_, err := svc.Ask(context.Background(), first, "q?")
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Equal(t, 2, provider.calls)

	// A different publisher draws from its own bucket.
	_, err = svc.Ask(context.Background(), chatPublisher("pub-2", "gpt-4o-mini"), "q?")
	assert.NoError(t, err)
}

func TestAskValidatesQuestion(t *testing.T) {
	provider := &fakeLLM{response: "ok"}
	svc := NewService(provider, testQAConfig(), common.PublisherDefault{}, arbor.NewLogger())

	_, err := svc.Ask(context.Background(), chatPublisher("pub-1", "gpt-4o-mini"), "   ")
	assert.Error(t, err)

	_, err = svc.Ask(context.Background(), chatPublisher("pub-1", "gpt-4o-mini"), strings.Repeat("x", maxQuestionLength+1))
	assert.Error(t, err)

	// Neither consumed a rate limit slot or reached the provider.
	assert.Equal(t, 0, provider.calls)
}

func TestAskPropagatesCompletionError(t *testing.T) {
	provider := &fakeLLM{err: fmt.Errorf("upstream unavailable")}
	svc := NewService(provider, testQAConfig(), common.PublisherDefault{}, arbor.NewLogger())

	_, err := svc.Ask(context.Background(), chatPublisher("pub-1", "gpt-4o-mini"), "q?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream unavailable")
}
