package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
)

// anthropicDefaultMaxTokens applies when a request carries no token
// cap. The Anthropic API requires max_tokens on every call.
const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements the LLMProvider interface using the
// Anthropic Claude API. Chat completions only: Anthropic exposes no
// embedding endpoint, so embedding calls are routed elsewhere.
type AnthropicProvider struct {
	client anthropic.Client
	logger arbor.ILogger
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(apiKey string, logger arbor.ILogger) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or llm.anthropic.api_key)")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	logger.Debug().Msg("Anthropic provider initialized")

	return &AnthropicProvider{
		client: client,
		logger: logger,
	}, nil
}

// Name identifies the provider in logs and results.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete executes a single chat completion. JSON mode has no native
// enforcement here; the prompt instruction plus response repair carry
// that requirement.
func (p *AnthropicProvider) Complete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Anthropic completion failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}
	if response.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Anthropic API")
	}

	if string(resp.StopReason) == "max_tokens" {
		p.logger.Warn().
			Str("model", req.Model).
			Int("max_tokens", maxTokens).
			Msg("Anthropic response truncated at max_tokens")
	}

	return &interfaces.CompletionResult{
		Text:     response.String(),
		Model:    req.Model,
		Provider: p.Name(),
	}, nil
}

// Embed always fails: the Anthropic API has no embedding endpoint.
func (p *AnthropicProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic provider has no embedding API; configure an OpenAI or Gemini embedding model")
}

// SupportsGrounding reports web-search grounding capability.
func (p *AnthropicProvider) SupportsGrounding() bool {
	return false
}
