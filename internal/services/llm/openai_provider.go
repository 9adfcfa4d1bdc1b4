package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
)

// OpenAIProvider implements the LLMProvider interface using the OpenAI
// API. It serves both chat completions and the deployment's embedding
// model.
type OpenAIProvider struct {
	client    openai.Client
	logger    arbor.ILogger
	embedDims int
}

// NewOpenAIProvider creates an OpenAI provider. embedDims is the
// output dimensionality requested on embedding calls; zero leaves the
// model default.
func NewOpenAIProvider(apiKey string, embedDims int, logger arbor.ILogger) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY or llm.openai.api_key)")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	logger.Debug().
		Int("embed_dims", embedDims).
		Msg("OpenAI provider initialized")

	return &OpenAIProvider{
		client:    client,
		logger:    logger,
		embedDims: embedDims,
	}, nil
}

// Name identifies the provider in logs and results.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete executes a single chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response generated from OpenAI API")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		p.logger.Warn().
			Str("model", req.Model).
			Int("max_tokens", req.MaxTokens).
			Msg("OpenAI response truncated at max_tokens")
	}

	return &interfaces.CompletionResult{
		Text:     choice.Message.Content,
		Model:    req.Model,
		Provider: p.Name(),
	}, nil
}

// Embed generates one vector per input text, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty for embedding generation")
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if p.embedDims > 0 {
		params.Dimensions = openai.Int(int64(p.embedDims))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI embedding failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}

	return vectors, nil
}

// SupportsGrounding reports web-search grounding capability. The chat
// completions API has no search grounding.
func (p *OpenAIProvider) SupportsGrounding() bool {
	return false
}
