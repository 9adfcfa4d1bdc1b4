package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"google.golang.org/genai"
)

// GeminiProvider implements the LLMProvider interface using the Google
// Gemini API. The only provider with web-search grounding.
type GeminiProvider struct {
	client    *genai.Client
	logger    arbor.ILogger
	embedDims int
}

// NewGeminiProvider creates a Gemini provider. embedDims is the output
// dimensionality requested on embedding calls; zero leaves the model
// default.
func NewGeminiProvider(ctx context.Context, apiKey string, embedDims int, logger arbor.ILogger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or llm.gemini.api_key)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Debug().
		Int("embed_dims", embedDims).
		Msg("Gemini provider initialized")

	return &GeminiProvider{
		client:    client,
		logger:    logger,
		embedDims: embedDims,
	}, nil
}

// Name identifies the provider in logs and results.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete executes a single chat completion, optionally grounded in
// Google Search results.
func (p *GeminiProvider) Complete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	contents := []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(req.UserPrompt)},
		},
	}

	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.UseGrounding {
		config.Tools = []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		}
	}
	// Search grounding cannot be combined with a JSON response MIME
	// type; grounded requests lean on the prompt and the repair pass.
	if req.JSONMode && !req.UseGrounding {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini completion failed: %w", err)
	}

	// Iterate candidates until non-empty text is found.
	var response strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}
	if response.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Gemini API")
	}

	return &interfaces.CompletionResult{
		Text:     response.String(),
		Model:    req.Model,
		Provider: p.Name(),
	}, nil
}

// Embed generates one vector per input text, in input order.
func (p *GeminiProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty for embedding generation")
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{}
	if p.embedDims > 0 {
		outputDim := int32(p.embedDims)
		config.OutputDimensionality = &outputDim
	}

	result, err := p.client.Models.EmbedContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini embedding failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), got)
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned for text %d", i)
		}
		vectors[i] = emb.Values
	}

	return vectors, nil
}

// SupportsGrounding reports web-search grounding capability.
func (p *GeminiProvider) SupportsGrounding() bool {
	return true
}
