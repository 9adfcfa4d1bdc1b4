package interfaces

import (
	"context"
)

// CompletionRequest describes one chat-completion call. The model
// string decides which provider handles the request.
type CompletionRequest struct {
	// Model is the provider-specific model identifier
	// (e.g. "gpt-4o-mini", "claude-3-5-haiku-latest", "gemini-2.0-flash")
	Model string

	// SystemPrompt carries the schema-bearing instructions. It is never
	// overridden by publisher customization.
	SystemPrompt string

	// UserPrompt carries the content to work on plus any publisher
	// custom instructions merged at user level.
	UserPrompt string

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int

	// Temperature controls sampling. The zero value is sent as-is, so
	// callers should populate it from config defaults.
	Temperature float64

	// JSONMode requests a JSON-object response where the provider
	// supports native enforcement. Output is still parse-validated.
	JSONMode bool

	// UseGrounding enables provider web-search grounding. Silently
	// ignored when the resolved provider has no grounding support.
	UseGrounding bool
}

// CompletionResult is the raw provider response before any JSON
// parsing or repair.
type CompletionResult struct {
	Text     string
	Model    string
	Provider string
}

// LLMService dispatches completion and embedding calls to the provider
// a model name resolves to. Implementations retry transient failures
// with exponential backoff before surfacing an error.
//
// Model dispatch rules:
//   - gpt-*, o*, chatgpt-*, text-embedding-*, openai/* -> OpenAI
//   - claude-*, anthropic/* -> Anthropic
//   - gemini-*, models/gemini*, google/* -> Gemini
//   - anything else -> configured default provider
type LLMService interface {
	// Complete executes a chat completion on the provider resolved from
	// req.Model.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// GenerateJSON executes a completion in JSON mode and unmarshals the
	// response into out. Markdown fences are stripped and one repair
	// attempt is made on malformed output before the call fails.
	GenerateJSON(ctx context.Context, req CompletionRequest, out interface{}) error

	// Embed generates embedding vectors for the given texts using the
	// configured embedding model. Order is preserved; one vector is
	// returned per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbeddingDimensions returns the vector width of the configured
	// embedding model.
	EmbeddingDimensions() int

	// SupportsGrounding reports whether the provider resolved from the
	// model name can ground responses in web search.
	SupportsGrounding(model string) bool

	// Close releases provider resources.
	Close() error
}

// LLMProvider is one upstream vendor binding (OpenAI, Anthropic,
// Gemini). The service routes to providers; providers own transport.
type LLMProvider interface {
	// Name identifies the provider in logs and results
	Name() string

	// Complete executes a single chat completion without retries.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// Embed generates one vector per input text. Providers without an
	// embedding API return an error.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)

	// SupportsGrounding reports web-search grounding capability.
	SupportsGrounding() bool
}
