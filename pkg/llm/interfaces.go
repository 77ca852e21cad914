// Package llm adapts language model providers to the query pipeline: a
// text-in/text-out client per provider and an Oracle that adds timeouts,
// a circuit breaker and JSON envelope extraction.
package llm

import (
	"context"
)

// LLMClient is a chat completion provider.
type LLMClient interface {
	// GenerateResponse sends one system message and one user prompt.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Embedder creates embedding vectors, one per input.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error)
}

// GenerateResponseResult is a completion with its token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ Embedder  = (*Client)(nil)
)
