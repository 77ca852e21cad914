package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/config"
)

// NewFromConfig creates the chat client for the configured provider.
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	clientCfg := &Config{
		Endpoint: cfg.BaseURL,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		client, err := NewClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	case "anthropic":
		client, err := NewAnthropicClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}

// NewEmbedderFromConfig creates the embedding client. Only OpenAI-compatible
// endpoints serve embeddings.
func NewEmbedderFromConfig(cfg config.LLMConfig, logger *zap.Logger) (Embedder, error) {
	if strings.EqualFold(cfg.Provider, "anthropic") {
		return nil, fmt.Errorf("embeddings are not available from the anthropic provider")
	}
	client, err := NewClient(&Config{
		Endpoint: cfg.BaseURL,
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}
