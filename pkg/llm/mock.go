package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockLLMClient is a configurable client for tests. Set the function fields
// to control behavior; with none set, Responses are returned in order.
type MockLLMClient struct {
	// GenerateResponseFunc takes precedence over Responses.
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	CreateEmbeddingsFunc func(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// Responses are returned one per call; the last one repeats.
	Responses []string

	Model    string
	Endpoint string

	mu      sync.Mutex
	prompts []string
}

// NewMockLLMClient creates a mock that answers with responses in order.
func NewMockLLMClient(responses ...string) *MockLLMClient {
	return &MockLLMClient{
		Responses: responses,
		Model:     "mock-model",
		Endpoint:  "http://mock-endpoint",
	}
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	m.mu.Lock()
	n := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
	}
	if len(m.Responses) == 0 {
		return nil, fmt.Errorf("mock: no response configured")
	}
	return &GenerateResponseResult{Content: m.Responses[min(n, len(m.Responses)-1)]}, nil
}

// CreateEmbeddings implements Embedder.
func (m *MockLLMClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	if m.CreateEmbeddingsFunc != nil {
		return m.CreateEmbeddingsFunc(ctx, inputs, model)
	}
	return nil, fmt.Errorf("mock: embeddings not configured")
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	return m.Model
}

// GetEndpoint implements LLMClient.
func (m *MockLLMClient) GetEndpoint() string {
	return m.Endpoint
}

// Calls returns how many completions were requested.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns the user prompts received, in order.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

var (
	_ LLMClient = (*MockLLMClient)(nil)
	_ Embedder  = (*MockLLMClient)(nil)
)
