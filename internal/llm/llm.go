// Package llm calls the reasoning model that finds compliance gaps and drafts policy amendments.
package llm

import "context"

// Supported providers.
const (
	ProviderBedrock   = "bedrock"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Generator returns the model's text answer to a request. Implementations classify
// failures with the fault package so callers can retry throttling.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}

// MockGenerator answers every request with a fixed response. It lets the server run
// without model credentials.
type MockGenerator struct {
	Response string
}

// Generate returns the fixed response, or an empty JSON array when none is set.
func (m *MockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Response == "" {
		return "[]", nil
	}
	return m.Response, nil
}

// Model returns "mock".
func (m *MockGenerator) Model() string { return ProviderMock }
