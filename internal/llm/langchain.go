package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/retry"
)

// LangchainGenerator serves completions from Ollama, OpenAI or Anthropic through langchaingo.
type LangchainGenerator struct {
	llm       llms.Model
	modelName string
	limiter   *retry.Limiter
}

// NewOllamaGenerator creates a generator backed by an Ollama server.
func NewOllamaGenerator(model, serverURL string, limiter *retry.Limiter) (*LangchainGenerator, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &LangchainGenerator{llm: m, modelName: model, limiter: limiter}, nil
}

// NewOpenAIGenerator creates a generator backed by the OpenAI API.
func NewOpenAIGenerator(model, apiKey, baseURL string, limiter *retry.Limiter) (*LangchainGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return &LangchainGenerator{llm: m, modelName: model, limiter: limiter}, nil
}

// NewAnthropicGenerator creates a generator backed by the Anthropic API.
func NewAnthropicGenerator(model, apiKey string, limiter *retry.Limiter) (*LangchainGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key required")
	}
	m, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create anthropic client: %w", err)
	}
	return &LangchainGenerator{llm: m, modelName: model, limiter: limiter}, nil
}

// Generate sends the system and user messages and returns the first choice.
func (g *LangchainGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	var opts []llms.CallOption
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	opts = append(opts, llms.WithTemperature(req.Temperature))

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fault.Transient("generate", err)
	}
	response, err := g.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if fault.IsTransient(err) {
			g.limiter.Throttled(0)
			return "", fault.Transient("generate", err)
		}
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fault.Unclassified("generate", fmt.Errorf("no response choices"))
	}
	return response.Choices[0].Content, nil
}

// Model returns the model name.
func (g *LangchainGenerator) Model() string { return g.modelName }
