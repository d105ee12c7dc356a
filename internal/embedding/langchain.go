package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/retry"
)

// LangchainEmbedder serves embeddings from Ollama or OpenAI through langchaingo.
type LangchainEmbedder struct {
	model      embeddings.Embedder
	modelName  string
	dimensions int
	limiter    *retry.Limiter
}

// NewOllamaEmbedder creates an embedder backed by an Ollama server.
func NewOllamaEmbedder(model, serverURL string, dimensions int, limiter *retry.Limiter) (*LangchainEmbedder, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &LangchainEmbedder{model: emb, modelName: model, dimensions: dimensions, limiter: limiter}, nil
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(model, apiKey, baseURL string, dimensions int, limiter *retry.Limiter) (*LangchainEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithEmbeddingModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}
	return &LangchainEmbedder{model: emb, modelName: model, dimensions: dimensions, limiter: limiter}, nil
}

// Embed returns the embedding of text.
func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedBatch embeds texts in one request.
func (e *LangchainEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fault.Transient("embed batch", err)
	}
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		if fault.IsTransient(err) {
			return nil, fault.Transient("embed batch", err)
		}
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fault.Unclassified("embed batch", fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts)))
	}
	for i, v := range vectors {
		if err := checkDimensions(v, e.dimensions); err != nil {
			return nil, fault.Unclassified("embed batch", fmt.Errorf("embedding %d: %w", i, err))
		}
	}
	return vectors, nil
}

// Dimensions returns the configured embedding size.
func (e *LangchainEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *LangchainEmbedder) Close() error { return nil }
