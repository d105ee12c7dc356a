// Package embedding turns text into vectors through an external embedding service.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Providers understood by New.
const (
	ProviderBedrock = "bedrock"
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderMock    = "mock"
)

func checkDimensions(v []float32, want int) error {
	if want > 0 && len(v) != want {
		return fmt.Errorf("dimension mismatch: got %d, want %d", len(v), want)
	}
	return nil
}
