package embedding

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/config"
	"github.com/hyperjump/compliagent/internal/retry"
)

// New builds the configured embedder, rate limited and wrapped in a cache.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	limiter := retry.NewLimiter(cfg.RequestsPerSecond, 1)
	var base Embedder
	switch cfg.Provider {
	case ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		base = NewBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), cfg.Model, cfg.Dimensions,
			WithLimiter(limiter), WithLogger(logger))
	case ProviderOllama:
		e, err := NewOllamaEmbedder(cfg.Model, cfg.BaseURL, cfg.Dimensions, limiter)
		if err != nil {
			return nil, err
		}
		base = e
	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(cfg.Model, cfg.APIKey, cfg.BaseURL, cfg.Dimensions, limiter)
		if err != nil {
			return nil, err
		}
		base = e
	case ProviderMock:
		base = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	return NewCachedEmbedder(base, cfg.CacheSize)
}
