package llm

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/config"
	"github.com/hyperjump/compliagent/internal/retry"
)

// New builds the configured generator behind a rate limiter.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Generator, error) {
	limiter := retry.NewLimiter(cfg.RequestsPerSecond, 1)
	switch cfg.Provider {
	case ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewBedrockGenerator(bedrockruntime.NewFromConfig(awsCfg), cfg.Model,
			WithLimiter(limiter), WithLogger(logger)), nil
	case ProviderOllama:
		return NewOllamaGenerator(cfg.Model, cfg.BaseURL, limiter)
	case ProviderOpenAI:
		return NewOpenAIGenerator(cfg.Model, cfg.APIKey, cfg.BaseURL, limiter)
	case ProviderAnthropic:
		return NewAnthropicGenerator(cfg.Model, cfg.APIKey, limiter)
	case ProviderMock:
		return &MockGenerator{}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
