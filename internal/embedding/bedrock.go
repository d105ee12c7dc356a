package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/retry"
)

// InvokeAPI is the subset of the Bedrock runtime client used here.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockEmbedder calls a Titan text embedding model, one text per request.
type BedrockEmbedder struct {
	client     InvokeAPI
	model      string
	dimensions int
	limiter    *retry.Limiter
	logger     *zap.Logger
}

// BedrockOption configures a BedrockEmbedder.
type BedrockOption func(*BedrockEmbedder)

// WithLimiter throttles requests.
func WithLimiter(l *retry.Limiter) BedrockOption {
	return func(e *BedrockEmbedder) { e.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BedrockOption {
	return func(e *BedrockEmbedder) { e.logger = l }
}

// NewBedrockEmbedder creates an embedder for model.
func NewBedrockEmbedder(client InvokeAPI, model string, dimensions int, opts ...BedrockOption) *BedrockEmbedder {
	e := &BedrockEmbedder{client: client, model: model, dimensions: dimensions, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns the embedding of text. Failures are classified so callers can retry throttling.
func (e *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanRequest{InputText: text})
	if err != nil {
		return nil, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fault.Transient("embed", err)
	}
	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if fault.IsTransient(err) {
			e.limiter.Throttled(0)
			return nil, fault.Transient("embed", err)
		}
		return nil, fmt.Errorf("embed: %w", err)
	}
	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fault.Unclassified("embed", fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Embedding) == 0 {
		return nil, fault.Unclassified("embed", fmt.Errorf("no embedding returned"))
	}
	if err := checkDimensions(resp.Embedding, e.dimensions); err != nil {
		return nil, fault.Unclassified("embed", err)
	}
	e.logger.Debug("embedded text", zap.String("model", e.model), zap.Int("tokens", resp.InputTextTokenCount))
	return resp.Embedding, nil
}

// EmbedBatch embeds texts sequentially; the Titan API takes one input per request.
func (e *BedrockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured embedding size.
func (e *BedrockEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *BedrockEmbedder) Close() error { return nil }
